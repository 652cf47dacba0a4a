// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services provides the business logic of the backend, separated
// from HTTP handlers.
//
// SmartNoteService orchestrates the user-visible pipeline:
// transcription -> retrieval -> generation -> persistence. It owns no
// model backends directly; all expensive calls go through the scheduler
// so the thread-hostile runtimes are never touched concurrently.
package services

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/DentalAssistant/pkg/validation"
	"github.com/AleutianAI/DentalAssistant/services/backend/apperrors"
	"github.com/AleutianAI/DentalAssistant/services/backend/datatypes"
	"github.com/AleutianAI/DentalAssistant/services/backend/rag"
	"github.com/AleutianAI/DentalAssistant/services/backend/scheduler"
	"github.com/AleutianAI/DentalAssistant/services/llm"
)

var smartNoteTracer = otel.Tracer("dental.backend.services.smartnote")

// generationParams are the defaults tuned for clinical notes: low
// temperature for deterministic output, Llama-3 stop tokens.
func generationParams() llm.GenerationParams {
	temperature := float32(0.3)
	topK := 40
	topP := float32(0.9)
	maxTokens := 800
	return llm.GenerationParams{
		Temperature: &temperature,
		TopK:        &topK,
		TopP:        &topP,
		MaxTokens:   &maxTokens,
		Stop:        []string{"<|eot_id|>", "<|end_of_text|>"},
	}
}

// StreamEmitter receives pipeline stream events in order: exactly one
// Meta call first, then Chunk per token. The terminal sentinel is the
// HTTP layer's business.
type StreamEmitter interface {
	Meta(ragEnhanced bool) error
	Chunk(content string) error
}

// SmartNoteService coordinates transcription, retrieval, generation and
// persistence.
//
// # Thread Safety
//
// Safe for concurrent use; all state is either immutable after
// construction or internally synchronised.
type SmartNoteService struct {
	sched        *scheduler.Scheduler
	generator    llm.Generator
	speech       llm.SpeechRecognizer
	coordinator  *rag.Coordinator
	maxTextChars int
	retrieveTopK int

	// transcribeGroup single-flights identical uploads: a client that
	// retries during a transient error must not re-run the recogniser.
	transcribeGroup singleflight.Group
}

// NewSmartNoteService wires the pipeline dependencies.
func NewSmartNoteService(
	sched *scheduler.Scheduler,
	generator llm.Generator,
	speech llm.SpeechRecognizer,
	coordinator *rag.Coordinator,
	maxTextChars int,
	retrieveTopK int,
) *SmartNoteService {
	if maxTextChars <= 0 {
		maxTextChars = 50000
	}
	if retrieveTopK <= 0 {
		retrieveTopK = 4
	}
	return &SmartNoteService{
		sched:        sched,
		generator:    generator,
		speech:       speech,
		coordinator:  coordinator,
		maxTextChars: maxTextChars,
		retrieveTopK: retrieveTopK,
	}
}

// =============================================================================
// Transcription
// =============================================================================

// Transcribe converts an uploaded audio file to text through the speech
// queue.
//
// Calls are single-flighted on (audio digest, language hint): a retry
// dispatched while the original upload is still in flight joins it and
// receives the same result with exactly one backend call. Completed
// calls are not cached — a deliberate re-transcription runs again.
func (s *SmartNoteService) Transcribe(ctx context.Context, audioPath, audioDigest, language string) (string, error) {
	ctx, span := smartNoteTracer.Start(ctx, "SmartNoteService.Transcribe")
	defer span.End()
	span.SetAttributes(attribute.String("audio.digest", audioDigest))

	key := audioDigest + "|" + language
	value, err, shared := s.transcribeGroup.Do(key, func() (any, error) {
		fut, err := s.sched.Submit(ctx, scheduler.QueueSpeech, func(workCtx context.Context) (any, error) {
			return s.speech.Transcribe(workCtx, audioPath, language)
		})
		if err != nil {
			return nil, err
		}
		return fut.Wait()
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if shared {
		slog.Info("Transcription joined in-flight duplicate", "digest", audioDigest)
	}
	return value.(string), nil
}

// =============================================================================
// Unary Summarization
// =============================================================================

// GenerationResult is the outcome of a summarization call.
type GenerationResult struct {
	Summary     string
	RagEnhanced bool
	SourcesUsed int
}

// Summarize generates a SmartNote from transcribed text (plain path).
func (s *SmartNoteService) Summarize(ctx context.Context, text, correlationId string) (*GenerationResult, error) {
	return s.summarize(ctx, text, correlationId, false)
}

// SummarizeRAG generates a RAG-augmented SmartNote. If retrieval fails
// or yields nothing the plain path is used and RagEnhanced is false.
func (s *SmartNoteService) SummarizeRAG(ctx context.Context, text, correlationId string) (*GenerationResult, error) {
	return s.summarize(ctx, text, correlationId, true)
}

func (s *SmartNoteService) summarize(ctx context.Context, text, correlationId string, useRAG bool) (*GenerationResult, error) {
	ctx, span := smartNoteTracer.Start(ctx, "SmartNoteService.summarize")
	defer span.End()
	span.SetAttributes(attribute.Bool("rag.requested", useRAG))

	sanitized := validation.SanitizeText(text, s.maxTextChars)
	if sanitized == "" {
		return nil, apperrors.New(apperrors.KindInputEmpty, "")
	}

	prompt, passages := s.buildPrompt(ctx, sanitized, useRAG)

	fut, err := s.sched.Submit(ctx, scheduler.QueueGenerate, func(workCtx context.Context) (any, error) {
		return s.generator.Generate(workCtx, prompt, generationParams())
	})
	if err != nil {
		return nil, err
	}
	value, err := fut.Wait()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	summary := value.(string)
	s.persistGenerated(ctx, correlationId, summary, sanitized)

	return &GenerationResult{
		Summary:     summary,
		RagEnhanced: len(passages) > 0,
		SourcesUsed: len(passages),
	}, nil
}

// =============================================================================
// Streaming Summarization
// =============================================================================

// SummarizeStream generates a SmartNote token by token.
//
// The emitter receives one Meta event (rag_enhanced) before any tokens.
// A client disconnect cancels the underlying submission; the partial
// note is then discarded, never persisted — it was never delivered.
func (s *SmartNoteService) SummarizeStream(ctx context.Context, text, correlationId string, useRAG bool, emitter StreamEmitter) error {
	ctx, span := smartNoteTracer.Start(ctx, "SmartNoteService.SummarizeStream")
	defer span.End()
	span.SetAttributes(attribute.Bool("rag.requested", useRAG))

	sanitized := validation.SanitizeText(text, s.maxTextChars)
	if sanitized == "" {
		return apperrors.New(apperrors.KindInputEmpty, "")
	}

	prompt, passages := s.buildPrompt(ctx, sanitized, useRAG)
	if err := emitter.Meta(len(passages) > 0); err != nil {
		return apperrors.Wrap(apperrors.KindSystemDisconnected, err)
	}

	var full []byte
	fut, err := s.sched.Submit(ctx, scheduler.QueueGenerate, func(workCtx context.Context) (any, error) {
		streamErr := s.generator.GenerateStream(workCtx, prompt, generationParams(), func(event llm.StreamEvent) error {
			if event.Type != llm.StreamEventToken {
				return nil
			}
			full = append(full, event.Content...)
			return emitter.Chunk(event.Content)
		})
		return nil, streamErr
	})
	if err != nil {
		return err
	}
	if _, err := fut.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	s.persistGenerated(ctx, correlationId, string(full), sanitized)
	return nil
}

// =============================================================================
// Internal
// =============================================================================

// buildPrompt retrieves knowledge context when requested and available,
// falling back to the plain prompt on any retrieval problem.
func (s *SmartNoteService) buildPrompt(ctx context.Context, sanitized string, useRAG bool) (string, []datatypes.Passage) {
	if !useRAG || s.coordinator == nil {
		return BuildSmartNotePrompt(sanitized), nil
	}

	status := s.coordinator.Status()
	if !status.Ready || status.KnowledgeCount == 0 {
		return BuildSmartNotePrompt(sanitized), nil
	}

	passages, err := s.coordinator.RetrieveContext(ctx, sanitized, s.retrieveTopK)
	if err != nil {
		slog.Warn("Knowledge retrieval failed, using plain prompt", "error", err)
		return BuildSmartNotePrompt(sanitized), nil
	}
	if len(passages) == 0 {
		return BuildSmartNotePrompt(sanitized), nil
	}
	return BuildRAGSmartNotePrompt(sanitized, passages), passages
}

// persistGenerated saves a completed note to the consultation archive.
// A save failure is logged only (it is not counted in metrics and not
// audited) and never fails the user-visible call: the note is returned
// or has been streamed regardless.
func (s *SmartNoteService) persistGenerated(ctx context.Context, correlationId, note, transcription string) {
	if s.coordinator == nil || note == "" {
		return
	}

	// The save is detached from the request's cancellation so a client
	// that goes away after the note is complete does not abort it.
	record := datatypes.NewConsultationRecord(correlationId, note, transcription, "", "", "")
	if err := s.coordinator.SaveConsultation(context.WithoutCancel(ctx), record); err != nil {
		slog.Error("Failed to persist generated note",
			"correlation_id", correlationId,
			"digest", record.Digest,
			"error", err)
	}
}

// SaveConsultation persists a caller-supplied note (the
// /consultations/save surface, where the dentist may have edited the
// generated text before filing it).
func (s *SmartNoteService) SaveConsultation(ctx context.Context, correlationId string, req datatypes.SaveConsultationRequest) (datatypes.ConsultationRecord, error) {
	record := datatypes.NewConsultationRecord(
		correlationId,
		req.SmartNote,
		req.Transcription,
		req.DentistName,
		req.ConsultationType,
		req.PatientId,
	)
	if err := s.coordinator.SaveConsultation(ctx, record); err != nil {
		return datatypes.ConsultationRecord{}, err
	}
	return record, nil
}

// SearchConsultations runs a sanitised semantic search with top_k
// clamped to [1, 50].
func (s *SmartNoteService) SearchConsultations(ctx context.Context, query string, topK int) ([]datatypes.SearchResult, error) {
	sanitized := validation.SanitizeText(query, 500)
	if sanitized == "" {
		return nil, apperrors.New(apperrors.KindInputEmpty, "search query is empty or invalid")
	}
	return s.coordinator.SearchConsultations(ctx, sanitized, validation.ClampTopK(topK))
}

// QueueSnapshot exposes the scheduler status for handlers.
func (s *SmartNoteService) QueueSnapshot() map[scheduler.Queue]scheduler.QueueStatus {
	return s.sched.Status()
}

// Overloaded reports whether the named queue would reject right now.
func (s *SmartNoteService) Overloaded(q scheduler.Queue) bool {
	return s.sched.Overloaded(q)
}

// RAGStatus exposes the coordinator status for handlers.
func (s *SmartNoteService) RAGStatus() rag.Status {
	if s.coordinator == nil {
		return rag.Status{}
	}
	return s.coordinator.Status()
}
