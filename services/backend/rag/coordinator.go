// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rag

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/DentalAssistant/services/backend/apperrors"
	"github.com/AleutianAI/DentalAssistant/services/backend/audit"
	"github.com/AleutianAI/DentalAssistant/services/backend/datatypes"
	"github.com/AleutianAI/DentalAssistant/services/backend/observability"
)

var ragTracer = otel.Tracer("dental.backend.rag")

// embedBatchSize bounds how many texts go into one embed call during
// rebuild, keeping each scheduler submission short enough to cancel.
const embedBatchSize = 32

// EmbedFunc embeds a batch of texts. The backend wires this through the
// scheduler's embed queue so the coordinator never touches the model
// backends directly.
type EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)

// Status is the O(1) diagnostic snapshot served by GET /rag/status.
type Status struct {
	ConsultationsCount int  `json:"consultations_count"`
	KnowledgeCount     int  `json:"knowledge_count"`
	Ready              bool `json:"ready"`
}

// Coordinator combines the journal and the vector index.
//
// # Description
//
// The journal is authoritative; the index is a derived cache. On startup
// the coordinator validates the index against the journal and rebuilds
// it in the background when they disagree. Queries during a rebuild are
// served from whatever index state is present.
//
// # Thread Safety
//
// Safe for concurrent use. The index pointer is swapped under a write
// lock at the end of a rebuild; readers never observe a half-built
// index.
type Coordinator struct {
	journal   *Journal
	embed     EmbedFunc
	auditLog  *audit.Log
	indexPath string
	seed      []datatypes.KnowledgeDocument

	mu    sync.RWMutex
	index *Index // may be nil after a failed open, until rebuild completes

	ready      atomic.Bool
	rebuilding atomic.Bool

	group *errgroup.Group
}

// NewCoordinator wires the coordinator. seed is the knowledge corpus
// ingested on first run and re-ingested by every rebuild.
func NewCoordinator(journal *Journal, indexPath string, embed EmbedFunc, auditLog *audit.Log, seed []datatypes.KnowledgeDocument) *Coordinator {
	return &Coordinator{
		journal:   journal,
		embed:     embed,
		auditLog:  auditLog,
		indexPath: indexPath,
		seed:      seed,
		group:     &errgroup.Group{},
	}
}

// Start opens the index, decides whether a rebuild is needed, and kicks
// it off in the background. Never fails the process over index state;
// the worst case is an empty retrieval surface until the rebuild lands.
func (c *Coordinator) Start(ctx context.Context) error {
	journalLen, err := c.journal.Count()
	if err != nil {
		return err
	}

	idx, err := OpenIndex(c.indexPath)
	if err != nil {
		slog.Warn("Vector index failed validation, scheduling rebuild", "error", err)
		c.scheduleRebuild(ctx)
		return nil
	}

	c.mu.Lock()
	c.index = idx
	c.mu.Unlock()

	if idx.Count(KindConsultation) < journalLen {
		slog.Info("Vector index is behind the journal, scheduling rebuild",
			"indexed", idx.Count(KindConsultation), "journal", journalLen)
		c.scheduleRebuild(ctx)
		return nil
	}

	if len(c.seed) > 0 && idx.Count(KindKnowledge) == 0 {
		slog.Info("Seeding dental knowledge base", "documents", len(c.seed))
		if _, err := c.IngestKnowledge(ctx, c.seed); err != nil {
			slog.Warn("Knowledge seeding failed, retrieval will degrade to plain generation", "error", err)
		}
	}

	c.ready.Store(true)
	return nil
}

// Close waits for any background rebuild and releases the index.
func (c *Coordinator) Close() error {
	_ = c.group.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index != nil {
		return c.index.Close()
	}
	return nil
}

// =============================================================================
// Operations
// =============================================================================

// SaveConsultation persists a record: journal write first (the point of
// no return), then index upsert.
//
// An embedding or index failure after the journal write does not fail
// the call: the upsert is retried once, then deferred to the next
// rebuild with a metrics bump and a separate audit failure entry.
func (c *Coordinator) SaveConsultation(ctx context.Context, record datatypes.ConsultationRecord) error {
	ctx, span := ragTracer.Start(ctx, "Coordinator.SaveConsultation")
	defer span.End()
	span.SetAttributes(attribute.String("record.digest", record.Digest))

	if err := c.journal.Append(record); err != nil {
		return err
	}

	if err := c.indexConsultation(ctx, record); err != nil {
		if retryErr := c.indexConsultation(ctx, record); retryErr != nil {
			slog.Warn("Index upsert deferred to next rebuild",
				"digest", record.Digest, "error", retryErr)
			if m := observability.DefaultMetrics; m != nil {
				m.IndexDeferredUpsertsTotal.Inc()
			}
			if c.auditLog != nil {
				_ = c.auditLog.Record(audit.ActionConsultationSave, record.DentistName,
					"index:"+record.Digest, record.CorrelationId,
					audit.OutcomeFailure, "index upsert deferred: "+retryErr.Error())
			}
			c.ready.Store(false)
		}
	}
	return nil
}

// SearchConsultations embeds the query and returns the top-k past notes,
// newest first among score ties.
func (c *Coordinator) SearchConsultations(ctx context.Context, query string, k int) ([]datatypes.SearchResult, error) {
	ctx, span := ragTracer.Start(ctx, "Coordinator.SearchConsultations")
	defer span.End()

	idx := c.currentIndex()
	if idx == nil {
		return nil, nil
	}

	vectors, err := c.embed(ctx, []string{query})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInferenceRuntime, err)
	}

	hits := idx.Query(vectors[0], k, KindConsultation)
	results := make([]datatypes.SearchResult, 0, len(hits))
	for _, hit := range hits {
		results = append(results, datatypes.SearchResult{
			SmartNote:        hit.Meta["smartnote"],
			Transcription:    hit.Meta["transcription"],
			DentistName:      hit.Meta["dentist_name"],
			ConsultationType: hit.Meta["consultation_type"],
			PatientId:        hit.Meta["patient_id"],
			Date:             hit.Meta["date"],
			Score:            ClipScore(hit.Score),
		})
	}
	return results, nil
}

// RetrieveContext returns the top-k knowledge passages for a query.
// Consultations are never used as generation context.
func (c *Coordinator) RetrieveContext(ctx context.Context, query string, k int) ([]datatypes.Passage, error) {
	ctx, span := ragTracer.Start(ctx, "Coordinator.RetrieveContext")
	defer span.End()

	idx := c.currentIndex()
	if idx == nil || idx.Count(KindKnowledge) == 0 {
		return nil, nil
	}

	vectors, err := c.embed(ctx, []string{query})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInferenceRuntime, err)
	}

	hits := idx.Query(vectors[0], k, KindKnowledge)
	passages := make([]datatypes.Passage, 0, len(hits))
	for _, hit := range hits {
		passages = append(passages, datatypes.Passage{
			Source:  hit.Meta["source"],
			Section: hit.Meta["section"],
			Body:    hit.Text,
			Score:   ClipScore(hit.Score),
		})
	}
	return passages, nil
}

// IngestKnowledge chunks and indexes seed knowledge documents. Returns
// the number of chunks written. Knowledge is write-once; calling this
// twice with the same corpus upserts the same ids.
func (c *Coordinator) IngestKnowledge(ctx context.Context, docs []datatypes.KnowledgeDocument) (int, error) {
	idx := c.currentIndex()
	if idx == nil {
		return 0, fmt.Errorf("index unavailable")
	}
	return c.ingestKnowledgeInto(ctx, idx, docs)
}

// Status reports counts and readiness. O(1).
func (c *Coordinator) Status() Status {
	idx := c.currentIndex()
	st := Status{Ready: c.ready.Load()}
	if idx != nil {
		st.ConsultationsCount = idx.Count(KindConsultation)
		st.KnowledgeCount = idx.Count(KindKnowledge)
	}
	return st
}

// Ready reports whether index counts align with the journal.
func (c *Coordinator) Ready() bool { return c.ready.Load() }

// =============================================================================
// Internal
// =============================================================================

func (c *Coordinator) currentIndex() *Index {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index
}

// indexConsultation embeds and upserts one record.
func (c *Coordinator) indexConsultation(ctx context.Context, record datatypes.ConsultationRecord) error {
	idx := c.currentIndex()
	if idx == nil {
		return fmt.Errorf("index unavailable")
	}

	vectors, err := c.embed(ctx, []string{consultationContent(record)})
	if err != nil {
		return err
	}
	return idx.Upsert(consultationItem(record, vectors[0]))
}

// consultationContent combines note and transcription for richer
// semantic search, the same shape the note was displayed with.
func consultationContent(record datatypes.ConsultationRecord) string {
	if record.Transcription == "" {
		return record.SmartNote
	}
	return record.SmartNote + "\n\n---\nTranscription:\n" + record.Transcription
}

func consultationItem(record datatypes.ConsultationRecord, embedding []float32) Item {
	created := time.UnixMilli(record.CreatedAt).UTC()
	return Item{
		Id:        record.Digest,
		Kind:      KindConsultation,
		Text:      consultationContent(record),
		Embedding: embedding,
		Meta: map[string]string{
			"smartnote":         record.SmartNote,
			"transcription":     record.Transcription,
			"dentist_name":      record.DentistName,
			"consultation_type": record.ConsultationType,
			"patient_id":        record.PatientId,
			"correlation_id":    record.CorrelationId,
			"date":              created.Format(time.RFC3339),
			// Fixed width so lexicographic tie-breaks order by recency.
			"created_at": fmt.Sprintf("%013d", record.CreatedAt),
		},
	}
}

// ingestKnowledgeInto chunks docs to sentence groups and writes them to
// the given index (used both for live ingestion and rebuild staging).
func (c *Coordinator) ingestKnowledgeInto(ctx context.Context, idx *Index, docs []datatypes.KnowledgeDocument) (int, error) {
	written := 0
	for _, doc := range docs {
		chunks, err := ChunkKnowledge(doc.Body)
		if err != nil {
			return written, err
		}

		vectors, err := c.embed(ctx, chunks)
		if err != nil {
			return written, err
		}

		for i, chunk := range chunks {
			item := Item{
				Id:        fmt.Sprintf("%s#%d", doc.Id, i),
				Kind:      KindKnowledge,
				Text:      chunk,
				Embedding: vectors[i],
				Meta: map[string]string{
					"source":  doc.Source,
					"section": doc.Section,
				},
			}
			if err := idx.Upsert(item); err != nil {
				return written, err
			}
			written++
		}
	}
	return written, nil
}

// scheduleRebuild launches the background rebuild exactly once at a
// time.
func (c *Coordinator) scheduleRebuild(ctx context.Context) {
	if !c.rebuilding.CompareAndSwap(false, true) {
		return
	}
	c.ready.Store(false)
	c.group.Go(func() error {
		defer c.rebuilding.Store(false)
		if err := c.rebuild(ctx); err != nil {
			slog.Error("Index rebuild failed", "error", err)
			return nil // never poison the group; the next startup retries
		}
		return nil
	})
}

// rebuild streams the journal into a staged index and atomically swaps
// it in.
func (c *Coordinator) rebuild(ctx context.Context) error {
	ctx, span := ragTracer.Start(ctx, "Coordinator.rebuild")
	defer span.End()
	start := time.Now()

	records, err := c.journal.Scan()
	if err != nil {
		return err
	}

	// De-duplicate by digest; the journal tolerates duplicates on read.
	unique := make([]datatypes.ConsultationRecord, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if _, ok := seen[rec.Digest]; ok {
			continue
		}
		seen[rec.Digest] = struct{}{}
		unique = append(unique, rec)
	}

	scratchPath := c.indexPath + ".rebuild"
	if err := os.RemoveAll(scratchPath); err != nil {
		return err
	}
	scratch, err := OpenIndex(scratchPath)
	if err != nil {
		return err
	}

	// Embed in batches through the scheduler's embed queue.
	for batchStart := 0; batchStart < len(unique); batchStart += embedBatchSize {
		end := min(batchStart+embedBatchSize, len(unique))
		batch := unique[batchStart:end]

		texts := make([]string, len(batch))
		for i, rec := range batch {
			texts[i] = consultationContent(rec)
		}
		vectors, err := c.embed(ctx, texts)
		if err != nil {
			scratch.Close()
			return err
		}
		for i, rec := range batch {
			if err := scratch.Upsert(consultationItem(rec, vectors[i])); err != nil {
				scratch.Close()
				return err
			}
		}
	}

	if len(c.seed) > 0 {
		if _, err := c.ingestKnowledgeInto(ctx, scratch, c.seed); err != nil {
			scratch.Close()
			return err
		}
	}

	// Atomic swap: close both stores, rename the staged directory over
	// the live one, reopen. Readers block on the write lock for the
	// duration of the swap only.
	if err := scratch.Close(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.index != nil {
		if err := c.index.Close(); err != nil {
			return err
		}
		c.index = nil
	}
	if err := os.RemoveAll(c.indexPath); err != nil {
		return err
	}
	if err := os.Rename(scratchPath, c.indexPath); err != nil {
		return err
	}
	reopened, err := OpenIndex(c.indexPath)
	if err != nil {
		return err
	}
	c.index = reopened

	journalLen := len(unique)
	c.ready.Store(reopened.Count(KindConsultation) >= journalLen)

	slog.Info("Index rebuild complete",
		"consultations", reopened.Count(KindConsultation),
		"knowledge", reopened.Count(KindKnowledge),
		"elapsed", time.Since(start).Round(time.Millisecond).String(),
	)
	return nil
}
