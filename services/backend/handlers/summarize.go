// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/DentalAssistant/services/backend/apperrors"
	"github.com/AleutianAI/DentalAssistant/services/backend/audit"
	"github.com/AleutianAI/DentalAssistant/services/backend/datatypes"
	"github.com/AleutianAI/DentalAssistant/services/backend/middleware"
	"github.com/AleutianAI/DentalAssistant/services/backend/observability"
	"github.com/AleutianAI/DentalAssistant/services/backend/scheduler"
	"github.com/AleutianAI/DentalAssistant/services/backend/services"
)

// summarizeAction picks the audit action for the plain vs RAG variants.
func summarizeAction(useRAG bool) audit.Action {
	if useRAG {
		return audit.ActionSummarizeRAG
	}
	return audit.ActionSummarize
}

// HandleSummarize returns the unary summarization handler.
//
// The scheduler's overloaded flag is consulted before the body is even
// parsed so load is shed at the edge with the same busy error the
// scheduler would return.
func HandleSummarize(svc *services.SmartNoteService, auditLog *audit.Log, useRAG bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		action := summarizeAction(useRAG)

		if svc.Overloaded(scheduler.QueueGenerate) {
			respondError(c, apperrors.New(apperrors.KindInferenceBusy, "generate queue saturated"))
			_ = auditLog.Record(action, "", "transcription", middleware.RequestId(c),
				audit.OutcomeFailure, "busy")
			return
		}

		var req datatypes.SummaryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, apperrors.Wrap(apperrors.KindInputInvalid, err))
			_ = auditLog.Record(action, "", "transcription", middleware.RequestId(c),
				audit.OutcomeFailure, "invalid body")
			return
		}

		var result *services.GenerationResult
		var err error
		if useRAG {
			result, err = svc.SummarizeRAG(c.Request.Context(), req.Text, middleware.RequestId(c))
		} else {
			result, err = svc.Summarize(c.Request.Context(), req.Text, middleware.RequestId(c))
		}
		if err != nil {
			respondError(c, err)
			_ = auditLog.Record(action, "", "transcription", middleware.RequestId(c),
				audit.OutcomeFailure, apperrors.From(err).Error())
			return
		}

		_ = auditLog.Record(action, "", "transcription", middleware.RequestId(c),
			audit.OutcomeSuccess, "")

		resp := datatypes.SummaryResponse{
			Summary:   result.Summary,
			RequestId: middleware.RequestId(c),
		}
		if useRAG {
			ragEnhanced := result.RagEnhanced
			resp.RagEnhanced = &ragEnhanced
			resp.SourcesUsed = result.SourcesUsed
		}
		c.JSON(http.StatusOK, resp)
	}
}

// HandleSummarizeStream returns the SSE summarization handler.
//
// Wire protocol: one {"rag_enhanced": bool} event, {"chunk": ...}
// events, then either the [DONE] sentinel or a terminal error event.
// The audit entry is written after the stream ends so its outcome
// reflects reality, including a mid-stream client disconnect.
func HandleSummarizeStream(svc *services.SmartNoteService, auditLog *audit.Log, useRAG bool) gin.HandlerFunc {
	endpoint := "/summarize-stream"
	if useRAG {
		endpoint = "/summarize-stream-rag"
	}

	return func(c *gin.Context) {
		action := summarizeAction(useRAG)

		if svc.Overloaded(scheduler.QueueGenerate) {
			respondError(c, apperrors.New(apperrors.KindInferenceBusy, "generate queue saturated"))
			_ = auditLog.Record(action, "", "transcription", middleware.RequestId(c),
				audit.OutcomeFailure, "busy")
			return
		}

		var req datatypes.SummaryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, apperrors.Wrap(apperrors.KindInputInvalid, err))
			_ = auditLog.Record(action, "", "transcription", middleware.RequestId(c),
				audit.OutcomeFailure, "invalid body")
			return
		}

		SetSSEHeaders(c.Writer)
		writer, err := NewSSEWriter(c.Writer)
		if err != nil {
			respondError(c, apperrors.Wrap(apperrors.KindSystemInternal, err))
			return
		}

		metrics := observability.DefaultMetrics
		if metrics != nil {
			metrics.ActiveStreams.WithLabelValues(endpoint).Inc()
		}
		start := time.Now()

		streamErr := svc.SummarizeStream(c.Request.Context(), req.Text,
			middleware.RequestId(c), useRAG, &sseEmitter{writer: writer})

		success := streamErr == nil
		if metrics != nil {
			metrics.ActiveStreams.WithLabelValues(endpoint).Dec()
			status := "success"
			if !success {
				status = "error"
			}
			metrics.StreamDurationSeconds.WithLabelValues(endpoint, status).
				Observe(time.Since(start).Seconds())
		}

		if streamErr != nil {
			appErr := apperrors.From(streamErr)
			middleware.SetErrorCode(c, string(appErr.Kind))

			detail := appErr.Error()
			if appErr.Kind == apperrors.KindInferenceCancelled ||
				appErr.Kind == apperrors.KindSystemDisconnected {
				detail = "cancelled"
				if metrics != nil {
					metrics.ClientDisconnectsTotal.WithLabelValues(endpoint).Inc()
				}
			} else {
				// Only reachable when the stream is still writable.
				_ = writer.WriteError(string(appErr.Kind), appErr.Message())
			}

			_ = auditLog.Record(action, "", "transcription", middleware.RequestId(c),
				audit.OutcomeFailure, detail)
			return
		}

		_ = writer.WriteDone()
		_ = auditLog.Record(action, "", "transcription", middleware.RequestId(c),
			audit.OutcomeSuccess, "")
	}
}

// sseEmitter adapts SSEWriter to the pipeline's StreamEmitter.
type sseEmitter struct {
	writer SSEWriter
}

func (e *sseEmitter) Meta(ragEnhanced bool) error { return e.writer.WriteMeta(ragEnhanced) }
func (e *sseEmitter) Chunk(content string) error  { return e.writer.WriteChunk(content) }

var _ services.StreamEmitter = (*sseEmitter)(nil)
