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
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter defines the contract for writing the summarization stream
// to an HTTP response.
//
// # Description
//
// The wire protocol is one `data: <json>` line per event, flushed
// immediately. Allowed payloads, in order:
//
//	{"rag_enhanced": bool}          once, first
//	{"chunk": "token text"}         many
//	{"error_code": ..., "message"}  at most one, terminal
//	[DONE]                          terminal sentinel, literal data line
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; tokens and keepalives
// may come from different goroutines.
//
// # Assumptions
//
//   - Caller has set SSE headers via SetSSEHeaders before the first write
type SSEWriter interface {
	// WriteMeta writes the initial {"rag_enhanced": bool} event.
	WriteMeta(ragEnhanced bool) error

	// WriteChunk writes one {"chunk": string} token event.
	WriteChunk(content string) error

	// WriteError writes the terminal error event. The stream must be
	// closed afterwards; the HTTP status has already been sent.
	WriteError(errorCode, message string) error

	// WriteDone writes the literal [DONE] sentinel.
	WriteDone() error
}

// =============================================================================
// Implementation
// =============================================================================

// sseWriter implements SSEWriter over an http.ResponseWriter.
type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewSSEWriter creates an SSEWriter for the given ResponseWriter.
// Returns an error if the writer does not support flushing.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

func (w *sseWriter) WriteMeta(ragEnhanced bool) error {
	return w.writeJSON(map[string]any{"rag_enhanced": ragEnhanced})
}

func (w *sseWriter) WriteChunk(content string) error {
	return w.writeJSON(map[string]any{"chunk": content})
}

func (w *sseWriter) WriteError(errorCode, message string) error {
	return w.writeJSON(map[string]any{"error_code": errorCode, "message": message})
}

func (w *sseWriter) WriteDone() error {
	return w.writeRaw("[DONE]")
}

func (w *sseWriter) writeJSON(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return w.writeRaw(string(data))
}

func (w *sseWriter) writeRaw(data string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// SetSSEHeaders configures the response for Server-Sent Events. Must be
// called before the first write.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ SSEWriter = (*sseWriter)(nil)
