// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging provides structured logging for the dental assistant
// backend.
//
// # Description
//
// The backend runs next to patient data, which gives its operational
// logs two constraints ordinary slog wiring does not cover:
//
//   - Log files live inside the per-user data directory and are created
//     owner-only (0600), like the audit trail. A log line that leaks a
//     patient identifier must not be world-readable.
//   - Clinical payload never reaches the operational log at all. The
//     handler redacts the values of known patient-data keys
//     (patient_id, transcription, smartnote, ...) before a record is
//     written anywhere. The audit trail (services/backend/audit) is the
//     one deliberate, access-controlled record of patient-touching
//     actions; slog is for operators.
//
// Output is JSON on stderr (the desktop shell captures it) plus a
// daily JSON file under the data directory's logs/ folder.
//
// # Usage
//
//	logger, err := logging.New(logging.Config{
//	    Level:   slog.LevelInfo,
//	    Dir:     cfg.LogsDir(),
//	    Service: "backend",
//	})
//	if err != nil { ... }
//	defer logger.Close()
//	slog.SetDefault(logger.Slog())
//
// # Thread Safety
//
// Safe for concurrent use; slog handlers serialise their own writes.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// redactedValue replaces the value of any patient-data attribute.
const redactedValue = "[REDACTED]"

// patientDataKeys are attribute keys whose values never reach the
// operational log. The set mirrors the request/record fields that can
// carry clinical content.
var patientDataKeys = map[string]bool{
	"patient_id":    true,
	"dentist_name":  true,
	"transcription": true,
	"smartnote":     true,
	"summary":       true,
	"text":          true,
	"query":         true,
	"prompt":        true,
}

// Config configures the backend logger.
type Config struct {
	// Level is the minimum level written. Default: slog.LevelInfo.
	Level slog.Level

	// Dir enables file logging when set. The file is
	// {Service}_{YYYY-MM-DD}.log, JSON, created 0600. The directory is
	// created 0700 if absent.
	Dir string

	// Service is attached to every record as the "service" attribute.
	// Default: "backend".
	Service string

	// Quiet disables stderr output (file only). Used by tests.
	Quiet bool
}

// Logger owns the configured slog.Logger and its log file.
type Logger struct {
	slog *slog.Logger
	file *os.File
}

// New builds the logger. File logging failures are fatal here rather
// than silently degraded: a clinical install that cannot write its log
// directory is misconfigured and should say so at startup.
func New(cfg Config) (*Logger, error) {
	if cfg.Service == "" {
		cfg.Service = "backend"
	}
	opts := &slog.HandlerOptions{Level: cfg.Level}

	var handlers []slog.Handler
	if !cfg.Quiet {
		handlers = append(handlers, slog.NewJSONHandler(os.Stderr, opts))
	}

	logger := &Logger{}
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		name := fmt.Sprintf("%s_%s.log", cfg.Service, time.Now().Format("2006-01-02"))
		file, err := os.OpenFile(filepath.Join(cfg.Dir, name),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		logger.file = file
		handlers = append(handlers, slog.NewJSONHandler(file, opts))
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = &fanoutHandler{handlers: handlers}
	}

	handler = &redactingHandler{next: handler}
	handler = handler.WithAttrs([]slog.Attr{slog.String("service", cfg.Service)})

	logger.slog = slog.New(handler)
	return logger, nil
}

// Slog returns the underlying slog.Logger, typically installed as the
// process default.
func (l *Logger) Slog() *slog.Logger { return l.slog }

// Close syncs and closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}

// =============================================================================
// Redacting Handler
// =============================================================================

// redactingHandler masks the values of patient-data attribute keys
// before records reach any sink. Group prefixes do not exempt a key:
// "request.patient_id" is as sensitive as "patient_id".
type redactingHandler struct {
	next slog.Handler
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, record slog.Record) error {
	clean := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		clean.AddAttrs(redactAttr(attr))
		return true
	})
	return h.next.Handle(ctx, clean)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		redacted[i] = redactAttr(attr)
	}
	return &redactingHandler{next: h.next.WithAttrs(redacted)}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{next: h.next.WithGroup(name)}
}

// redactAttr masks sensitive keys, recursing into groups.
func redactAttr(attr slog.Attr) slog.Attr {
	if patientDataKeys[attr.Key] {
		return slog.String(attr.Key, redactedValue)
	}
	if attr.Value.Kind() == slog.KindGroup {
		members := attr.Value.Group()
		redacted := make([]any, 0, len(members))
		for _, member := range members {
			redacted = append(redacted, redactAttr(member))
		}
		return slog.Group(attr.Key, redacted...)
	}
	return attr
}

// =============================================================================
// Fanout Handler
// =============================================================================

// fanoutHandler writes each record to every sink. The first error wins
// but every sink is still attempted, so a full disk does not silence
// stderr.
type fanoutHandler struct {
	handlers []slog.Handler
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: next}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithGroup(name)
	}
	return &fanoutHandler{handlers: next}
}

// =============================================================================
// Compile-time Interface Checks
// =============================================================================

var (
	_ slog.Handler = (*redactingHandler)(nil)
	_ slog.Handler = (*fanoutHandler)(nil)
)
