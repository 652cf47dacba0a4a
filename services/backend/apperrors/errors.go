// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package apperrors defines the typed error taxonomy for the backend.
//
// Every error surfaced to a client carries a machine-readable kind
// (e.g. "auth/missing", "inference/busy"). The HTTP layer translates the
// kind to a status code and the JSON envelope
// {error_code, message, detail, request_id}; lower layers only create and
// wrap these errors, they never format HTTP responses.
//
// # Usage
//
//	return apperrors.New(apperrors.KindModelNotReady, "")
//	return apperrors.Wrap(apperrors.KindStoragePersist, err)
//	if apperrors.Is(err, apperrors.KindInferenceBusy) { ... }
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// Kinds
// =============================================================================

// Kind is the machine-readable error category, formatted as "domain/name".
type Kind string

const (
	// Authentication & authorization.
	KindAuthMissing       Kind = "auth/missing"
	KindAuthInvalid       Kind = "auth/invalid"
	KindAuthMisconfigured Kind = "auth/misconfigured"

	// Input validation & sanitization.
	KindInputEmpty           Kind = "input/empty"
	KindInputFilenameMissing Kind = "input/filename_missing"
	KindInputExtension       Kind = "input/extension"
	KindInputTooLarge        Kind = "input/too_large"
	KindInputHeader          Kind = "input/header"
	KindInputInvalid         Kind = "input/invalid"

	// Model availability.
	KindModelNotReady          Kind = "model/not_ready"
	KindModelDependencyMissing Kind = "model/dependency_missing"

	// Inference (scheduler and backends).
	KindInferenceBusy      Kind = "inference/busy"
	KindInferenceCancelled Kind = "inference/cancelled"
	KindInferenceRuntime   Kind = "inference/runtime"
	KindInferenceStream    Kind = "inference/stream"

	// Storage.
	KindStoragePersist Kind = "storage/persist"

	// Model acquisition (download collaborator).
	KindDownloadInProgress Kind = "download/in_progress"
	KindDownloadFailed     Kind = "download/failed"

	// Server-level.
	KindSystemNotReady     Kind = "system/not_ready"
	KindSystemDisconnected Kind = "system/disconnected"
	KindSystemRateLimited  Kind = "system/rate_limited"
	KindSystemInternal     Kind = "system/internal"
)

// kindDef pairs a kind with its HTTP status and default client message.
type kindDef struct {
	status  int
	message string
}

var kindDefs = map[Kind]kindDef{
	KindAuthMissing:       {http.StatusForbidden, "API key header is missing."},
	KindAuthInvalid:       {http.StatusForbidden, "Invalid API key."},
	KindAuthMisconfigured: {http.StatusInternalServerError, "API key must be configured in production mode. Set APP_API_KEY."},

	KindInputEmpty:           {http.StatusBadRequest, "Text input is empty or invalid after sanitization."},
	KindInputFilenameMissing: {http.StatusBadRequest, "Uploaded file is missing a filename."},
	KindInputExtension:       {http.StatusBadRequest, "Unsupported file extension."},
	KindInputTooLarge:        {http.StatusRequestEntityTooLarge, "Request entity too large."},
	KindInputHeader:          {http.StatusBadRequest, "Malformed Content-Length header."},
	KindInputInvalid:         {http.StatusBadRequest, "Request body is invalid."},

	KindModelNotReady:          {http.StatusServiceUnavailable, "Model not downloaded. Please run setup first."},
	KindModelDependencyMissing: {http.StatusServiceUnavailable, "Local model runtime is not reachable."},

	KindInferenceBusy:      {http.StatusServiceUnavailable, "Server is busy processing other requests. Please try again later."},
	KindInferenceCancelled: {499, "Request was cancelled before processing completed."},
	KindInferenceRuntime:   {http.StatusInternalServerError, "Model inference failed."},
	KindInferenceStream:    {http.StatusInternalServerError, "An error occurred during streaming generation."},

	KindStoragePersist: {http.StatusInternalServerError, "Failed to persist data to local storage."},

	KindDownloadInProgress: {http.StatusConflict, "A download is already in progress."},
	KindDownloadFailed:     {http.StatusInternalServerError, "Model download failed."},

	KindSystemNotReady:     {http.StatusServiceUnavailable, "Backend is not ready yet."},
	KindSystemDisconnected: {499, "Client closed the connection before processing completed."},
	KindSystemRateLimited:  {http.StatusTooManyRequests, "Too many requests. Please slow down."},
	KindSystemInternal:     {http.StatusInternalServerError, "Internal server error."},
}

// =============================================================================
// Error Type
// =============================================================================

// Error is a typed application error.
//
// # Fields
//
//   - Kind: Machine-readable category, used as the envelope error_code.
//   - Detail: Optional free-form context (never internal stack detail).
//   - Err: Wrapped cause, available via errors.Unwrap.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message()
	if e.Detail != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Detail)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Message returns the default client-facing message for the error's kind.
func (e *Error) Message() string {
	if def, ok := kindDefs[e.Kind]; ok {
		return def.message
	}
	return kindDefs[KindSystemInternal].message
}

// HTTPStatus returns the HTTP status code for the error's kind.
func (e *Error) HTTPStatus() int {
	if def, ok := kindDefs[e.Kind]; ok {
		return def.status
	}
	return http.StatusInternalServerError
}

// =============================================================================
// Constructors
// =============================================================================

// New creates an error of the given kind. Detail may be empty.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap creates an error of the given kind wrapping a cause.
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Wrapf creates an error of the given kind with a formatted detail and cause.
func Wrapf(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// =============================================================================
// Inspection
// =============================================================================

// From extracts an *Error from err, normalising unknown errors to
// system/internal so handlers always have a kind to translate.
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return &Error{Kind: KindSystemInternal, Err: err}
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}
