// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides the HTTP middleware chain for the backend:
// request tracing/correlation, API-key authentication, request size
// capping, and rate limiting.
//
// Order matters: tracing is outermost so it captures the full lifecycle
// including rate-limit rejections.
package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/DentalAssistant/services/backend/observability"
)

// requestIdKey is the gin context key holding the correlation id.
const requestIdKey = "dental_request_id"

// errorCodeKey lets handlers report the taxonomy kind of a failed
// request back to the tracing middleware for metrics labelling.
const errorCodeKey = "dental_error_code"

// RequestId returns the correlation id assigned to this request.
func RequestId(c *gin.Context) string {
	if v, ok := c.Get(requestIdKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// SetErrorCode records the taxonomy kind for the request's failure.
func SetErrorCode(c *gin.Context, code string) {
	c.Set(errorCodeKey, code)
}

// Tracing assigns a correlation id to every request (reusing an incoming
// X-Request-ID), logs a structured request line, and feeds both the
// in-process collector and the Prometheus counters.
func Tracing(collector *observability.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestId := c.GetHeader("X-Request-ID")
		if requestId == "" {
			requestId = uuid.NewString()[:12]
		}
		c.Set(requestIdKey, requestId)
		c.Writer.Header().Set("X-Request-ID", requestId)

		collector.RequestStarted()
		start := time.Now()

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		errorCode := ""
		if v, ok := c.Get(errorCodeKey); ok {
			errorCode, _ = v.(string)
		}
		detail := ""
		if len(c.Errors) > 0 {
			detail = c.Errors.String()
		}

		collector.RequestFinished(c.Request.Method, path, status, latency, requestId, errorCode, detail)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(path, status < 400)
			if errorCode != "" {
				m.RecordError(path, errorCode)
			}
		}

		logFn := slog.Info
		if status >= 400 {
			logFn = slog.Warn
		}
		logFn("request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", latency.Milliseconds(),
			"request_id", requestId,
		)
	}
}
