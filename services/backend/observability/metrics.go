// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the
// dental assistant backend.
//
// # Description
//
// Two complementary surfaces live here:
//   - Prometheus metrics (counters, histograms, gauges) registered on the
//     default registry for scraping.
//   - An in-process Collector that keeps per-endpoint latency
//     percentiles and a ring buffer of recent errors for the JSON
//     /metrics endpoint and the user-facing bug-report flow. The desktop
//     app has no scrape infrastructure, so this snapshot is what the UI
//     actually reads.
//
// # Thread Safety
//
// All operations are thread-safe.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "dental"

const backendSubsystem = "backend"

// BackendMetrics holds all Prometheus metrics for the backend.
//
// # Fields
//
//   - RequestsTotal: Requests by endpoint and status
//   - ErrorsTotal: Errors by endpoint and error_code kind
//   - ActiveStreams: Currently open SSE streams by endpoint
//   - StreamDurationSeconds: Total SSE stream duration
//   - ClientDisconnectsTotal: Client disconnections during streaming
//   - QueueRejectionsTotal: Scheduler busy rejections by queue
//   - AuditWriteFailuresTotal: Audit log append failures
//   - JournalSkippedLinesTotal: Corrupt journal lines skipped on scan
//   - IndexDeferredUpsertsTotal: Index upserts deferred to the next rebuild
type BackendMetrics struct {
	RequestsTotal             *prometheus.CounterVec
	ErrorsTotal               *prometheus.CounterVec
	ActiveStreams             *prometheus.GaugeVec
	StreamDurationSeconds     *prometheus.HistogramVec
	ClientDisconnectsTotal    *prometheus.CounterVec
	QueueRejectionsTotal      *prometheus.CounterVec
	AuditWriteFailuresTotal   prometheus.Counter
	JournalSkippedLinesTotal  prometheus.Counter
	IndexDeferredUpsertsTotal prometheus.Counter
}

// DefaultMetrics is the singleton instance, set by InitMetrics().
var DefaultMetrics *BackendMetrics

var initOnce sync.Once

// InitMetrics initializes and registers the default metrics instance.
// Safe to call more than once; only the first call registers.
func InitMetrics() *BackendMetrics {
	initOnce.Do(func() {
		DefaultMetrics = &BackendMetrics{
			RequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: backendSubsystem,
					Name:      "requests_total",
					Help:      "Total requests by endpoint and status",
				},
				[]string{"endpoint", "status"},
			),
			ErrorsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: backendSubsystem,
					Name:      "errors_total",
					Help:      "Total errors by endpoint and error code",
				},
				[]string{"endpoint", "error_code"},
			),
			ActiveStreams: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: metricsNamespace,
					Subsystem: backendSubsystem,
					Name:      "active_streams",
					Help:      "Number of currently active SSE streams",
				},
				[]string{"endpoint"},
			),
			StreamDurationSeconds: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: metricsNamespace,
					Subsystem: backendSubsystem,
					Name:      "stream_duration_seconds",
					Help:      "Total SSE stream duration in seconds",
					Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
				},
				[]string{"endpoint", "status"},
			),
			ClientDisconnectsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: backendSubsystem,
					Name:      "client_disconnects_total",
					Help:      "Total client disconnections during streaming",
				},
				[]string{"endpoint"},
			),
			QueueRejectionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: backendSubsystem,
					Name:      "queue_rejections_total",
					Help:      "Scheduler submissions rejected as busy, by queue",
				},
				[]string{"queue"},
			),
			AuditWriteFailuresTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: backendSubsystem,
					Name:      "audit_write_failures_total",
					Help:      "Audit log append failures",
				},
			),
			JournalSkippedLinesTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: backendSubsystem,
					Name:      "journal_skipped_lines_total",
					Help:      "Corrupt journal lines skipped during scan",
				},
			),
			IndexDeferredUpsertsTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: backendSubsystem,
					Name:      "index_deferred_upserts_total",
					Help:      "Index upserts deferred to the next rebuild",
				},
			),
		}
	})
	return DefaultMetrics
}

// RecordRequest records a completed request on the Prometheus side.
func (m *BackendMetrics) RecordRequest(endpoint string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
}

// RecordError records an error by taxonomy kind.
func (m *BackendMetrics) RecordError(endpoint, errorCode string) {
	m.ErrorsTotal.WithLabelValues(endpoint, errorCode).Inc()
}
