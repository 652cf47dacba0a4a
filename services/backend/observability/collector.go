// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxLatencySamples bounds the per-endpoint latency reservoir.
const maxLatencySamples = 500

// defaultErrorBuffer is how many recent errors the ring buffer keeps.
const defaultErrorBuffer = 100

// =============================================================================
// Types
// =============================================================================

// ErrorRecord is one captured server error, retained for the JSON
// metrics snapshot and the user-facing bug-report flow.
type ErrorRecord struct {
	Id        string  `json:"id"`
	Timestamp float64 `json:"timestamp"`
	RequestId string  `json:"request_id"`
	Method    string  `json:"method"`
	Path      string  `json:"path"`
	Status    int     `json:"status"`
	ErrorCode string  `json:"error_code,omitempty"`
	Detail    string  `json:"detail,omitempty"`
}

// endpointStats aggregates one "METHOD /path" key.
type endpointStats struct {
	requests    int64
	errors5xx   int64
	errors4xx   int64
	errorKinds  map[string]int64
	totalMs     float64
	latencies   []float64 // reservoir, unsorted
	sampleCount int64
}

// EndpointSnapshot is the JSON view of one endpoint's stats.
type EndpointSnapshot struct {
	Requests   int64            `json:"requests"`
	Errors5xx  int64            `json:"errors_5xx"`
	Errors4xx  int64            `json:"errors_4xx"`
	ErrorKinds map[string]int64 `json:"error_kinds,omitempty"`
	AvgMs      float64          `json:"avg_latency_ms"`
	P50Ms      float64          `json:"p50_ms"`
	P95Ms      float64          `json:"p95_ms"`
	P99Ms      float64          `json:"p99_ms"`
}

// Snapshot is the full JSON metrics view served by GET /metrics.
type Snapshot struct {
	UptimeSeconds  float64                     `json:"uptime_seconds"`
	TotalRequests  int64                       `json:"total_requests"`
	ActiveRequests int64                       `json:"active_requests"`
	Endpoints      map[string]EndpointSnapshot `json:"endpoints"`
	RecentErrors   []ErrorRecord               `json:"recent_errors"`
}

// =============================================================================
// Collector
// =============================================================================

// Collector keeps in-process request metrics.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Collector struct {
	mu           sync.Mutex
	start        time.Time
	endpoints    map[string]*endpointStats
	recent       []ErrorRecord // ring, newest last
	pending      map[string]ErrorRecord
	total        int64
	active       int64
	bufferSize   int
	reservoirSrc uint64 // cheap LCG state for reservoir replacement
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		start:      time.Now(),
		endpoints:  make(map[string]*endpointStats),
		pending:    make(map[string]ErrorRecord),
		bufferSize: defaultErrorBuffer,
	}
}

// RequestStarted marks a request in flight.
func (c *Collector) RequestStarted() {
	c.mu.Lock()
	c.active++
	c.mu.Unlock()
}

// RequestFinished records a completed request.
//
// Status >= 500 errors enter the recent-error ring buffer and the
// pending bug-report set. errorCode is the taxonomy kind ("" if none).
func (c *Collector) RequestFinished(method, path string, status int, latency time.Duration, requestId, errorCode, detail string) {
	latencyMs := float64(latency.Microseconds()) / 1000.0

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active > 0 {
		c.active--
	}
	c.total++

	key := method + " " + path
	stats, ok := c.endpoints[key]
	if !ok {
		stats = &endpointStats{errorKinds: make(map[string]int64)}
		c.endpoints[key] = stats
	}
	stats.requests++
	stats.totalMs += latencyMs
	stats.sampleCount++

	// Reservoir sampling keeps the percentile window bounded while old
	// samples are still eligible for replacement.
	if len(stats.latencies) < maxLatencySamples {
		stats.latencies = append(stats.latencies, latencyMs)
	} else {
		c.reservoirSrc = c.reservoirSrc*6364136223846793005 + 1442695040888963407
		idx := c.reservoirSrc % uint64(stats.sampleCount)
		if idx < maxLatencySamples {
			stats.latencies[idx] = latencyMs
		}
	}

	if errorCode != "" {
		stats.errorKinds[errorCode]++
	}

	switch {
	case status >= 500:
		stats.errors5xx++
		rec := ErrorRecord{
			Id:        uuid.NewString(),
			Timestamp: float64(time.Now().UnixMilli()) / 1000.0,
			RequestId: requestId,
			Method:    method,
			Path:      path,
			Status:    status,
			ErrorCode: errorCode,
			Detail:    truncate(detail, 500),
		}
		c.recent = append(c.recent, rec)
		if len(c.recent) > c.bufferSize {
			dropped := c.recent[0]
			delete(c.pending, dropped.Id)
			c.recent = c.recent[1:]
		}
		c.pending[rec.Id] = rec
	case status >= 400:
		stats.errors4xx++
	}
}

// SnapshotNow returns a JSON-serialisable view of all metrics.
func (c *Collector) SnapshotNow() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	endpoints := make(map[string]EndpointSnapshot, len(c.endpoints))
	for key, stats := range c.endpoints {
		snap := EndpointSnapshot{
			Requests:  stats.requests,
			Errors5xx: stats.errors5xx,
			Errors4xx: stats.errors4xx,
		}
		if len(stats.errorKinds) > 0 {
			snap.ErrorKinds = make(map[string]int64, len(stats.errorKinds))
			for k, v := range stats.errorKinds {
				snap.ErrorKinds[k] = v
			}
		}
		if stats.requests > 0 {
			snap.AvgMs = round1(stats.totalMs / float64(stats.requests))
		}
		snap.P50Ms, snap.P95Ms, snap.P99Ms = percentiles(stats.latencies)
		endpoints[key] = snap
	}

	recent := make([]ErrorRecord, len(c.recent))
	copy(recent, c.recent)

	return Snapshot{
		UptimeSeconds:  round1(time.Since(c.start).Seconds()),
		TotalRequests:  c.total,
		ActiveRequests: c.active,
		Endpoints:      endpoints,
		RecentErrors:   recent,
	}
}

// PendingErrors returns errors the user has not acted on yet.
func (c *Collector) PendingErrors() []ErrorRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]ErrorRecord, 0, len(c.pending))
	for _, rec := range c.recent {
		if _, ok := c.pending[rec.Id]; ok {
			out = append(out, rec)
		}
	}
	return out
}

// PopError removes and returns a pending error by id. The second return
// is false when the error was already reported or dismissed.
func (c *Collector) PopError(id string) (ErrorRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	return rec, ok
}

// =============================================================================
// Helpers
// =============================================================================

func percentiles(samples []float64) (p50, p95, p99 float64) {
	n := len(samples)
	if n == 0 {
		return 0, 0, 0
	}
	sorted := make([]float64, n)
	copy(sorted, samples)
	sort.Float64s(sorted)

	at := func(q int) float64 {
		idx := n * q / 100
		if idx >= n {
			idx = n - 1
		}
		return round1(sorted[idx])
	}
	return at(50), at(95), at(99)
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
