// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/DentalAssistant/services/backend/apperrors"
	"github.com/AleutianAI/DentalAssistant/services/backend/datatypes"
)

// =============================================================================
// Tiers
// =============================================================================

// Tier groups endpoints by cost for rate limiting.
type Tier string

const (
	// TierHeavy covers LLM inference and transcription.
	TierHeavy Tier = "heavy"
	// TierModerate covers RAG retrieval and consultation writes.
	TierModerate Tier = "moderate"
	// TierLight covers health, status and metrics reads.
	TierLight Tier = "light"
)

// tierLimit is requests per window.
type tierLimit struct {
	requests int
	window   time.Duration
}

var defaultLimits = map[Tier]tierLimit{
	TierHeavy:    {6, time.Minute},
	TierModerate: {30, time.Minute},
	TierLight:    {120, time.Minute},
}

// pathTiers maps path prefixes to tiers; longest prefix wins. Anything
// unlisted falls to light.
var pathTiers = []struct {
	prefix string
	tier   Tier
}{
	{"/summarize-stream-rag", TierHeavy},
	{"/summarize-stream", TierHeavy},
	{"/summarize-rag", TierHeavy},
	{"/summarize", TierHeavy},
	{"/transcribe", TierHeavy},
	{"/consultations/", TierModerate},
	{"/rag/", TierModerate},
	{"/setup/download", TierModerate},
}

// classify returns the tier for a request path.
func classify(path string) Tier {
	best := ""
	tier := TierLight
	for _, entry := range pathTiers {
		if strings.HasPrefix(path, entry.prefix) && len(entry.prefix) > len(best) {
			best = entry.prefix
			tier = entry.tier
		}
	}
	return tier
}

// =============================================================================
// Limiter
// =============================================================================

// maxBuckets caps the bucket store. A loopback service sees a handful
// of client hosts in practice; the cap is a guard against spoofed
// XFF-style churn, not expected load.
const maxBuckets = 1024

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies tiered token buckets per (client host, tier).
//
// # Eviction
//
// When the store exceeds its cardinality cap, the single bucket with
// the oldest lastSeen is evicted, repeatedly until under the cap. The
// store is never flushed wholesale — flushing would hand every abusive
// client a fresh bucket at once.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limits  map[Tier]tierLimit
	enabled bool
}

// NewRateLimiter builds the limiter. overrides maps tier name to
// "requests/windowSeconds" (e.g. "30/60"); malformed entries are logged
// and ignored.
func NewRateLimiter(overrides map[string]string) *RateLimiter {
	limits := make(map[Tier]tierLimit, len(defaultLimits))
	for tier, limit := range defaultLimits {
		limits[tier] = limit
	}
	for name, raw := range overrides {
		tier := Tier(name)
		if _, ok := limits[tier]; !ok {
			slog.Warn("Unknown rate limit tier in config", "tier", name)
			continue
		}
		parts := strings.SplitN(raw, "/", 2)
		if len(parts) != 2 {
			slog.Warn("Invalid rate limit override, expected N/S", "tier", name, "value", raw)
			continue
		}
		requests, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
		seconds, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err1 != nil || err2 != nil || requests <= 0 || seconds <= 0 {
			slog.Warn("Invalid rate limit override, expected N/S", "tier", name, "value", raw)
			continue
		}
		limits[tier] = tierLimit{requests, time.Duration(seconds) * time.Second}
	}

	return &RateLimiter{
		buckets: make(map[string]*bucket),
		limits:  limits,
		enabled: true,
	}
}

// Middleware returns the gin handler enforcing the limits.
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !r.enabled {
			c.Next()
			return
		}

		tier := classify(c.Request.URL.Path)
		limit := r.limits[tier]
		key := c.ClientIP() + ":" + string(tier)

		lim := r.take(key, limit)
		if !lim.Allow() {
			slog.Warn("Rate limit exceeded",
				"client", c.ClientIP(),
				"path", c.Request.URL.Path,
				"tier", string(tier),
			)
			retryAfter := int(math.Ceil(float64(limit.window) / float64(limit.requests) / float64(time.Second)))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.Header("X-RateLimit-Limit", strconv.Itoa(limit.requests))
			c.Header("X-RateLimit-Remaining", "0")

			appErr := apperrors.New(apperrors.KindSystemRateLimited, "")
			SetErrorCode(c, string(appErr.Kind))
			c.AbortWithStatusJSON(appErr.HTTPStatus(), datatypes.ErrorEnvelope{
				ErrorCode: string(appErr.Kind),
				Message:   appErr.Message(),
				RequestId: RequestId(c),
			})
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit.requests))
		c.Header("X-RateLimit-Remaining",
			strconv.Itoa(int(math.Max(0, math.Floor(lim.Tokens())))))
		c.Next()
	}
}

// take returns the bucket for key, creating it (and evicting if the
// store is over its cap) as needed.
func (r *RateLimiter) take(key string, limit tierLimit) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buckets[key]
	if !ok {
		perSecond := rate.Limit(float64(limit.requests) / limit.window.Seconds())
		b = &bucket{limiter: rate.NewLimiter(perSecond, limit.requests), lastSeen: time.Now()}
		r.buckets[key] = b

		for len(r.buckets) > maxBuckets {
			r.evictOldestLocked()
		}
		return b.limiter
	}
	b.lastSeen = time.Now()
	return b.limiter
}

// evictOldestLocked removes the single bucket with the oldest lastSeen.
func (r *RateLimiter) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, b := range r.buckets {
		if oldestKey == "" || b.lastSeen.Before(oldest) {
			oldestKey = key
			oldest = b.lastSeen
		}
	}
	if oldestKey != "" {
		delete(r.buckets, oldestKey)
		slog.Debug("Evicted idle rate-limit bucket", "key", oldestKey)
	}
}

// BucketCount reports the live bucket cardinality (diagnostics).
func (r *RateLimiter) BucketCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buckets)
}

// String describes the configured limits.
func (r *RateLimiter) String() string {
	return fmt.Sprintf("heavy=%d/%s moderate=%d/%s light=%d/%s",
		r.limits[TierHeavy].requests, r.limits[TierHeavy].window,
		r.limits[TierModerate].requests, r.limits[TierModerate].window,
		r.limits[TierLight].requests, r.limits[TierLight].window)
}
