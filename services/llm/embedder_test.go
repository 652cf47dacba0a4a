// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEmbedder(baseURL string) *OllamaEmbedder {
	return &OllamaEmbedder{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		model:      "nomic-embed-text",
		dimensions: 4,
	}
}

func norm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

func TestEmbed_ReturnsNormalisedVector(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embeddings", r.URL.Path)

		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)

		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float64{3, 4, 0, 0}})
	}))
	defer server.Close()

	embedder := newTestEmbedder(server.URL)
	vec, err := embedder.Embed(context.Background(), "douleur molaire")
	require.NoError(t, err)
	require.Len(t, vec, 4)
	assert.InDelta(t, 1.0, norm(vec), 1e-6)
	assert.InDelta(t, 0.6, float64(vec[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(vec[1]), 1e-6)
}

func TestEmbed_EmptyResponse(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaEmbedResponse{})
	}))
	defer server.Close()

	embedder := newTestEmbedder(server.URL)
	_, err := embedder.Embed(context.Background(), "texte")
	assert.Error(t, err)
}

func TestEmbedBatch_PreservesOrder(t *testing.T) {
	t.Parallel()
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		calls++
		// Encode the call order into the vector.
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float64{float64(calls), 0}})
	}))
	defer server.Close()

	embedder := newTestEmbedder(server.URL)
	vectors, err := embedder.EmbedBatch(context.Background(), []string{"un", "deux", "trois"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, 3, calls)
	for _, vec := range vectors {
		assert.InDelta(t, 1.0, norm(vec), 1e-6)
	}
}

func TestNormalize_ZeroVectorUnchanged(t *testing.T) {
	t.Parallel()
	vec := Normalize([]float32{0, 0, 0})
	assert.Equal(t, []float32{0, 0, 0}, vec)
}
