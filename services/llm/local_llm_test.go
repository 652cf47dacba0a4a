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
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/DentalAssistant/services/backend/apperrors"
)

func newTestLlamaClient(baseURL string, ready func() bool) *LlamaCppClient {
	return &LlamaCppClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		ready:      ready,
	}
}

func TestGenerate_Success(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/completion", r.URL.Path)

		var payload llamaCppCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.False(t, payload.Stream)
		assert.Contains(t, payload.Prompt, "consultation")

		json.NewEncoder(w).Encode(llamaCppCompletionResponse{Content: "  - Motif : douleur  "})
	}))
	defer server.Close()

	client := newTestLlamaClient(server.URL, nil)
	got, err := client.Generate(context.Background(), "transcription de consultation", GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "- Motif : douleur", got)
}

func TestGenerate_NotReady(t *testing.T) {
	t.Parallel()
	client := newTestLlamaClient("http://127.0.0.1:1", func() bool { return false })

	_, err := client.Generate(context.Background(), "prompt", GenerationParams{})
	assert.True(t, apperrors.Is(err, apperrors.KindModelNotReady))
}

func TestGenerate_ServerError(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestLlamaClient(server.URL, nil)
	_, err := client.Generate(context.Background(), "prompt", GenerationParams{})
	assert.True(t, apperrors.Is(err, apperrors.KindInferenceRuntime))
}

func TestGenerate_DefaultParams(t *testing.T) {
	t.Parallel()
	var captured llamaCppCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(llamaCppCompletionResponse{Content: "ok"})
	}))
	defer server.Close()

	client := newTestLlamaClient(server.URL, nil)
	_, err := client.Generate(context.Background(), "p", GenerationParams{})
	require.NoError(t, err)

	assert.Equal(t, 800, captured.NPredict)
	require.NotNil(t, captured.Temperature)
	assert.InDelta(t, 0.3, float64(*captured.Temperature), 1e-6)
	assert.Contains(t, captured.Stop, "<|eot_id|>")
}

func TestGenerateStream_DeliversTokensAndDone(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload llamaCppCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.True(t, payload.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, chunk := range []string{"- Motif", " : ", "douleur"} {
			data, _ := json.Marshal(llamaCppCompletionResponse{Content: chunk})
			w.Write([]byte("data: " + string(data) + "\n\n"))
			flusher.Flush()
		}
		data, _ := json.Marshal(llamaCppCompletionResponse{Stop: true})
		w.Write([]byte("data: " + string(data) + "\n\n"))
	}))
	defer server.Close()

	client := newTestLlamaClient(server.URL, nil)

	var tokens []string
	sawDone := false
	err := client.GenerateStream(context.Background(), "prompt", GenerationParams{}, func(event StreamEvent) error {
		switch event.Type {
		case StreamEventToken:
			tokens = append(tokens, event.Content)
		case StreamEventDone:
			sawDone = true
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "- Motif : douleur", strings.Join(tokens, ""))
	assert.True(t, sawDone)
}

// A callback error (the SSE client went away) must halt streaming and
// surface to the caller.
func TestGenerateStream_CallbackAborts(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 100; i++ {
			data, _ := json.Marshal(llamaCppCompletionResponse{Content: "token"})
			w.Write([]byte("data: " + string(data) + "\n\n"))
			flusher.Flush()
		}
	}))
	defer server.Close()

	client := newTestLlamaClient(server.URL, nil)

	abort := errors.New("client gone")
	count := 0
	err := client.GenerateStream(context.Background(), "prompt", GenerationParams{}, func(event StreamEvent) error {
		count++
		if count >= 3 {
			return abort
		}
		return nil
	})
	assert.ErrorIs(t, err, abort)
	assert.Equal(t, 3, count)
}

func TestGenerateStream_SkipsMalformedChunks(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data: {garbage\n\n"))
		data, _ := json.Marshal(llamaCppCompletionResponse{Content: "fine", Stop: true})
		w.Write([]byte("data: " + string(data) + "\n\n"))
	}))
	defer server.Close()

	client := newTestLlamaClient(server.URL, nil)

	var tokens []string
	err := client.GenerateStream(context.Background(), "prompt", GenerationParams{}, func(event StreamEvent) error {
		if event.Type == StreamEventToken {
			tokens = append(tokens, event.Content)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"fine"}, tokens)
}
