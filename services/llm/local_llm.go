package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/DentalAssistant/services/backend/apperrors"
)

var tracer = otel.Tracer("dental.llm.llamacpp")

// LlamaCppClient talks to a llama.cpp server running on loopback. The
// desktop shell starts the server process next to the backend; no data
// leaves the host.
type LlamaCppClient struct {
	httpClient *http.Client
	baseURL    string

	// ready reports whether the model weights are present on disk. The
	// backend wires this to the config model checks so a missing
	// download surfaces as model/not_ready before any HTTP call.
	ready func() bool
}

type llamaCppCompletionRequest struct {
	Prompt      string   `json:"prompt"`
	NPredict    int      `json:"n_predict"`
	Temperature *float32 `json:"temperature,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	Stream      bool     `json:"stream"`
	CachePrompt bool     `json:"cache_prompt"`
}

type llamaCppCompletionResponse struct {
	Content string `json:"content"`
	Stop    bool   `json:"stop"`
}

// NewLlamaCppClient creates a generator client for the local llama.cpp
// server. ready may be nil (weights assumed present).
func NewLlamaCppClient(ready func() bool) (*LlamaCppClient, error) {
	baseURL := os.Getenv("LLM_SERVICE_URL_BASE")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8480"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	slog.Info("Initializing llama.cpp client", "base_url", baseURL)
	return &LlamaCppClient{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    baseURL,
		ready:      ready,
	}, nil
}

// Generate implements the Generator interface.
func (l *LlamaCppClient) Generate(ctx context.Context, prompt string,
	params GenerationParams) (string, error) {

	ctx, span := tracer.Start(ctx, "LlamaCppClient.Generate")
	defer span.End()
	span.SetAttributes(attribute.Int("llm.prompt_chars", len(prompt)))

	if err := l.checkReady(); err != nil {
		return "", err
	}

	payload := l.buildPayload(prompt, params, false)
	reqBody, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("failed to marshal llama.cpp payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", l.baseURL+"/completion", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create llama.cpp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("llama.cpp call failed", "error", err)
		return "", apperrors.Wrap(apperrors.KindModelDependencyMissing, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read llama.cpp response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		slog.Error("llama.cpp returned an error", "status_code", resp.StatusCode, "response", string(body))
		return "", apperrors.New(apperrors.KindInferenceRuntime,
			fmt.Sprintf("llama.cpp status %d", resp.StatusCode))
	}

	var out llamaCppCompletionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("failed to parse llama.cpp response: %w", err)
	}
	return strings.TrimSpace(out.Content), nil
}

// GenerateStream implements the Generator interface.
//
// llama.cpp streams completions as SSE lines ("data: {json}"). Each
// chunk's content is forwarded to callback; a callback error or ctx
// cancellation halts token production immediately.
func (l *LlamaCppClient) GenerateStream(ctx context.Context, prompt string,
	params GenerationParams, callback StreamCallback) error {

	ctx, span := tracer.Start(ctx, "LlamaCppClient.GenerateStream")
	defer span.End()

	if err := l.checkReady(); err != nil {
		return err
	}
	if callback == nil {
		return apperrors.New(apperrors.KindInputInvalid, "nil stream callback")
	}

	payload := l.buildPayload(prompt, params, true)
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal llama.cpp payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", l.baseURL+"/completion", bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create llama.cpp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return apperrors.Wrap(apperrors.KindModelDependencyMissing, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		slog.Error("llama.cpp stream returned an error", "status_code", resp.StatusCode, "response", string(body))
		return apperrors.New(apperrors.KindInferenceRuntime,
			fmt.Sprintf("llama.cpp status %d", resp.StatusCode))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return apperrors.New(apperrors.KindInferenceCancelled, "cancelled")
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}

		var chunk llamaCppCompletionResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			slog.Warn("Skipping malformed llama.cpp stream chunk", "error", err)
			continue
		}

		if chunk.Content != "" {
			if err := callback(StreamEvent{Type: StreamEventToken, Content: chunk.Content}); err != nil {
				return err
			}
		}
		if chunk.Stop {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return apperrors.New(apperrors.KindInferenceCancelled, "cancelled")
		}
		span.RecordError(err)
		return apperrors.Wrap(apperrors.KindInferenceStream, err)
	}

	return callback(StreamEvent{Type: StreamEventDone})
}

func (l *LlamaCppClient) buildPayload(prompt string, params GenerationParams, stream bool) llamaCppCompletionRequest {
	payload := llamaCppCompletionRequest{
		Prompt:      prompt,
		Stream:      stream,
		CachePrompt: true,
	}
	if params.MaxTokens != nil {
		payload.NPredict = *params.MaxTokens
	} else {
		payload.NPredict = 800
	}
	if params.Temperature != nil {
		payload.Temperature = params.Temperature
	} else {
		defaultTemperature := float32(0.3)
		payload.Temperature = &defaultTemperature
	}
	if params.TopK != nil {
		payload.TopK = params.TopK
	} else {
		defaultTopK := 40
		payload.TopK = &defaultTopK
	}
	if params.TopP != nil {
		payload.TopP = params.TopP
	} else {
		defaultTopP := float32(0.9)
		payload.TopP = &defaultTopP
	}
	if len(params.Stop) > 0 {
		payload.Stop = params.Stop
	} else {
		payload.Stop = []string{"<|eot_id|>", "<|end_of_text|>"}
	}
	return payload
}

func (l *LlamaCppClient) checkReady() error {
	if l.ready != nil && !l.ready() {
		return apperrors.New(apperrors.KindModelNotReady, "LLM weights not found, run setup first")
	}
	return nil
}
