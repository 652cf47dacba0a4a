package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strings"
	"time"
)

// Default embedding configuration. nomic-embed-text is multilingual
// enough for French dental terminology and small enough for cpu_only
// hosts.
const (
	defaultEmbedModel = "nomic-embed-text"
	defaultEmbedDims  = 768
)

// OllamaEmbedder generates sentence embeddings through a local Ollama
// instance. Unlike the generator and recognizer, the HTTP server side is
// safe for concurrent calls, so ParallelSafe reports true; the scheduler
// still bounds concurrency through the embed queue.
type OllamaEmbedder struct {
	httpClient *http.Client
	baseURL    string
	model      string
	dimensions int
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// NewOllamaEmbedder creates an embedder client against the local Ollama
// server.
func NewOllamaEmbedder() (*OllamaEmbedder, error) {
	baseURL := os.Getenv("EMBEDDING_SERVICE_URL_BASE")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:11434"
	}
	model := os.Getenv("EMBEDDING_MODEL_NAME")
	if model == "" {
		slog.Warn("EMBEDDING_MODEL_NAME not set, defaulting", "model", defaultEmbedModel)
		model = defaultEmbedModel
	}
	return &OllamaEmbedder{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      model,
		dimensions: defaultEmbedDims,
	}, nil
}

// Embed implements the Embedder interface. The returned vector is
// L2-normalised so the index can use a dot product for cosine ranking.
func (o *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "OllamaEmbedder.Embed")
	defer span.End()

	payload := ollamaEmbedRequest{Model: o.model, Prompt: text}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/api/embeddings", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding call failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		slog.Error("Ollama embeddings returned an error", "status_code", resp.StatusCode, "response", string(respBody))
		return nil, fmt.Errorf("embedding failed with status %d", resp.StatusCode)
	}

	var out ollamaEmbedResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("failed to parse embed response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("embedding response was empty")
	}

	vec := make([]float32, len(out.Embedding))
	for i, v := range out.Embedding {
		vec[i] = float32(v)
	}
	return Normalize(vec), nil
}

// EmbedBatch implements the Embedder interface. Ollama has no batch
// endpoint; texts are embedded sequentially in request order.
func (o *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := o.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, vec)
	}
	return vectors, nil
}

// Dimensions implements the Embedder interface.
func (o *OllamaEmbedder) Dimensions() int { return o.dimensions }

// ParallelSafe implements the Embedder interface.
func (o *OllamaEmbedder) ParallelSafe() bool { return true }

// Normalize scales a vector to unit L2 norm in place and returns it.
// Zero vectors are returned unchanged.
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
