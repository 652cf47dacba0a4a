package llm

import "context"

// GenerationParams tunes a single generation call. Nil pointer fields
// fall back to backend defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// StreamEventType classifies events delivered during streaming.
type StreamEventType int

const (
	// StreamEventToken carries one generated token chunk.
	StreamEventToken StreamEventType = iota
	// StreamEventDone marks the end of generation.
	StreamEventDone
)

// StreamEvent is one unit delivered to a StreamCallback.
type StreamEvent struct {
	Type    StreamEventType
	Content string
}

// StreamCallback receives tokens as they are generated. Returning an
// error aborts streaming (e.g. on client disconnect).
type StreamCallback func(event StreamEvent) error

// Generator is the generative-model port. Implementations are assumed
// thread-hostile: the scheduler guarantees at most one active call per
// worker slot.
type Generator interface {
	// Generate produces the full completion for a prompt.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// GenerateStream produces the completion token by token through
	// callback, honouring ctx for best-effort abort.
	GenerateStream(ctx context.Context, prompt string, params GenerationParams, callback StreamCallback) error
}

// SpeechRecognizer is the speech-to-text port.
type SpeechRecognizer interface {
	// Transcribe converts the audio file at audioPath to text.
	// languageHint may be empty ("fr" is the product default upstream).
	Transcribe(ctx context.Context, audioPath string, languageHint string) (string, error)
}

// Embedder is the sentence-embedding port. Vectors are fixed-dimension
// and L2-normalised so the index can rank with a plain dot product.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int

	// ParallelSafe reports whether concurrent calls are allowed. When
	// false the scheduler treats the embedder like the other backends.
	ParallelSafe() bool
}
