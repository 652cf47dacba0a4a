package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/DentalAssistant/services/backend/apperrors"
)

// WhisperCppClient talks to a whisper.cpp server on loopback for speech
// recognition. Mirrors LlamaCppClient: the desktop shell owns the server
// process, this client owns the wire calls.
type WhisperCppClient struct {
	httpClient *http.Client
	baseURL    string
	ready      func() bool
}

type whisperInferenceResponse struct {
	Text string `json:"text"`
}

// NewWhisperCppClient creates a recognizer client for the local
// whisper.cpp server. ready may be nil.
func NewWhisperCppClient(ready func() bool) (*WhisperCppClient, error) {
	baseURL := os.Getenv("WHISPER_SERVICE_URL_BASE")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8481"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	slog.Info("Initializing whisper.cpp client", "base_url", baseURL)
	return &WhisperCppClient{
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		baseURL:    baseURL,
		ready:      ready,
	}, nil
}

// Transcribe implements the SpeechRecognizer interface.
//
// Uploads the audio file as multipart form data. languageHint defaults
// to "fr" upstream; an empty hint lets whisper auto-detect.
func (w *WhisperCppClient) Transcribe(ctx context.Context, audioPath string, languageHint string) (string, error) {
	ctx, span := tracer.Start(ctx, "WhisperCppClient.Transcribe")
	defer span.End()
	span.SetAttributes(attribute.String("whisper.language_hint", languageHint))

	if w.ready != nil && !w.ready() {
		return "", apperrors.New(apperrors.KindModelNotReady, "Whisper model not found, run setup first")
	}

	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return "", fmt.Errorf("failed to build multipart form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("failed to copy audio into form: %w", err)
	}
	if languageHint != "" {
		if err := writer.WriteField("language", languageHint); err != nil {
			return "", fmt.Errorf("failed to write language field: %w", err)
		}
	}
	if err := writer.WriteField("response_format", "json"); err != nil {
		return "", fmt.Errorf("failed to write response_format field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize multipart form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", w.baseURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("failed to create whisper request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := w.httpClient.Do(req)
	if err != nil {
		slog.Error("whisper.cpp call failed", "error", err)
		return "", apperrors.Wrap(apperrors.KindModelDependencyMissing, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read whisper response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		slog.Error("whisper.cpp returned an error", "status_code", resp.StatusCode, "response", string(respBody))
		return "", apperrors.New(apperrors.KindInferenceRuntime,
			fmt.Sprintf("whisper.cpp status %d", resp.StatusCode))
	}

	var out whisperInferenceResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("failed to parse whisper response: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}
