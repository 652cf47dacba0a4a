// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/DentalAssistant/services/backend/audit"
	"github.com/AleutianAI/DentalAssistant/services/backend/config"
	"github.com/AleutianAI/DentalAssistant/services/backend/handlers"
	"github.com/AleutianAI/DentalAssistant/services/backend/middleware"
	"github.com/AleutianAI/DentalAssistant/services/backend/observability"
	"github.com/AleutianAI/DentalAssistant/services/backend/rag"
	"github.com/AleutianAI/DentalAssistant/services/backend/scheduler"
	"github.com/AleutianAI/DentalAssistant/services/backend/services"
	"github.com/AleutianAI/DentalAssistant/services/llm"
)

const testAPIKey = config.DefaultDevAPIKey

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Mocks and Fixtures
// =============================================================================

type mockGenerator struct {
	response string
	block    chan struct{} // when set, streaming waits here per token
}

func (m *mockGenerator) Generate(_ context.Context, _ string, _ llm.GenerationParams) (string, error) {
	return m.response, nil
}

func (m *mockGenerator) GenerateStream(ctx context.Context, _ string, _ llm.GenerationParams, callback llm.StreamCallback) error {
	for _, token := range strings.SplitAfter(m.response, " ") {
		if m.block != nil {
			select {
			case <-m.block:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := callback(llm.StreamEvent{Type: llm.StreamEventToken, Content: token}); err != nil {
			return err
		}
	}
	return callback(llm.StreamEvent{Type: llm.StreamEventDone})
}

type mockSpeech struct{ text string }

func (m *mockSpeech) Transcribe(_ context.Context, _ string, _ string) (string, error) {
	return m.text, nil
}

func lexicalEmbed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, 27)
		for _, r := range strings.ToLower(text) {
			if r >= 'a' && r <= 'z' {
				vec[r-'a']++
			} else if r == ' ' {
				vec[26]++
			}
		}
		var sum float64
		for _, v := range vec {
			sum += float64(v) * float64(v)
		}
		if sum > 0 {
			norm := float32(math.Sqrt(sum))
			for j := range vec {
				vec[j] /= norm
			}
		} else {
			vec[0] = 1
		}
		out[i] = vec
	}
	return out, nil
}

type fixture struct {
	router   *gin.Engine
	auditLog *audit.Log
	journal  *rag.Journal
}

func newFixture(t *testing.T, gen llm.Generator, waitingCap int) *fixture {
	t.Helper()
	t.Setenv("APP_API_KEY", "")
	dir := t.TempDir()

	cfg := &config.Config{
		Port:           0,
		DataDir:        dir,
		Env:            "development",
		MaxTextChars:   50000,
		MaxUploadBytes: 100 * 1024 * 1024,
		RetrieveTopK:   4,
		Profile:        config.ProfileCPUOnly,
	}
	require.NoError(t, cfg.EnsureLayout())

	verifier, err := config.NewAPIKeyVerifier(false)
	require.NoError(t, err)

	auditLog := audit.NewLog(cfg.AuditPath())
	journal := rag.NewJournal(cfg.JournalPath())
	coordinator := rag.NewCoordinator(journal, filepath.Join(cfg.RAGDataDir(), "index"),
		lexicalEmbed, auditLog, nil)
	require.NoError(t, coordinator.Start(context.Background()))
	t.Cleanup(func() { coordinator.Close() })

	sched := scheduler.New(scheduler.Config{
		Workers:    map[scheduler.Queue]int{scheduler.QueueSpeech: 1, scheduler.QueueGenerate: 1, scheduler.QueueEmbed: 1},
		WaitingCap: waitingCap,
		WaitBudget: 5 * time.Second,
	})
	smartNote := services.NewSmartNoteService(sched, gen, &mockSpeech{text: "bonjour"},
		coordinator, cfg.MaxTextChars, cfg.RetrieveTopK)

	collector := observability.NewCollector()
	router := gin.New()
	router.Use(middleware.Tracing(collector))
	router.Use(middleware.MaxRequestSize(cfg.MaxUploadBytes))
	SetupRoutes(router, Deps{
		Cfg:        cfg,
		Verifier:   verifier,
		Collector:  collector,
		AuditLog:   auditLog,
		Journal:    journal,
		SmartNote:  smartNote,
		SetupState: &handlers.SetupState{},
	})

	return &fixture{router: router, auditLog: auditLog, journal: journal}
}

func (f *fixture) do(method, path, body string, withKey bool) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if withKey {
		req.Header.Set("X-API-Key", testAPIKey)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) auditEntries(t *testing.T, action audit.Action) []audit.Entry {
	t.Helper()
	entries, err := f.auditLog.Recent(100)
	require.NoError(t, err)
	var out []audit.Entry
	for _, e := range entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// =============================================================================
// Route Table
// =============================================================================

func TestSetupRoutes_TableComplete(t *testing.T) {
	f := newFixture(t, &mockGenerator{response: "note"}, 16)

	expected := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/llm/status"},
		{"GET", "/metrics"},
		{"GET", "/workers/status"},
		{"GET", "/audit/recent"},
		{"GET", "/rag/status"},
		{"POST", "/transcribe"},
		{"POST", "/summarize"},
		{"POST", "/summarize-rag"},
		{"POST", "/summarize-stream"},
		{"POST", "/summarize-stream-rag"},
		{"POST", "/consultations/save"},
		{"POST", "/consultations/search"},
		{"GET", "/consultations/export"},
		{"POST", "/setup/download"},
		{"GET", "/setup/progress"},
	}

	routes := f.router.Routes()
	for _, want := range expected {
		found := false
		for _, r := range routes {
			if r.Method == want.method && r.Path == want.path {
				found = true
				break
			}
		}
		assert.True(t, found, "expected route %s %s", want.method, want.path)
	}
}

// =============================================================================
// Scenarios
// =============================================================================

// S1: plain summarize returns the note and exactly one SUMMARIZE audit
// entry with outcome success.
func TestSummarize_Success(t *testing.T) {
	f := newFixture(t, &mockGenerator{response: "- Motif : douleur molaire"}, 16)

	w := f.do("POST", "/summarize", `{"text":"Douleur molaire 36 depuis 3 jours."}`, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["summary"])
	assert.Equal(t, w.Header().Get("X-Request-ID"), resp["request_id"])

	entries := f.auditEntries(t, audit.ActionSummarize)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.OutcomeSuccess, entries[0].Outcome)
	assert.Equal(t, w.Header().Get("X-Request-ID"), entries[0].CorrelationId)
}

// S2: missing API key is 403 auth/missing with a failure audit entry.
func TestSummarize_MissingKey(t *testing.T) {
	f := newFixture(t, &mockGenerator{response: "note"}, 16)

	w := f.do("POST", "/summarize", `{"text":"Douleur"}`, false)
	require.Equal(t, http.StatusForbidden, w.Code)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "auth/missing", envelope["error_code"])
	assert.NotEmpty(t, envelope["request_id"])

	entries := f.auditEntries(t, audit.ActionSummarize)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.OutcomeFailure, entries[0].Outcome)
}

// S3: declared oversize body is rejected with 413 before any scheduler
// submission.
func TestTranscribe_OversizeRejectedEarly(t *testing.T) {
	f := newFixture(t, &mockGenerator{response: "note"}, 16)

	req := httptest.NewRequest("POST", "/transcribe", bytes.NewReader(nil))
	req.Header.Set("X-API-Key", testAPIKey)
	req.Header.Set("Content-Length", "157286400") // 150 MiB
	req.ContentLength = 157286400
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), "input/too_large")

	entries := f.auditEntries(t, audit.ActionTranscribe)
	assert.Empty(t, entries, "no scheduler submission, no transcribe audit entry")
}

// S4: generate pool 1, waiting cap 0 — the second concurrent stream is
// shed with inference/busy.
func TestSummarizeStream_BusyWhenSaturated(t *testing.T) {
	gen := &mockGenerator{response: "- Motif : controle etat stable", block: make(chan struct{})}
	f := newFixture(t, gen, 0)

	var wg sync.WaitGroup
	firstBody := &bytes.Buffer{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		w := f.do("POST", "/summarize-stream", `{"text":"Premiere consultation."}`, true)
		firstBody.Write(w.Body.Bytes())
	}()

	// Let the first stream claim the only generate worker.
	time.Sleep(100 * time.Millisecond)

	second := f.do("POST", "/summarize-stream", `{"text":"Deuxieme consultation."}`, true)
	assert.Equal(t, http.StatusServiceUnavailable, second.Code)
	assert.Contains(t, second.Body.String(), "inference/busy")

	close(gen.block)
	wg.Wait()

	assert.Contains(t, firstBody.String(), `"chunk"`)
	assert.Contains(t, firstBody.String(), "[DONE]")
}

// S5: RAG stream with an empty knowledge base opens with
// {"rag_enhanced": false} and still produces a note.
func TestSummarizeStreamRAG_FallbackMetaEvent(t *testing.T) {
	f := newFixture(t, &mockGenerator{response: "- Motif : controle"}, 16)

	w := f.do("POST", "/summarize-stream-rag", `{"text":"Controle de routine."}`, true)
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	events := strings.Split(body, "\n\n")
	require.NotEmpty(t, events)
	assert.Equal(t, `data: {"rag_enhanced":false}`, events[0])
	assert.Contains(t, body, `"chunk"`)
	assert.True(t, strings.Contains(body, "data: [DONE]"))
}

// SSE framing: every event is a data line, the sentinel is last.
func TestSummarizeStream_Framing(t *testing.T) {
	f := newFixture(t, &mockGenerator{response: "- Motif : douleur"}, 16)

	w := f.do("POST", "/summarize-stream", `{"text":"Douleur molaire."}`, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n\n")
	for _, line := range lines {
		assert.True(t, strings.HasPrefix(line, "data: "), "bad SSE line: %q", line)
	}
	assert.Equal(t, "data: [DONE]", lines[len(lines)-1])

	entries := f.auditEntries(t, audit.ActionSummarize)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.OutcomeSuccess, entries[0].Outcome)
}

func TestSummarize_EmptyText(t *testing.T) {
	f := newFixture(t, &mockGenerator{response: "note"}, 16)

	w := f.do("POST", "/summarize", `{"text":"   "}`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "input/empty")
}

func TestTranscribe_BadExtension(t *testing.T) {
	f := newFixture(t, &mockGenerator{response: "note"}, 16)

	var body bytes.Buffer
	writer := newMultipart(t, &body, "notes.pdf", []byte("%PDF"))
	req := httptest.NewRequest("POST", "/transcribe", &body)
	req.Header.Set("X-API-Key", testAPIKey)
	req.Header.Set("Content-Type", writer)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "input/extension")
}

func TestTranscribe_Success(t *testing.T) {
	f := newFixture(t, &mockGenerator{response: "note"}, 16)

	var body bytes.Buffer
	contentType := newMultipart(t, &body, "consultation.wav", []byte("RIFF fake"))
	req := httptest.NewRequest("POST", "/transcribe", &body)
	req.Header.Set("X-API-Key", testAPIKey)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "bonjour")

	entries := f.auditEntries(t, audit.ActionTranscribe)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.OutcomeSuccess, entries[0].Outcome)
	assert.Equal(t, "consultation.wav", entries[0].Resource)
}

func TestConsultations_SaveSearchExport(t *testing.T) {
	f := newFixture(t, &mockGenerator{response: "note"}, 16)

	w := f.do("POST", "/consultations/save",
		`{"smartnote":"- Motif : douleur molaire","transcription":"douleur molaire","dentist_name":"Dr. Martin","patient_id":"p-1"}`, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do("POST", "/consultations/search", `{"query":"douleur molaire","top_k":5}`, true)
	require.Equal(t, http.StatusOK, w.Code)
	var searchResp struct {
		Results []map[string]any `json:"results"`
		Count   int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &searchResp))
	require.Greater(t, searchResp.Count, 0)
	assert.Contains(t, searchResp.Results[0]["smartnote"], "douleur molaire")

	w = f.do("GET", "/consultations/export", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "douleur molaire")

	saveEntries := f.auditEntries(t, audit.ActionConsultationSave)
	require.Len(t, saveEntries, 1)
	assert.Equal(t, "patient:p-1", saveEntries[0].Resource)
	assert.Equal(t, "Dr. Martin", saveEntries[0].Actor)
}

func TestRAGStatus_CountsAndReady(t *testing.T) {
	f := newFixture(t, &mockGenerator{response: "note"}, 16)

	w := f.do("GET", "/rag/status", "", true)
	require.Equal(t, http.StatusOK, w.Code)

	var status map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, true, status["ready"])
	assert.Equal(t, float64(0), status["consultations_count"])
}

func TestHealth_NoAuthRequired(t *testing.T) {
	f := newFixture(t, &mockGenerator{response: "note"}, 16)

	w := f.do("GET", "/health", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestWorkersStatus_Shape(t *testing.T) {
	f := newFixture(t, &mockGenerator{response: "note"}, 16)

	w := f.do("GET", "/workers/status", "", true)
	require.Equal(t, http.StatusOK, w.Code)

	var status map[string]scheduler.QueueStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	for _, queue := range []string{"speech", "generate", "embed"} {
		snap, ok := status[queue]
		require.True(t, ok, "missing queue %s", queue)
		assert.Equal(t, 1, snap.Capacity)
		assert.Equal(t, 0, snap.Running)
	}
}

func TestAuditRecent_ReturnsEntries(t *testing.T) {
	f := newFixture(t, &mockGenerator{response: "- Motif : x"}, 16)

	_ = f.do("POST", "/summarize", `{"text":"Consultation."}`, true)
	w := f.do("GET", "/audit/recent?n=10", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "SUMMARIZE")
}

func TestMetrics_SnapshotShape(t *testing.T) {
	f := newFixture(t, &mockGenerator{response: "note"}, 16)

	_ = f.do("POST", "/summarize", `{"text":"Consultation."}`, true)
	w := f.do("GET", "/metrics", "", true)
	require.Equal(t, http.StatusOK, w.Code)

	var snap observability.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Greater(t, snap.TotalRequests, int64(0))
	assert.NotEmpty(t, snap.Endpoints)
}

// newMultipart builds a multipart body with one file field and returns
// the content type.
func newMultipart(t *testing.T, buf *bytes.Buffer, filename string, payload []byte) string {
	t.Helper()
	writer := multipart.NewWriter(buf)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(payload)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return writer.FormDataContentType()
}
