// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backend provides the core service for the dental assistant.
//
// This package contains the Backend type that coordinates every
// component: HTTP routing, the inference scheduler, model clients, the
// RAG store, the audit trail, and observability. The desktop shell
// starts one Backend per machine; it listens on loopback only and no
// data ever leaves the host.
//
// # Usage
//
//	cfg, err := config.Load()
//	svc, err := backend.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = svc.Run(ctx)
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/AleutianAI/DentalAssistant/services/backend/audit"
	"github.com/AleutianAI/DentalAssistant/services/backend/config"
	"github.com/AleutianAI/DentalAssistant/services/backend/handlers"
	"github.com/AleutianAI/DentalAssistant/services/backend/middleware"
	"github.com/AleutianAI/DentalAssistant/services/backend/observability"
	"github.com/AleutianAI/DentalAssistant/services/backend/rag"
	"github.com/AleutianAI/DentalAssistant/services/backend/routes"
	"github.com/AleutianAI/DentalAssistant/services/backend/scheduler"
	"github.com/AleutianAI/DentalAssistant/services/backend/services"
	"github.com/AleutianAI/DentalAssistant/services/llm"
)

// drainTimeout bounds how long running inferences may finish after a
// shutdown signal.
const drainTimeout = 15 * time.Second

// Backend is the assembled service.
//
// # Thread Safety
//
// Thread-safe after construction; fields are read-only once New
// returns, except watchCancel, which Run sets.
type Backend struct {
	cfg           *config.Config
	router        *gin.Engine
	sched         *scheduler.Scheduler
	coordinator   *rag.Coordinator
	auditLog      *audit.Log
	collector     *observability.Collector
	tracerCleanup func(context.Context)
	watchCancel   context.CancelFunc
}

// New assembles the backend:
//
//  1. Data directory layout and credential checks (fails startup in
//     production without APP_API_KEY)
//  2. Tracing and metrics
//  3. Scheduler sized from the hardware profile
//  4. Model clients (llama.cpp, whisper.cpp, Ollama embeddings)
//  5. Journal, vector index and RAG coordinator (rebuild scheduled in
//     the background when the index disagrees with the journal)
//  6. HTTP router with the middleware chain
func New(cfg *config.Config) (*Backend, error) {
	if err := cfg.EnsureLayout(); err != nil {
		return nil, err
	}

	verifier, err := config.NewAPIKeyVerifier(cfg.IsProduction())
	if err != nil {
		return nil, err
	}
	if verifier.Configured() {
		slog.Info("API key configured from environment")
	}

	slog.Info("Hardware detected", "profile", string(cfg.Profile))

	b := &Backend{
		cfg:       cfg,
		collector: observability.NewCollector(),
		auditLog:  audit.NewLog(cfg.AuditPath()),
	}

	cleanup, err := b.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	b.tracerCleanup = cleanup

	observability.InitMetrics()

	// Scheduler sized from the profile; config may override generate.
	generateWorkers := cfg.Profile.GenerateWorkers()
	if cfg.GenerateWorkers > 0 {
		generateWorkers = cfg.GenerateWorkers
	}
	schedCfg := scheduler.DefaultConfig(generateWorkers)
	if cfg.WaitingCap > 0 {
		schedCfg.WaitingCap = cfg.WaitingCap
	}
	if cfg.WaitBudget > 0 {
		schedCfg.WaitBudget = cfg.WaitBudget
	}
	b.sched = scheduler.New(schedCfg)

	// Model clients.
	generator, err := llm.NewLlamaCppClient(cfg.LLMReady)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize generator client: %w", err)
	}
	speech, err := llm.NewWhisperCppClient(cfg.WhisperReady)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize speech client: %w", err)
	}
	embedder, err := llm.NewOllamaEmbedder()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder client: %w", err)
	}

	// RAG store. Embedding runs through the scheduler's embed queue so
	// the coordinator never touches the backend concurrently.
	journal := rag.NewJournal(cfg.JournalPath())
	embedFn := func(ctx context.Context, texts []string) ([][]float32, error) {
		fut, err := b.sched.Submit(ctx, scheduler.QueueEmbed, func(workCtx context.Context) (any, error) {
			return embedder.EmbedBatch(workCtx, texts)
		})
		if err != nil {
			return nil, err
		}
		value, err := fut.Wait()
		if err != nil {
			return nil, err
		}
		return value.([][]float32), nil
	}
	b.coordinator = rag.NewCoordinator(journal, filepath.Join(cfg.RAGDataDir(), "index"),
		embedFn, b.auditLog, rag.SeedKnowledge())

	smartNote := services.NewSmartNoteService(b.sched, generator, speech, b.coordinator,
		cfg.MaxTextChars, cfg.RetrieveTopK)

	// HTTP router. Tracing is outermost so it captures rate-limit
	// rejections too.
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	b.router = gin.New()
	b.router.Use(gin.Recovery())
	b.router.Use(middleware.Tracing(b.collector))
	b.router.Use(otelgin.Middleware("dental-backend"))
	limiter := middleware.NewRateLimiter(cfg.RateLimits)
	slog.Info("Rate limiting enabled", "limits", limiter.String())
	b.router.Use(limiter.Middleware())
	b.router.Use(middleware.MaxRequestSize(cfg.MaxUploadBytes))

	routes.SetupRoutes(b.router, routes.Deps{
		Cfg:        cfg,
		Verifier:   verifier,
		Collector:  b.collector,
		AuditLog:   b.auditLog,
		Journal:    journal,
		SmartNote:  smartNote,
		SetupState: &handlers.SetupState{},
	})

	return b, nil
}

// Run starts the RAG coordinator, the model watcher and the HTTP server,
// then blocks until ctx is cancelled and the graceful shutdown finishes.
func (b *Backend) Run(ctx context.Context) error {
	if err := b.coordinator.Start(ctx); err != nil {
		slog.Warn("RAG coordinator failed to start, retrieval disabled", "error", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	b.watchCancel = cancel
	go func() {
		if err := b.cfg.WatchModels(watchCtx, func() {
			slog.Info("Model files changed",
				"models_ready", b.cfg.LLMReady(),
				"whisper_ready", b.cfg.WhisperReady())
		}); err != nil {
			slog.Warn("Model watcher unavailable", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", b.cfg.Port),
		Handler: b.router,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting dental assistant backend", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		b.shutdown(context.Background())
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), drainTimeout)
	defer cancelDrain()

	if err := srv.Shutdown(drainCtx); err != nil {
		slog.Warn("HTTP shutdown did not drain cleanly", "error", err)
	}
	b.shutdown(drainCtx)
	return nil
}

// Router exposes the configured engine for integration tests.
func (b *Backend) Router() *gin.Engine {
	return b.router
}

// shutdown stops background work in dependency order: no new
// submissions, drain running inference, then release the index and the
// tracer.
func (b *Backend) shutdown(ctx context.Context) {
	if b.watchCancel != nil {
		b.watchCancel()
	}
	b.sched.Shutdown(ctx)
	if err := b.coordinator.Close(); err != nil {
		slog.Warn("Index close failed", "error", err)
	}
	if b.tracerCleanup != nil {
		b.tracerCleanup(ctx)
	}
}

// initTracer sets up OpenTelemetry tracing with a local file exporter.
// The product is fully offline, so spans go to logs/traces.jsonl
// instead of an OTLP collector.
func (b *Backend) initTracer() (func(context.Context), error) {
	tracePath := filepath.Join(b.cfg.LogsDir(), "traces.jsonl")
	traceFile, err := os.OpenFile(tracePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(traceFile),
		stdouttrace.WithoutTimestamps(),
	)
	if err != nil {
		traceFile.Close()
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceNameKey.String("dental-backend")))
	if err != nil {
		traceFile.Close()
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown trace provider", "error", err)
		}
		traceFile.Close()
	}
	return cleanup, nil
}
