// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command backend starts the dental assistant backend HTTP server.
//
// This is the entry point launched by the desktop shell. The server
// listens on loopback only; all model inference runs against local
// weights under the per-user data directory.
//
// # Environment Variables
//
//   - BACKEND_PORT: HTTP port (default: 8178)
//   - ENV: "development" or "production"
//   - APP_API_KEY: API key (required in production)
//   - DENTAL_ASSISTANT_DATA_DIR: data directory override
//   - LLM_SERVICE_URL_BASE: llama.cpp server (default: http://127.0.0.1:8480)
//   - WHISPER_SERVICE_URL_BASE: whisper.cpp server (default: http://127.0.0.1:8481)
//   - EMBEDDING_SERVICE_URL_BASE: Ollama embeddings (default: http://127.0.0.1:11434)
//
// # Usage
//
//	go build -o dental-backend ./cmd/backend
//	./dental-backend serve
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/DentalAssistant/pkg/logging"
	"github.com/AleutianAI/DentalAssistant/services/backend"
	"github.com/AleutianAI/DentalAssistant/services/backend/config"
)

// version is stamped by the build.
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:          "dental-backend",
		Short:        "On-device clinical documentation backend",
		SilenceUsage: true,
	}

	var port int
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the backend HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Port = port
			}

			logger, err := logging.New(logging.Config{
				Level:   slog.LevelInfo,
				Dir:     cfg.LogsDir(),
				Service: "backend",
			})
			if err != nil {
				return err
			}
			defer logger.Close()
			slog.SetDefault(logger.Slog())

			svc, err := backend.New(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return svc.Run(ctx)
		},
	}
	serve.Flags().IntVar(&port, "port", 0, "override the HTTP port")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the backend version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	root.AddCommand(serve, versionCmd)
	if err := root.Execute(); err != nil {
		slog.Error("backend exited", "error", err)
		os.Exit(1)
	}
}
