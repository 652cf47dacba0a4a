// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config resolves the per-user data directory, hardware profile,
// model locations, and credentials for the dental assistant backend.
//
// Configuration comes from environment variables first, then an optional
// config.yaml inside the data directory. Everything the backend persists
// (model weights, vector index, journal, audit log) lives under the one
// data directory so a desktop uninstall can remove a single folder.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultDevAPIKey matches the frontend default so the app works out of
// the box in development. Production mode refuses to run on it.
const DefaultDevAPIKey = "dental-assistant-local-dev-key"

const appDirName = "DentalAssistant"

// Config is the resolved runtime configuration.
type Config struct {
	// Port is the loopback HTTP port. Default 8178.
	Port int `yaml:"port" validate:"gte=0,lte=65535"`

	// DataDir holds models/, rag_data/, consultations.jsonl, audit.jsonl.
	DataDir string `yaml:"-"`

	// Env is "development" or "production".
	Env string `yaml:"-"`

	// MaxTextChars caps sanitised input length. Default 50000.
	MaxTextChars int `yaml:"max_text_chars" validate:"gte=0"`

	// MaxUploadBytes caps request bodies. Default 100 MiB.
	MaxUploadBytes int64 `yaml:"max_upload_bytes" validate:"gte=0"`

	// RetrieveTopK is the knowledge passage count for RAG prompts.
	RetrieveTopK int `yaml:"retrieve_top_k" validate:"gte=0,lte=50"`

	// GenerateWorkers overrides the generate pool size (0 = profile default).
	GenerateWorkers int `yaml:"generate_workers" validate:"gte=0,lte=8"`

	// WaitingCap bounds each scheduler waiting list. Default 16.
	WaitingCap int `yaml:"waiting_cap" validate:"gte=0,lte=256"`

	// WaitBudget is how long a submission may sit in a waiting list
	// before it is rejected as busy. Default 90s.
	WaitBudget time.Duration `yaml:"wait_budget"`

	// RateLimits configures the per-tier token buckets, "N/seconds".
	RateLimits map[string]string `yaml:"rate_limits"`

	// Profile is the detected hardware class.
	Profile Profile `yaml:"-"`
}

// Load resolves the full configuration: environment, optional
// config.yaml, data directory creation, and hardware probe.
func Load() (*Config, error) {
	dataDir, err := resolveDataDir()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:           envInt("BACKEND_PORT", 8178),
		DataDir:        dataDir,
		Env:            strings.ToLower(os.Getenv("ENV")),
		MaxTextChars:   50000,
		MaxUploadBytes: 100 * 1024 * 1024,
		RetrieveTopK:   4,
		WaitingCap:     16,
		WaitBudget:     90 * time.Second,
	}
	if cfg.Env == "" {
		cfg.Env = "development"
	}

	if err := cfg.loadFile(filepath.Join(dataDir, "config.yaml")); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg.Profile = DetectProfile()
	return cfg, nil
}

// loadFile merges overrides from an optional YAML file. A missing file
// is not an error; a malformed one is.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// IsProduction reports whether the process runs in production mode.
// Production is ENV=production or PRODUCTION=1.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || os.Getenv("PRODUCTION") == "1"
}

// Paths under the data directory.

func (c *Config) ModelsDir() string   { return filepath.Join(c.DataDir, "models") }
func (c *Config) RAGDataDir() string  { return filepath.Join(c.DataDir, "rag_data") }
func (c *Config) JournalPath() string { return filepath.Join(c.DataDir, "consultations.jsonl") }
func (c *Config) AuditPath() string   { return filepath.Join(c.DataDir, "audit.jsonl") }
func (c *Config) LogsDir() string     { return filepath.Join(c.DataDir, "logs") }

// EnsureLayout creates the data directory tree with owner-only
// permissions. The journal stays deliberately outside rag_data/ so that
// wiping the index never destroys the journal.
func (c *Config) EnsureLayout() error {
	for _, dir := range []string{c.DataDir, c.ModelsDir(), c.RAGDataDir(), c.LogsDir()} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}
	return nil
}

// resolveDataDir applies the env override, else the per-OS default.
func resolveDataDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv("DENTAL_ASSISTANT_DATA_DIR")); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		root := os.Getenv("APPDATA")
		if root == "" {
			root = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(root, appDirName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", appDirName), nil
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, appDirName), nil
		}
		return filepath.Join(home, ".local", "share", appDirName), nil
	}
}

func envInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	var v int
	if _, err := fmt.Sscanf(raw, "%d", &v); err != nil {
		return def
	}
	return v
}
