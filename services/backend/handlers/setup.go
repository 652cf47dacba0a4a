// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/DentalAssistant/services/backend/apperrors"
	"github.com/AleutianAI/DentalAssistant/services/backend/config"
)

// SetupState tracks the model download collaborator. The actual fetch
// is owned by the desktop shell's downloader process; the backend only
// exposes the contract: accept a start request, report progress, and
// flip readiness when the weights appear in models/ (the fsnotify
// watcher handles that part).
type SetupState struct {
	mu       sync.Mutex
	active   bool
	progress float64
	message  string
}

// Begin marks a download active. Returns false if one is in progress.
func (s *SetupState) Begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return false
	}
	s.active = true
	s.progress = 0
	s.message = "download requested"
	return true
}

// Update records progress reported by the collaborator.
func (s *SetupState) Update(progress float64, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = progress
	s.message = message
	if progress >= 1 {
		s.active = false
	}
}

// Snapshot returns the current state.
func (s *SetupState) Snapshot() (active bool, progress float64, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.progress, s.message
}

// HandleSetupDownload accepts a model download request on behalf of the
// collaborator. A second request while one is active gets
// download/in_progress.
func HandleSetupDownload(state *SetupState, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.LLMReady() && cfg.WhisperReady() {
			c.JSON(http.StatusOK, gin.H{"status": "already_downloaded"})
			return
		}
		if !state.Begin() {
			respondError(c, apperrors.New(apperrors.KindDownloadInProgress, ""))
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"status":  "accepted",
			"profile": string(cfg.Profile),
		})
	}
}

// HandleSetupProgress reports download progress and model readiness.
func HandleSetupProgress(state *SetupState, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		active, progress, message := state.Snapshot()
		c.JSON(http.StatusOK, gin.H{
			"active":        active,
			"progress":      progress,
			"message":       message,
			"models_ready":  cfg.LLMReady(),
			"whisper_ready": cfg.WhisperReady(),
		})
	}
}
