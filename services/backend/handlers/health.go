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

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/DentalAssistant/services/backend/config"
	"github.com/AleutianAI/DentalAssistant/services/backend/scheduler"
	"github.com/AleutianAI/DentalAssistant/services/backend/services"
)

// HandleHealth is the liveness probe used by the desktop shell's boot
// sequence. The only unauthenticated endpoint.
func HandleHealth(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":        "ok",
			"models_ready":  cfg.LLMReady(),
			"whisper_ready": cfg.WhisperReady(),
			"profile":       string(cfg.Profile),
		})
	}
}

// HandleLLMStatus reports the generate queue snapshot.
func HandleLLMStatus(svc *services.SmartNoteService) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := svc.QueueSnapshot()[scheduler.QueueGenerate]
		c.JSON(http.StatusOK, gin.H{
			"max_concurrency": status.Capacity,
			"running":         status.Running,
			"waiting":         status.Waiting,
			"is_busy":         status.Running >= status.Capacity,
		})
	}
}

// HandleWorkersStatus reports {running, waiting, capacity} per queue.
func HandleWorkersStatus(svc *services.SmartNoteService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.QueueSnapshot())
	}
}
