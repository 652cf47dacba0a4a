// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/DentalAssistant/services/backend/audit"
	"github.com/AleutianAI/DentalAssistant/services/backend/config"
	"github.com/AleutianAI/DentalAssistant/services/backend/handlers"
	"github.com/AleutianAI/DentalAssistant/services/backend/middleware"
	"github.com/AleutianAI/DentalAssistant/services/backend/observability"
	"github.com/AleutianAI/DentalAssistant/services/backend/rag"
	"github.com/AleutianAI/DentalAssistant/services/backend/services"
)

// Deps carries everything the route table needs.
type Deps struct {
	Cfg        *config.Config
	Verifier   *config.APIKeyVerifier
	Collector  *observability.Collector
	AuditLog   *audit.Log
	Journal    *rag.Journal
	SmartNote  *services.SmartNoteService
	SetupState *handlers.SetupState
}

// SetupRoutes registers the full endpoint table. /health is the only
// unauthenticated endpoint; everything else requires X-API-Key.
func SetupRoutes(router *gin.Engine, d Deps) {
	router.GET("/health", handlers.HandleHealth(d.Cfg))

	authed := router.Group("/")
	authed.Use(middleware.APIKeyAuth(d.Verifier, d.AuditLog))
	{
		// Status surfaces.
		authed.GET("/llm/status", handlers.HandleLLMStatus(d.SmartNote))
		authed.GET("/workers/status", handlers.HandleWorkersStatus(d.SmartNote))
		authed.GET("/metrics", handlers.HandleMetrics(d.Collector))
		authed.GET("/metrics/prometheus", gin.WrapH(promhttp.Handler()))
		authed.GET("/audit/recent", handlers.HandleAuditRecent(d.AuditLog))
		authed.GET("/rag/status", handlers.HandleRAGStatus(d.SmartNote))

		// Inference.
		authed.POST("/transcribe", handlers.HandleTranscribe(d.SmartNote, d.AuditLog, d.Cfg.MaxUploadBytes))
		authed.POST("/summarize", handlers.HandleSummarize(d.SmartNote, d.AuditLog, false))
		authed.POST("/summarize-rag", handlers.HandleSummarize(d.SmartNote, d.AuditLog, true))
		authed.POST("/summarize-stream", handlers.HandleSummarizeStream(d.SmartNote, d.AuditLog, false))
		authed.POST("/summarize-stream-rag", handlers.HandleSummarizeStream(d.SmartNote, d.AuditLog, true))

		// Consultation store.
		authed.POST("/consultations/save", handlers.HandleSaveConsultation(d.SmartNote, d.AuditLog))
		authed.POST("/consultations/search", handlers.HandleSearchConsultations(d.SmartNote, d.AuditLog))
		authed.GET("/consultations/export", handlers.HandleExportConsultations(d.Journal, d.AuditLog))

		// Model acquisition collaborator.
		authed.POST("/setup/download", handlers.HandleSetupDownload(d.SetupState, d.Cfg))
		authed.GET("/setup/progress", handlers.HandleSetupProgress(d.SetupState, d.Cfg))

		// Bug-report flow.
		errors := authed.Group("/errors")
		{
			errors.GET("/pending", handlers.HandlePendingErrors(d.Collector))
			errors.POST("/:errorId/report", handlers.HandleReportError(d.Collector))
			errors.POST("/:errorId/dismiss", handlers.HandleDismissError(d.Collector))
		}
	}
}
