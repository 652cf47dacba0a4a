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

	"github.com/AleutianAI/DentalAssistant/services/backend/apperrors"
	"github.com/AleutianAI/DentalAssistant/services/backend/audit"
	"github.com/AleutianAI/DentalAssistant/services/backend/datatypes"
	"github.com/AleutianAI/DentalAssistant/services/backend/middleware"
	"github.com/AleutianAI/DentalAssistant/services/backend/rag"
	"github.com/AleutianAI/DentalAssistant/services/backend/services"
)

// HandleSaveConsultation persists a note to the journal and index.
func HandleSaveConsultation(svc *services.SmartNoteService, auditLog *audit.Log) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestId := middleware.RequestId(c)

		var req datatypes.SaveConsultationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, apperrors.Wrap(apperrors.KindInputInvalid, err))
			_ = auditLog.Record(audit.ActionConsultationSave, "", "consultation", requestId,
				audit.OutcomeFailure, "invalid body")
			return
		}

		record, err := svc.SaveConsultation(c.Request.Context(), requestId, req)
		if err != nil {
			respondError(c, err)
			_ = auditLog.Record(audit.ActionConsultationSave, req.DentistName,
				resourceForPatient(req.PatientId), requestId,
				audit.OutcomeFailure, apperrors.From(err).Error())
			return
		}

		_ = auditLog.Record(audit.ActionConsultationSave, req.DentistName,
			resourceForPatient(req.PatientId), requestId, audit.OutcomeSuccess, "")
		c.JSON(http.StatusOK, gin.H{
			"status":     "saved",
			"digest":     record.Digest,
			"created_at": record.CreatedAt,
			"request_id": requestId,
		})
	}
}

// HandleSearchConsultations runs semantic search over past notes.
func HandleSearchConsultations(svc *services.SmartNoteService, auditLog *audit.Log) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestId := middleware.RequestId(c)

		var req datatypes.SearchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, apperrors.Wrap(apperrors.KindInputInvalid, err))
			_ = auditLog.Record(audit.ActionConsultationSearch, "", "consultations", requestId,
				audit.OutcomeFailure, "invalid body")
			return
		}

		results, err := svc.SearchConsultations(c.Request.Context(), req.Query, req.TopK)
		if err != nil {
			respondError(c, err)
			_ = auditLog.Record(audit.ActionConsultationSearch, "", "consultations", requestId,
				audit.OutcomeFailure, apperrors.From(err).Error())
			return
		}

		_ = auditLog.Record(audit.ActionConsultationSearch, "", "consultations", requestId,
			audit.OutcomeSuccess, "")
		if results == nil {
			results = []datatypes.SearchResult{}
		}
		c.JSON(http.StatusOK, gin.H{
			"results":    results,
			"count":      len(results),
			"request_id": requestId,
		})
	}
}

// HandleExportConsultations dumps the full journal in insertion order.
func HandleExportConsultations(journal *rag.Journal, auditLog *audit.Log) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestId := middleware.RequestId(c)

		records, err := journal.Export()
		if err != nil {
			respondError(c, err)
			_ = auditLog.Record(audit.ActionConsultationExport, "", "all", requestId,
				audit.OutcomeFailure, apperrors.From(err).Error())
			return
		}

		_ = auditLog.Record(audit.ActionConsultationExport, "", "all", requestId,
			audit.OutcomeSuccess, "")
		if records == nil {
			records = []datatypes.ConsultationRecord{}
		}
		c.JSON(http.StatusOK, gin.H{
			"consultations": records,
			"count":         len(records),
			"request_id":    requestId,
		})
	}
}

// HandleRAGStatus reports coordinator readiness and counts.
func HandleRAGStatus(svc *services.SmartNoteService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.RAGStatus())
	}
}

func resourceForPatient(patientId string) string {
	if patientId == "" {
		return "consultation"
	}
	return "patient:" + patientId
}
