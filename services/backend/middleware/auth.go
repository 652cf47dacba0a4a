// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/DentalAssistant/services/backend/apperrors"
	"github.com/AleutianAI/DentalAssistant/services/backend/audit"
	"github.com/AleutianAI/DentalAssistant/services/backend/config"
	"github.com/AleutianAI/DentalAssistant/services/backend/datatypes"
)

// APIKeyAuth validates the X-API-Key header on every request.
//
// The liveness probe is the only unauthenticated endpoint and is
// registered outside the group carrying this middleware. Failures are
// answered with the standard error envelope (403); failures on
// patient-data endpoints additionally produce their audit entry here,
// since the handler never runs.
func APIKeyAuth(verifier *config.APIKeyVerifier, auditLog *audit.Log) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := verifier.Verify(c.GetHeader("X-API-Key")); err != nil {
			appErr := apperrors.From(err)
			slog.Warn("Rejected request with invalid credentials",
				"error_code", string(appErr.Kind),
				"request_id", RequestId(c),
			)

			if action, ok := patientDataAction(c.Request.URL.Path); ok && auditLog != nil {
				_ = auditLog.Record(action, "", c.Request.URL.Path, RequestId(c),
					audit.OutcomeFailure, string(appErr.Kind))
			}

			SetErrorCode(c, string(appErr.Kind))
			c.AbortWithStatusJSON(appErr.HTTPStatus(), datatypes.ErrorEnvelope{
				ErrorCode: string(appErr.Kind),
				Message:   appErr.Message(),
				Detail:    appErr.Detail,
				RequestId: RequestId(c),
			})
			return
		}
		c.Next()
	}
}

// patientDataAction maps a request path to its audit action. Status and
// metrics endpoints are not patient-data and are not audited.
func patientDataAction(path string) (audit.Action, bool) {
	switch {
	case strings.HasPrefix(path, "/transcribe"):
		return audit.ActionTranscribe, true
	case strings.HasPrefix(path, "/summarize-rag"), strings.HasPrefix(path, "/summarize-stream-rag"):
		return audit.ActionSummarizeRAG, true
	case strings.HasPrefix(path, "/summarize"):
		return audit.ActionSummarize, true
	case strings.HasPrefix(path, "/consultations/save"):
		return audit.ActionConsultationSave, true
	case strings.HasPrefix(path, "/consultations/search"):
		return audit.ActionConsultationSearch, true
	case strings.HasPrefix(path, "/consultations/export"):
		return audit.ActionConsultationExport, true
	default:
		return "", false
	}
}
