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
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/DentalAssistant/services/backend/audit"
	"github.com/AleutianAI/DentalAssistant/services/backend/middleware"
)

// maxAuditPage bounds the ?n= query parameter.
const maxAuditPage = 1000

// HandleAuditRecent returns the last n audit entries. Reading the audit
// trail is itself audited.
func HandleAuditRecent(auditLog *audit.Log) gin.HandlerFunc {
	return func(c *gin.Context) {
		n := 100
		if raw := c.Query("n"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				n = parsed
			}
		}
		if n > maxAuditPage {
			n = maxAuditPage
		}

		entries, err := auditLog.Recent(n)
		if err != nil {
			respondError(c, err)
			return
		}

		_ = auditLog.Record(audit.ActionAuditRead, "", "audit", middleware.RequestId(c),
			audit.OutcomeSuccess, "")
		if entries == nil {
			entries = []audit.Entry{}
		}
		c.JSON(http.StatusOK, gin.H{
			"entries": entries,
			"count":   len(entries),
		})
	}
}
