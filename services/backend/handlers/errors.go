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

	"github.com/AleutianAI/DentalAssistant/services/backend/observability"
)

// The bug-report flow: the frontend polls /errors/pending after a 5xx,
// asks the user whether to file a report, then calls report or dismiss.
// Reports are acknowledged locally — this product makes no outbound
// calls, so "report" just removes the entry and leaves the detail in
// the local snapshot for the user to attach manually.

// HandlePendingErrors lists errors the user has not acted on yet.
func HandlePendingErrors(collector *observability.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		pending := collector.PendingErrors()
		c.JSON(http.StatusOK, gin.H{
			"pending": pending,
			"count":   len(pending),
		})
	}
}

// HandleReportError acknowledges a pending error as reported.
func HandleReportError(collector *observability.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		errorId := c.Param("errorId")
		record, ok := collector.PopError(errorId)
		if !ok {
			c.JSON(http.StatusOK, gin.H{
				"status": "not_found",
				"detail": "Error already reported or dismissed.",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "accepted_locally",
			"error_id": record.Id,
		})
	}
}

// HandleDismissError drops a pending error without reporting.
func HandleDismissError(collector *observability.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		errorId := c.Param("errorId")
		if _, ok := collector.PopError(errorId); !ok {
			c.JSON(http.StatusOK, gin.H{
				"status": "not_found",
				"detail": "Error already reported or dismissed.",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "dismissed", "error_id": errorId})
	}
}
