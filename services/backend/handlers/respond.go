// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP surface of the dental assistant
// backend.
//
// Every patient-data endpoint writes exactly one completed audit entry
// at exit with the final outcome; streaming endpoints write it after
// the stream ends so the outcome reflects what actually happened
// (including cancellation).
package handlers

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/DentalAssistant/services/backend/apperrors"
	"github.com/AleutianAI/DentalAssistant/services/backend/datatypes"
	"github.com/AleutianAI/DentalAssistant/services/backend/middleware"
)

// respondError translates a typed error into the JSON envelope. The
// taxonomy kind is recorded on the context for metrics labelling.
func respondError(c *gin.Context, err error) {
	appErr := apperrors.From(err)

	if appErr.Kind == apperrors.KindSystemInternal {
		slog.Error("Internal error",
			"request_id", middleware.RequestId(c),
			"error", err,
		)
	}

	middleware.SetErrorCode(c, string(appErr.Kind))
	c.JSON(appErr.HTTPStatus(), datatypes.ErrorEnvelope{
		ErrorCode: string(appErr.Kind),
		Message:   appErr.Message(),
		Detail:    appErr.Detail,
		RequestId: middleware.RequestId(c),
	})
}
