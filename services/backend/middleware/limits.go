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
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/DentalAssistant/services/backend/apperrors"
	"github.com/AleutianAI/DentalAssistant/services/backend/datatypes"
)

// MaxRequestSize rejects requests whose Content-Length exceeds maxBytes.
//
// This only catches requests that include Content-Length; the upload
// endpoint additionally enforces a streaming cap while reading the body,
// so a chunked upload cannot sidestep the limit.
func MaxRequestSize(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("Content-Length")
		if raw != "" {
			length, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				abortWithKind(c, apperrors.KindInputHeader, "")
				return
			}
			if length > maxBytes {
				abortWithKind(c, apperrors.KindInputTooLarge, "")
				return
			}
		}

		// Belt for bodies without Content-Length: cap the reader too.
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func abortWithKind(c *gin.Context, kind apperrors.Kind, detail string) {
	appErr := apperrors.New(kind, detail)
	SetErrorCode(c, string(kind))
	c.AbortWithStatusJSON(appErr.HTTPStatus(), datatypes.ErrorEnvelope{
		ErrorCode: string(kind),
		Message:   appErr.Message(),
		Detail:    detail,
		RequestId: RequestId(c),
	})
}
