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
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/DentalAssistant/pkg/validation"
	"github.com/AleutianAI/DentalAssistant/services/backend/apperrors"
	"github.com/AleutianAI/DentalAssistant/services/backend/audit"
	"github.com/AleutianAI/DentalAssistant/services/backend/datatypes"
	"github.com/AleutianAI/DentalAssistant/services/backend/middleware"
	"github.com/AleutianAI/DentalAssistant/services/backend/scheduler"
	"github.com/AleutianAI/DentalAssistant/services/backend/services"
)

// copyChunkSize is the buffer used while spooling the upload.
const copyChunkSize = 1024 * 1024

// HandleTranscribe returns the audio transcription handler.
//
// The upload is streamed to a temp file under a hard byte cap (the
// Content-Length middleware already rejected declared oversizes; this
// guards chunked bodies) while a digest is computed for the
// transcription single-flight. No scheduler submission happens for
// requests that fail validation or the size cap.
func HandleTranscribe(svc *services.SmartNoteService, auditLog *audit.Log, maxUploadBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestId := middleware.RequestId(c)

		fail := func(err error, resource string) {
			respondError(c, err)
			_ = auditLog.Record(audit.ActionTranscribe, "", resource, requestId,
				audit.OutcomeFailure, apperrors.From(err).Error())
		}

		if svc.Overloaded(scheduler.QueueSpeech) {
			fail(apperrors.New(apperrors.KindInferenceBusy, "speech queue saturated"), "upload")
			return
		}

		fileHeader, err := c.FormFile("file")
		if err != nil {
			fail(apperrors.New(apperrors.KindInputFilenameMissing, ""), "upload")
			return
		}
		ext, err := validation.ValidateAudioUpload(fileHeader.Filename)
		if err != nil {
			fail(err, fileHeader.Filename)
			return
		}
		language := c.PostForm("language")

		src, err := fileHeader.Open()
		if err != nil {
			fail(apperrors.Wrap(apperrors.KindSystemInternal, err), fileHeader.Filename)
			return
		}
		defer src.Close()

		tmp, err := os.CreateTemp("", "dental-upload-*"+ext)
		if err != nil {
			fail(apperrors.Wrap(apperrors.KindStoragePersist, err), fileHeader.Filename)
			return
		}
		tmpPath := tmp.Name()
		defer func() {
			if removeErr := os.Remove(tmpPath); removeErr != nil && !os.IsNotExist(removeErr) {
				slog.Warn("Failed to remove temp upload", "path", tmpPath, "request_id", requestId)
			}
		}()

		digest, err := copyWithLimit(src, tmp, maxUploadBytes)
		closeErr := tmp.Close()
		if err != nil {
			fail(err, fileHeader.Filename)
			return
		}
		if closeErr != nil {
			fail(apperrors.Wrap(apperrors.KindStoragePersist, closeErr), fileHeader.Filename)
			return
		}

		// Don't waste recogniser time on a client that already left.
		if c.Request.Context().Err() != nil {
			fail(apperrors.New(apperrors.KindSystemDisconnected, ""), fileHeader.Filename)
			return
		}

		text, err := svc.Transcribe(c.Request.Context(), tmpPath, digest, language)
		if err != nil {
			fail(err, fileHeader.Filename)
			return
		}

		_ = auditLog.Record(audit.ActionTranscribe, "", fileHeader.Filename, requestId,
			audit.OutcomeSuccess, "")
		c.JSON(http.StatusOK, datatypes.TranscriptionResponse{
			Text:      text,
			RequestId: requestId,
		})
	}
}

// copyWithLimit copies src to dst with a hard byte cap, returning the
// hex SHA-256 digest of what was written.
func copyWithLimit(src io.Reader, dst io.Writer, maxBytes int64) (string, error) {
	hasher := sha256.New()
	tee := io.TeeReader(src, hasher)

	written := int64(0)
	buf := make([]byte, copyChunkSize)
	for {
		n, err := tee.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > maxBytes {
				return "", apperrors.New(apperrors.KindInputTooLarge, "")
			}
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return "", apperrors.Wrap(apperrors.KindStoragePersist, werr)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", apperrors.Wrap(apperrors.KindSystemInternal, err)
		}
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
