// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/AleutianAI/DentalAssistant/services/backend/apperrors"
)

// allowedAudioExtensions are the audio container types the recognizer
// accepts.
var allowedAudioExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".m4a":  true,
	".ogg":  true,
	".webm": true,
	".mp4":  true,
}

// ValidateAudioUpload checks a multipart upload's filename and returns
// its lower-cased extension.
func ValidateAudioUpload(filename string) (string, error) {
	if filename == "" {
		return "", apperrors.New(apperrors.KindInputFilenameMissing, "")
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedAudioExtensions[ext] {
		allowed := make([]string, 0, len(allowedAudioExtensions))
		for e := range allowedAudioExtensions {
			allowed = append(allowed, e)
		}
		sort.Strings(allowed)
		return "", apperrors.New(apperrors.KindInputExtension,
			fmt.Sprintf("allowed: %s", strings.Join(allowed, ", ")))
	}
	return ext, nil
}

// ClampTopK clips a requested result count into [1, 50].
func ClampTopK(topK int) int {
	if topK < 1 {
		return 1
	}
	if topK > 50 {
		return 50
	}
	return topK
}
