// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input sanitization and upload validation
// shared by the summarization and RAG surfaces.
package validation

import (
	"regexp"
	"strings"
)

// controlChars matches control characters except newline and tab.
var controlChars = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)

// injectionPatterns are basic prompt-injection shapes neutralised before
// user text reaches the model. Transcribed speech should never contain
// them; when it does, someone is playing games with the microphone.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|above)\s+instructions?`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|above)`),
	regexp.MustCompile(`(?i)forget\s+(everything|all)`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+a`),
	regexp.MustCompile(`(?i)new\s+instructions?:`),
	regexp.MustCompile(`(?i)system\s*:\s*`),
}

var (
	spaceRuns   = regexp.MustCompile(`[ \t]+`)
	newlineRuns = regexp.MustCompile(`\n{4,}`)
)

// SanitizeText cleans user text before model processing.
//
// Truncates to maxLength (0 disables the cap), strips control characters
// except newline and tab, filters prompt-injection patterns, collapses
// whitespace runs, and trims. An empty result means the input was
// entirely invalid.
func SanitizeText(text string, maxLength int) string {
	if text == "" {
		return ""
	}

	if maxLength > 0 && len(text) > maxLength {
		text = text[:maxLength]
	}

	text = controlChars.ReplaceAllString(text, "")

	for _, pattern := range injectionPatterns {
		text = pattern.ReplaceAllString(text, "[FILTERED]")
	}

	text = spaceRuns.ReplaceAllString(text, " ")
	text = newlineRuns.ReplaceAllString(text, "\n\n\n")

	return strings.TrimSpace(text)
}
