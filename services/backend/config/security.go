// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"crypto/subtle"
	"log/slog"
	"os"

	"github.com/awnumar/memguard"

	"github.com/AleutianAI/DentalAssistant/services/backend/apperrors"
)

// APIKeyVerifier validates the X-API-Key header against the expected
// key. The expected key is sealed in a memguard enclave at startup so it
// never sits in plain heap memory between requests.
type APIKeyVerifier struct {
	enclave    *memguard.Enclave
	configured bool
}

// NewAPIKeyVerifier reads APP_API_KEY and seals it.
//
// In production mode a missing key is a startup error (auth/misconfigured).
// In development the well-known default key is used and a warning logged,
// which keeps the desktop app working out of the box.
func NewAPIKeyVerifier(production bool) (*APIKeyVerifier, error) {
	key := os.Getenv("APP_API_KEY")
	configured := key != ""

	if !configured {
		if production {
			return nil, apperrors.New(apperrors.KindAuthMisconfigured, "")
		}
		slog.Warn("Using default development API key. Set APP_API_KEY for production.")
		key = DefaultDevAPIKey
	}

	return &APIKeyVerifier{
		enclave:    memguard.NewEnclave([]byte(key)),
		configured: configured,
	}, nil
}

// Verify checks a presented key in constant time.
func (v *APIKeyVerifier) Verify(presented string) error {
	if presented == "" {
		return apperrors.New(apperrors.KindAuthMissing, "")
	}

	buf, err := v.enclave.Open()
	if err != nil {
		return apperrors.Wrap(apperrors.KindSystemInternal, err)
	}
	defer buf.Destroy()

	if subtle.ConstantTimeCompare(buf.Bytes(), []byte(presented)) != 1 {
		return apperrors.New(apperrors.KindAuthInvalid, "")
	}
	return nil
}

// Configured reports whether the key came from the environment rather
// than the development default.
func (v *APIKeyVerifier) Configured() bool { return v.configured }
