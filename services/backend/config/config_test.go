// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/DentalAssistant/services/backend/apperrors"
)

func TestLoad_DataDirOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DENTAL_ASSISTANT_DATA_DIR", dir)
	t.Setenv("ENV", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, int64(100*1024*1024), cfg.MaxUploadBytes)
	assert.Equal(t, 4, cfg.RetrieveTopK)
}

func TestLoad_ConfigFileOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DENTAL_ASSISTANT_DATA_DIR", dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"),
		[]byte("retrieve_top_k: 8\ngenerate_workers: 2\nrate_limits:\n  heavy: \"10/60\"\n"), 0o600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.RetrieveTopK)
	assert.Equal(t, 2, cfg.GenerateWorkers)
	assert.Equal(t, "10/60", cfg.RateLimits["heavy"])
}

func TestLoad_MalformedConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DENTAL_ASSISTANT_DATA_DIR", dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"),
		[]byte(":::not yaml"), 0o600))

	_, err := Load()
	assert.Error(t, err)
}

func TestEnsureLayout_OwnerOnly(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions only")
	}
	dir := filepath.Join(t.TempDir(), "data")
	cfg := &Config{DataDir: dir}
	require.NoError(t, cfg.EnsureLayout())

	for _, sub := range []string{dir, cfg.ModelsDir(), cfg.RAGDataDir(), cfg.LogsDir()} {
		info, err := os.Stat(sub)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o700), info.Mode().Perm(), sub)
	}
}

func TestIsProduction(t *testing.T) {
	t.Setenv("PRODUCTION", "")

	cfg := &Config{Env: "production"}
	assert.True(t, cfg.IsProduction())

	cfg = &Config{Env: "development"}
	assert.False(t, cfg.IsProduction())

	t.Setenv("PRODUCTION", "1")
	assert.True(t, cfg.IsProduction())
}

func TestProfile_Defaults(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 2, ProfileHighVRAM.GenerateWorkers())
	assert.Equal(t, 1, ProfileLowVRAM.GenerateWorkers())
	assert.Equal(t, 1, ProfileCPUOnly.GenerateWorkers())

	assert.Equal(t, 33, ProfileHighVRAM.GPULayers())
	assert.Equal(t, 24, ProfileLowVRAM.GPULayers())
	assert.Equal(t, 0, ProfileCPUOnly.GPULayers())
}

func TestModelPaths_DifferPerProfile(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for _, profile := range []Profile{ProfileHighVRAM, ProfileLowVRAM, ProfileCPUOnly} {
		cfg := &Config{DataDir: "/data", Profile: profile}
		path := cfg.LLMModelPath()
		assert.False(t, seen[path], "model filename must differ per profile")
		seen[path] = true
	}
}

func TestLLMReady_RejectsTruncatedWeights(t *testing.T) {
	t.Parallel()
	cfg := &Config{DataDir: t.TempDir(), Profile: ProfileCPUOnly}
	require.NoError(t, cfg.EnsureLayout())

	assert.False(t, cfg.LLMReady())

	// A tiny file (partial download) must not count as ready.
	require.NoError(t, os.WriteFile(cfg.LLMModelPath(), []byte("GGUF"), 0o600))
	assert.False(t, cfg.LLMReady())
}

func TestAPIKeyVerifier_ProductionRequiresKey(t *testing.T) {
	t.Setenv("APP_API_KEY", "")
	os.Unsetenv("APP_API_KEY")

	_, err := NewAPIKeyVerifier(true)
	assert.True(t, apperrors.Is(err, apperrors.KindAuthMisconfigured))
}

func TestAPIKeyVerifier_Verify(t *testing.T) {
	t.Setenv("APP_API_KEY", "secret-key")

	verifier, err := NewAPIKeyVerifier(true)
	require.NoError(t, err)
	assert.True(t, verifier.Configured())

	assert.NoError(t, verifier.Verify("secret-key"))
	assert.True(t, apperrors.Is(verifier.Verify("wrong"), apperrors.KindAuthInvalid))
	assert.True(t, apperrors.Is(verifier.Verify(""), apperrors.KindAuthMissing))
}

func TestAPIKeyVerifier_DevelopmentDefault(t *testing.T) {
	t.Setenv("APP_API_KEY", "")
	os.Unsetenv("APP_API_KEY")

	verifier, err := NewAPIKeyVerifier(false)
	require.NoError(t, err)
	assert.False(t, verifier.Configured())
	assert.NoError(t, verifier.Verify(DefaultDevAPIKey))
}
