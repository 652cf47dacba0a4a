// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFileLogger builds a quiet logger writing into a temp dir and
// returns it with its log file path.
func newFileLogger(t *testing.T, level slog.Level) (*Logger, string) {
	t.Helper()
	dir := t.TempDir()

	logger, err := New(Config{Level: level, Dir: dir, Service: "backend", Quiet: true})
	require.NoError(t, err)
	t.Cleanup(func() { logger.Close() })

	name := "backend_" + time.Now().Format("2006-01-02") + ".log"
	return logger, filepath.Join(dir, name)
}

// readLines syncs the logger and decodes every JSON line it wrote.
func readLines(t *testing.T, logger *Logger, path string) []map[string]any {
	t.Helper()
	require.NoError(t, logger.file.Sync())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry), "line: %s", scanner.Text())
		lines = append(lines, entry)
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestNew_WritesJSONWithServiceAttr(t *testing.T) {
	t.Parallel()
	logger, path := newFileLogger(t, slog.LevelInfo)

	logger.Slog().Info("request", "method", "POST", "path", "/summarize", "request_id", "abc123")

	lines := readLines(t, logger, path)
	require.Len(t, lines, 1)
	assert.Equal(t, "request", lines[0]["msg"])
	assert.Equal(t, "backend", lines[0]["service"])
	assert.Equal(t, "POST", lines[0]["method"])
	assert.Equal(t, "abc123", lines[0]["request_id"])
}

func TestNew_LogFileOwnerOnly(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions only")
	}
	logger, path := newFileLogger(t, slog.LevelInfo)
	logger.Slog().Info("boot")
	require.NoError(t, logger.file.Sync())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestNew_LevelFilter(t *testing.T) {
	t.Parallel()
	logger, path := newFileLogger(t, slog.LevelWarn)

	logger.Slog().Debug("noise")
	logger.Slog().Info("also noise")
	logger.Slog().Warn("kept")
	logger.Slog().Error("also kept")

	lines := readLines(t, logger, path)
	require.Len(t, lines, 2)
	assert.Equal(t, "kept", lines[0]["msg"])
	assert.Equal(t, "also kept", lines[1]["msg"])
}

func TestNew_UnwritableDirFails(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("needs a non-root unix user to observe EACCES")
	}
	parent := t.TempDir()
	require.NoError(t, os.Chmod(parent, 0o500))
	t.Cleanup(func() { os.Chmod(parent, 0o700) })

	_, err := New(Config{Dir: filepath.Join(parent, "logs"), Quiet: true})
	assert.Error(t, err)
}

// Patient-data keys must never reach the operational log, whatever the
// call site passes.
func TestRedaction_PatientDataKeys(t *testing.T) {
	t.Parallel()
	logger, path := newFileLogger(t, slog.LevelInfo)

	logger.Slog().Info("saving consultation",
		"patient_id", "p-451",
		"dentist_name", "Dr. Martin",
		"transcription", "Douleur molaire 36 depuis 3 jours.",
		"digest", "abcdef123456",
	)

	lines := readLines(t, logger, path)
	require.Len(t, lines, 1)
	assert.Equal(t, redactedValue, lines[0]["patient_id"])
	assert.Equal(t, redactedValue, lines[0]["dentist_name"])
	assert.Equal(t, redactedValue, lines[0]["transcription"])
	// Non-clinical keys pass through untouched.
	assert.Equal(t, "abcdef123456", lines[0]["digest"])

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "Douleur molaire")
	assert.NotContains(t, string(raw), "p-451")
}

func TestRedaction_AppliesInsideGroups(t *testing.T) {
	t.Parallel()
	logger, path := newFileLogger(t, slog.LevelInfo)

	logger.Slog().Info("search",
		slog.Group("request", "query", "douleur molaire", "top_k", 5))

	lines := readLines(t, logger, path)
	require.Len(t, lines, 1)
	request, ok := lines[0]["request"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, redactedValue, request["query"])
	assert.Equal(t, float64(5), request["top_k"])
}

func TestRedaction_AppliesToWithAttrs(t *testing.T) {
	t.Parallel()
	logger, path := newFileLogger(t, slog.LevelInfo)

	scoped := logger.Slog().With("patient_id", "p-7", "request_id", "req-1")
	scoped.Info("transcribing")

	lines := readLines(t, logger, path)
	require.Len(t, lines, 1)
	assert.Equal(t, redactedValue, lines[0]["patient_id"])
	assert.Equal(t, "req-1", lines[0]["request_id"])
}

func TestRedaction_PromptNeverLogged(t *testing.T) {
	t.Parallel()
	logger, path := newFileLogger(t, slog.LevelInfo)

	logger.Slog().Warn("generation slow",
		"prompt", "Transcription:\nLe patient presente une pulpite.",
		"elapsed_ms", 9000)

	raw := func() string {
		require.NoError(t, logger.file.Sync())
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		return string(data)
	}()
	assert.NotContains(t, raw, "pulpite")
	assert.Contains(t, raw, redactedValue)
}

func TestNew_DefaultsServiceName(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	logger, err := New(Config{Dir: dir, Quiet: true})
	require.NoError(t, err)
	defer logger.Close()
	logger.Slog().Info("boot")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "backend_"))
}

func TestNew_NoDirStderrOnly(t *testing.T) {
	t.Parallel()

	logger, err := New(Config{Quiet: true})
	require.NoError(t, err)
	assert.Nil(t, logger.file)
	assert.NoError(t, logger.Close())

	// Usable even with no sink configured.
	logger.Slog().Info("still works")
}

func TestClose_SecondCloseErrors(t *testing.T) {
	t.Parallel()
	logger, _ := newFileLogger(t, slog.LevelInfo)

	require.NoError(t, logger.Close())
	assert.Error(t, logger.Close(), "second close reports the closed file")
}
