// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rag

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/DentalAssistant/services/backend/apperrors"
	"github.com/AleutianAI/DentalAssistant/services/backend/datatypes"
)

func testRecord(note string) datatypes.ConsultationRecord {
	return datatypes.NewConsultationRecord("req-1", note, "transcription", "Dr. Martin", "controle", "")
}

func TestJournal_AppendAndScan(t *testing.T) {
	t.Parallel()
	journal := NewJournal(filepath.Join(t.TempDir(), "consultations.jsonl"))

	first := testRecord("note one")
	second := testRecord("note two")
	require.NoError(t, journal.Append(first))
	require.NoError(t, journal.Append(second))

	records, err := journal.Scan()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, first.Digest, records[0].Digest)
	assert.Equal(t, second.Digest, records[1].Digest)

	count, err := journal.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestJournal_ScanMissingFile(t *testing.T) {
	t.Parallel()
	journal := NewJournal(filepath.Join(t.TempDir(), "missing.jsonl"))

	records, err := journal.Scan()
	require.NoError(t, err)
	assert.Empty(t, records)
}

// TestJournal_SkipsPartialLine simulates a crash mid-append: the last
// line loses its trailing newline and must be skipped on scan.
func TestJournal_SkipsPartialLine(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "consultations.jsonl")
	journal := NewJournal(path)

	for _, note := range []string{"note one", "note two", "note three"} {
		require.NoError(t, journal.Append(testRecord(note)))
	}

	// Truncate the trailing newline of the final record.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-1], 0o600))

	records, err := journal.Scan()
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestJournal_SkipsGarbageLine(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "consultations.jsonl")
	journal := NewJournal(path)

	require.NoError(t, journal.Append(testRecord("good")))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("{not json at all\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, journal.Append(testRecord("also good")))

	records, err := journal.Scan()
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestJournal_AppendToUnwritableDir(t *testing.T) {
	t.Parallel()
	journal := NewJournal(filepath.Join(t.TempDir(), "no", "such", "dir", "j.jsonl"))

	err := journal.Append(testRecord("note"))
	assert.True(t, apperrors.Is(err, apperrors.KindStoragePersist))
}
