// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rag

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/DentalAssistant/services/backend/datatypes"
)

// testEmbed is a deterministic letter-frequency embedder: texts that
// share vocabulary land close in cosine space, which is enough to
// exercise retrieval ordering without model weights.
func testEmbed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, 27)
		for _, r := range strings.ToLower(text) {
			if r >= 'a' && r <= 'z' {
				vec[r-'a']++
			} else if r == ' ' {
				vec[26]++
			}
		}
		var sum float64
		for _, v := range vec {
			sum += float64(v) * float64(v)
		}
		if sum > 0 {
			norm := float32(math.Sqrt(sum))
			for j := range vec {
				vec[j] /= norm
			}
		} else {
			vec[0] = 1
		}
		out[i] = vec
	}
	return out, nil
}

func newTestCoordinator(t *testing.T, seed []datatypes.KnowledgeDocument) (*Coordinator, *Journal, string) {
	t.Helper()
	dir := t.TempDir()
	journal := NewJournal(filepath.Join(dir, "consultations.jsonl"))
	indexPath := filepath.Join(dir, "rag_data", "index")
	c := NewCoordinator(journal, indexPath, testEmbed, nil, seed)
	t.Cleanup(func() { c.Close() })
	return c, journal, indexPath
}

func waitReady(t *testing.T, c *Coordinator) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.Ready() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("coordinator never became ready: %+v", c.Status())
}

func TestCoordinator_SaveThenSearch(t *testing.T) {
	t.Parallel()
	c, _, _ := newTestCoordinator(t, nil)
	require.NoError(t, c.Start(context.Background()))
	waitReady(t, c)

	rec := datatypes.NewConsultationRecord("req-1",
		"Motif: douleur molaire. Plan: traitement endodontique.",
		"Le patient presente une douleur a la molaire 36.",
		"Dr. Martin", "urgence", "patient-7")
	require.NoError(t, c.SaveConsultation(context.Background(), rec))

	results, err := c.SearchConsultations(context.Background(), "douleur molaire", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Contains(t, results[0].SmartNote, "douleur molaire")
	assert.Equal(t, "Dr. Martin", results[0].DentistName)
	assert.Greater(t, results[0].Score, 0.5)
	assert.LessOrEqual(t, results[0].Score, 1.0)
}

func TestCoordinator_StatusCountsAlign(t *testing.T) {
	t.Parallel()
	c, journal, _ := newTestCoordinator(t, nil)
	require.NoError(t, c.Start(context.Background()))
	waitReady(t, c)

	for i, note := range []string{"note alpha", "note beta", "note gamma"} {
		rec := datatypes.NewConsultationRecord("req", note, "", "", "", "")
		rec.CreatedAt += int64(i)
		require.NoError(t, c.SaveConsultation(context.Background(), rec))
	}

	st := c.Status()
	assert.Equal(t, 3, st.ConsultationsCount)
	assert.True(t, st.Ready)

	count, err := journal.Count()
	require.NoError(t, err)
	assert.Equal(t, count, st.ConsultationsCount)
}

// TestCoordinator_RebuildAfterIndexLoss is the crash-recovery scenario:
// records in the journal, one corrupted line, index wiped, restart.
func TestCoordinator_RebuildAfterIndexLoss(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	journalPath := filepath.Join(dir, "consultations.jsonl")
	indexPath := filepath.Join(dir, "rag_data", "index")
	journal := NewJournal(journalPath)

	for _, note := range []string{"premiere note", "deuxieme note", "troisieme note"} {
		require.NoError(t, journal.Append(datatypes.NewConsultationRecord("req", note, "", "", "", "")))
	}

	// Corrupt the last line (truncate trailing newline) and delete any
	// index state.
	data, err := os.ReadFile(journalPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(journalPath, data[:len(data)-1], 0o600))
	require.NoError(t, os.RemoveAll(indexPath))

	c := NewCoordinator(journal, indexPath, testEmbed, nil, nil)
	defer c.Close()
	require.NoError(t, c.Start(context.Background()))
	waitReady(t, c)

	st := c.Status()
	assert.Equal(t, 2, st.ConsultationsCount)
	assert.True(t, st.Ready)
}

func TestCoordinator_RebuildDeduplicatesByDigest(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	journal := NewJournal(filepath.Join(dir, "consultations.jsonl"))
	indexPath := filepath.Join(dir, "rag_data", "index")

	rec := datatypes.NewConsultationRecord("req", "duplicate note", "", "", "", "")
	require.NoError(t, journal.Append(rec))
	require.NoError(t, journal.Append(rec))

	c := NewCoordinator(journal, indexPath, testEmbed, nil, nil)
	defer c.Close()
	require.NoError(t, c.Start(context.Background()))
	waitReady(t, c)

	assert.Equal(t, 1, c.Status().ConsultationsCount)
}

func TestCoordinator_KnowledgeSeedAndRetrieve(t *testing.T) {
	t.Parallel()
	seed := []datatypes.KnowledgeDocument{
		{Id: "doc-a", Source: "Protocole", Section: "Urgences", Body: "protocole pulpite douleur molaire ibuprofene"},
		{Id: "doc-b", Source: "Protocole", Section: "Hygiene", Body: "sterilisation autoclave instruments cabinet"},
	}
	c, _, _ := newTestCoordinator(t, seed)
	require.NoError(t, c.Start(context.Background()))
	waitReady(t, c)

	st := c.Status()
	assert.Equal(t, 2, st.KnowledgeCount)

	passages, err := c.RetrieveContext(context.Background(), "douleur pulpite molaire", 1)
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.Contains(t, passages[0].Body, "pulpite")
	assert.Equal(t, "Urgences", passages[0].Section)
}

// Consultations must never leak into the knowledge retrieval path.
func TestCoordinator_RetrieveContextFiltersKind(t *testing.T) {
	t.Parallel()
	seed := []datatypes.KnowledgeDocument{
		{Id: "doc-a", Source: "Protocole", Body: "sterilisation autoclave"},
	}
	c, _, _ := newTestCoordinator(t, seed)
	require.NoError(t, c.Start(context.Background()))
	waitReady(t, c)

	rec := datatypes.NewConsultationRecord("req", "sterilisation autoclave note patient", "", "", "", "")
	require.NoError(t, c.SaveConsultation(context.Background(), rec))

	passages, err := c.RetrieveContext(context.Background(), "sterilisation autoclave", 10)
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.Equal(t, "Protocole", passages[0].Source)
}

func TestCoordinator_ExportOrderMatchesInsertion(t *testing.T) {
	t.Parallel()
	c, journal, _ := newTestCoordinator(t, nil)
	require.NoError(t, c.Start(context.Background()))
	waitReady(t, c)

	notes := []string{"premiere", "deuxieme", "troisieme"}
	for _, note := range notes {
		require.NoError(t, c.SaveConsultation(context.Background(),
			datatypes.NewConsultationRecord("req", note, "", "", "", "")))
	}

	records, err := journal.Export()
	require.NoError(t, err)
	require.Len(t, records, len(notes))
	for i, note := range notes {
		assert.Equal(t, note, records[i].SmartNote)
	}
}
