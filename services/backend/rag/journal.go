// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rag provides the durable consultation store and the semantic
// retrieval layer on top of it.
//
// # Ownership
//
// The append-only journal (consultations.jsonl) is the authoritative
// source of truth for saved notes. The vector index is a derived cache:
// it may be deleted at any time and is rebuilt by streaming the journal.
// The journal deliberately lives outside rag_data/ so wiping the index
// never destroys it.
package rag

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"sync"

	"github.com/AleutianAI/DentalAssistant/services/backend/apperrors"
	"github.com/AleutianAI/DentalAssistant/services/backend/datatypes"
	"github.com/AleutianAI/DentalAssistant/services/backend/observability"
)

// Journal is the append-only JSONL record of every saved consultation.
//
// # Thread Safety
//
// Appends are serialised by a mutex; reads take no lock (the file is
// append-only, a concurrent reader just sees a prefix).
type Journal struct {
	path string
	mu   sync.Mutex
}

// NewJournal creates a journal writing to path.
func NewJournal(path string) *Journal {
	return &Journal{path: path}
}

// Append writes one record as a JSON line and fsyncs before returning,
// so the record survives a crash immediately after the call. Disk
// failures surface as storage/persist.
func (j *Journal) Append(record datatypes.ConsultationRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return apperrors.Wrap(apperrors.KindStoragePersist, err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return apperrors.Wrap(apperrors.KindStoragePersist, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return apperrors.Wrap(apperrors.KindStoragePersist, err)
	}
	if err := f.Sync(); err != nil {
		return apperrors.Wrap(apperrors.KindStoragePersist, err)
	}
	return nil
}

// Scan yields all records in insertion order.
//
// Partial lines produced by a crash mid-append are detected (JSON decode
// failure or missing trailing newline) and skipped rather than failing
// the scan; each skip increments a metrics counter.
func (j *Journal) Scan() ([]datatypes.ConsultationRecord, error) {
	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.Wrap(apperrors.KindStoragePersist, err)
	}
	defer f.Close()

	var records []datatypes.ConsultationRecord
	reader := bufio.NewReader(f)
	lineno := 0
	for {
		line, err := reader.ReadString('\n')
		lineno++

		complete := err == nil
		if line != "" {
			var rec datatypes.ConsultationRecord
			if jsonErr := json.Unmarshal([]byte(line), &rec); jsonErr != nil || !complete {
				slog.Warn("Skipping malformed journal line", "line", lineno)
				if m := observability.DefaultMetrics; m != nil {
					m.JournalSkippedLinesTotal.Inc()
				}
			} else {
				records = append(records, rec)
			}
		}
		if err != nil {
			break
		}
	}
	return records, nil
}

// Count returns the number of intact records without retaining them.
func (j *Journal) Count() (int, error) {
	records, err := j.Scan()
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// Export returns the full sequence in insertion order.
func (j *Journal) Export() ([]datatypes.ConsultationRecord, error) {
	return j.Scan()
}
