// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rag

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
)

// Kind tags an indexed item so the retriever can filter.
type Kind string

const (
	KindConsultation Kind = "consultation"
	KindKnowledge    Kind = "knowledge"
)

// Item is one indexed entry: either a consultation note or a knowledge
// passage, with its embedding.
type Item struct {
	Id        string            `json:"id"`
	Kind      Kind              `json:"kind"`
	Text      string            `json:"text"`
	Embedding []float32         `json:"embedding"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// Hit is one nearest-neighbour result. Score is raw cosine in [-1, 1];
// callers rescale for display.
type Hit struct {
	Id    string
	Score float64
	Text  string
	Meta  map[string]string
}

// ClipScore maps a cosine score onto the UI-friendly [0, 1] range.
func ClipScore(score float64) float64 {
	if score < -1 {
		score = -1
	}
	if score > 1 {
		score = 1
	}
	return (score + 1) / 2
}

// Index is the in-process dense vector index.
//
// # Description
//
// All vectors live in memory for brute-force cosine ranking (dot product
// over L2-normalised embeddings); badger persists the items under the
// rag_data directory so a restart does not require re-embedding. The
// index is a cache of the journal: structural corruption is reported as
// an error at open time and the coordinator rebuilds from scratch.
//
// # Thread Safety
//
// A single write lock covers upsert/clear; reads run concurrently.
type Index struct {
	mu     sync.RWMutex
	db     *badger.DB
	items  map[string]*Item
	counts map[Kind]int
	dim    int
	path   string
}

// OpenIndex opens (or creates) the index at path and loads every item
// into memory, validating structure as it goes. A validation failure
// returns an error so the caller can rebuild.
func OpenIndex(path string) (*Index, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open index store: %w", err)
	}

	idx := &Index{
		db:     db,
		items:  make(map[string]*Item),
		counts: make(map[Kind]int),
		path:   path,
	}

	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var item Item
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &item)
			}); err != nil {
				return fmt.Errorf("index item %q is corrupt: %w", it.Item().Key(), err)
			}
			if len(item.Embedding) == 0 || item.Id == "" {
				return fmt.Errorf("index item %q fails validation", it.Item().Key())
			}
			if idx.dim == 0 {
				idx.dim = len(item.Embedding)
			} else if len(item.Embedding) != idx.dim {
				return fmt.Errorf("index item %q has dimension %d, want %d",
					item.Id, len(item.Embedding), idx.dim)
			}
			copied := item
			idx.items[item.Id] = &copied
			idx.counts[item.Kind]++
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return idx, nil
}

// Upsert inserts or replaces an item, persisting it before it becomes
// visible to queries.
func (x *Index) Upsert(item Item) error {
	if item.Id == "" || len(item.Embedding) == 0 {
		return fmt.Errorf("index item fails validation: empty id or embedding")
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.dim == 0 {
		x.dim = len(item.Embedding)
	} else if len(item.Embedding) != x.dim {
		return fmt.Errorf("embedding dimension %d does not match index dimension %d",
			len(item.Embedding), x.dim)
	}

	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	if err := x.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(item.Id), data)
	}); err != nil {
		return fmt.Errorf("persist index item: %w", err)
	}

	if prev, ok := x.items[item.Id]; ok {
		x.counts[prev.Kind]--
	}
	copied := item
	x.items[item.Id] = &copied
	x.counts[item.Kind]++
	return nil
}

// Query returns the k nearest items by cosine similarity, optionally
// restricted to one kind. Unknown kinds in the index are never returned.
func (x *Index) Query(embedding []float32, k int, kindFilter Kind) []Hit {
	if k <= 0 || len(embedding) == 0 {
		return nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	hits := make([]Hit, 0, len(x.items))
	for _, item := range x.items {
		if kindFilter != "" && item.Kind != kindFilter {
			continue
		}
		if item.Kind != KindConsultation && item.Kind != KindKnowledge {
			continue
		}
		if len(item.Embedding) != len(embedding) {
			continue
		}
		hits = append(hits, Hit{
			Id:    item.Id,
			Score: dot(embedding, item.Embedding),
			Text:  item.Text,
			Meta:  item.Meta,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		// Ties break by newer creation instant, then lexicographic id.
		ci := hits[i].Meta["created_at"]
		cj := hits[j].Meta["created_at"]
		if ci != cj {
			return ci > cj
		}
		return hits[i].Id < hits[j].Id
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// Count returns the number of items of a kind ("" counts everything).
// O(1); the per-kind counters are maintained on every mutation.
func (x *Index) Count(kind Kind) int {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if kind == "" {
		return len(x.items)
	}
	return x.counts[kind]
}

// Clear removes every item from memory and disk.
func (x *Index) Clear() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.db.DropAll(); err != nil {
		return fmt.Errorf("clear index store: %w", err)
	}
	x.items = make(map[string]*Item)
	x.counts = make(map[Kind]int)
	x.dim = 0
	return nil
}

// Close releases the underlying store.
func (x *Index) Close() error {
	return x.db.Close()
}

// Path returns the index directory.
func (x *Index) Path() string { return x.path }

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
