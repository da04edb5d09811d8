// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/mracul/code-assistant/services/codeassist/chunk"
)

type memoryItem struct {
	chunk  chunk.Chunk
	vector []float32
}

// MemoryStore ranks chunks in process by cosine similarity.
//
// Chunks are keyed by file path, name and start line. Adding chunks for a
// file replaces everything stored for it earlier.
//
// Thread Safety: Safe for concurrent use.
type MemoryStore struct {
	embedder Embedder

	mu    sync.RWMutex
	items map[string]memoryItem
	order []string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(embedder Embedder) (*MemoryStore, error) {
	if embedder == nil {
		return nil, ErrNoEmbedder
	}
	return &MemoryStore{embedder: embedder, items: make(map[string]memoryItem)}, nil
}

// AddChunks implements Retriever. Chunks already stored for a file in the
// batch are dropped first, so re-adding a file leaves none of its stale
// chunks behind.
func (m *MemoryStore) AddChunks(ctx context.Context, chunks []chunk.Chunk) error {
	items := make([]memoryItem, 0, len(chunks))
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		vec, err := m.embedder.Embed(ctx, c.Content)
		if err != nil {
			return fmt.Errorf("embedding %s:%s: %w", c.FilePath, c.Name, err)
		}
		items = append(items, memoryItem{chunk: c, vector: vec})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropFiles(chunks)
	for _, item := range items {
		key := chunkKey(item.chunk)
		if _, ok := m.items[key]; !ok {
			m.order = append(m.order, key)
		}
		m.items[key] = item
	}
	return nil
}

// dropFiles removes every stored chunk whose file appears in chunks.
// Callers hold m.mu.
func (m *MemoryStore) dropFiles(chunks []chunk.Chunk) {
	files := make(map[string]bool)
	for _, c := range chunks {
		files[c.FilePath] = true
	}
	kept := m.order[:0]
	for _, key := range m.order {
		if files[m.items[key].chunk.FilePath] {
			delete(m.items, key)
			continue
		}
		kept = append(kept, key)
	}
	m.order = kept
}

// chunkKey identifies a chunk by file, name and start line. Names alone
// collide, e.g. two classes in one file that both define __init__.
func chunkKey(c chunk.Chunk) string {
	return c.FilePath + "\x00" + c.Name + "\x00" + strconv.Itoa(c.StartLine)
}

// Search implements Retriever. Ties keep insertion order.
func (m *MemoryStore) Search(ctx context.Context, text string, k int) ([]Hit, error) {
	if k <= 0 {
		return []Hit{}, nil
	}
	query, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	m.mu.RLock()
	hits := make([]Hit, 0, len(m.order))
	for _, key := range m.order {
		item := m.items[key]
		score, err := Cosine(query, item.vector)
		if err != nil {
			continue
		}
		hits = append(hits, Hit{
			FilePath:       item.chunk.FilePath,
			Name:           item.chunk.Name,
			StartLine:      item.chunk.StartLine,
			ContentPreview: preview(item.chunk.Content),
			Score:          score,
		})
	}
	m.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Len returns the number of stored chunks.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

var _ Retriever = (*MemoryStore)(nil)
