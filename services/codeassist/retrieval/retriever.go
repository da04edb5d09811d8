// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval stores embedded code chunks and answers similarity
// queries over them.
package retrieval

import (
	"context"
	"errors"
	"math"

	"github.com/mracul/code-assistant/services/codeassist/chunk"
	"github.com/mracul/code-assistant/services/llm"
)

// previewLen is the number of runes kept in Hit.ContentPreview.
const previewLen = 200

var (
	// ErrNoEmbedder is returned when a store is built without an embedder.
	ErrNoEmbedder = errors.New("retrieval requires an embedder")

	// ErrDimensionMismatch is returned when vectors of different lengths meet.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Embedder produces vectors for chunks and queries.
type Embedder = llm.Embedder

// Hit is one ranked retrieval result.
type Hit struct {
	FilePath       string  `json:"file_path"`
	Name           string  `json:"name"`
	StartLine      int     `json:"start_line"`
	ContentPreview string  `json:"content_preview"`
	Score          float64 `json:"score"`
}

// Retriever is the semantic retrieval collaborator.
type Retriever interface {
	// Search returns up to k hits for text, best first.
	Search(ctx context.Context, text string, k int) ([]Hit, error)

	// AddChunks embeds and stores chunks, replacing whatever was stored
	// earlier for the files they belong to.
	AddChunks(ctx context.Context, chunks []chunk.Chunk) error
}

// Cosine returns the cosine similarity of a and b. Zero vectors score 0.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

func preview(content string) string {
	r := []rune(content)
	if len(r) <= previewLen {
		return content
	}
	return string(r[:previewLen]) + "..."
}
