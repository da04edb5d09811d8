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
	"log/slog"
	"os"

	"github.com/mracul/code-assistant/services/codeassist/chunk"
	"github.com/mracul/code-assistant/services/codeassist/index"
)

// Indexer feeds the files of a structural index into a Retriever.
type Indexer struct {
	Index     *index.Index
	Retriever Retriever
	Counter   chunk.TokenCounter
	Logger    *slog.Logger
}

// Run chunks every indexed file and adds the chunks. Files that cannot be
// read are skipped. It returns the number of chunks added.
func (ix *Indexer) Run(ctx context.Context) (int, error) {
	logger := ix.Logger
	if logger == nil {
		logger = slog.Default()
	}
	counter := ix.Counter
	if counter == nil {
		counter = chunk.DefaultCounter()
	}

	total := 0
	for _, path := range ix.Index.Files() {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("skipping unreadable file", slog.String("file", path), slog.String("error", err.Error()))
			continue
		}
		tree, _ := ix.Index.Tree(path)
		chunks := chunk.ChunkFile(path, string(content), tree, counter)
		if len(chunks) == 0 {
			continue
		}
		if err := ix.Retriever.AddChunks(ctx, chunks); err != nil {
			return total, fmt.Errorf("adding chunks for %s: %w", path, err)
		}
		total += len(chunks)
	}
	logger.Info("semantic index updated", slog.Int("chunks", total))
	return total, nil
}
