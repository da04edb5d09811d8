// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package command

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mracul/code-assistant/services/codeassist/retrieval"
	"github.com/mracul/code-assistant/services/codeassist/search"
	"github.com/mracul/code-assistant/services/codeassist/session"
)

// DefaultContextFiles is how many search hits ContextBuilder loads.
const DefaultContextFiles = 3

// ContextBuilder loads the files most relevant to the user's request into
// the session before a workflow runs.
type ContextBuilder struct {
	Retriever retrieval.Retriever

	// MaxFiles caps the files loaded per request. Zero means
	// DefaultContextFiles.
	MaxFiles int

	Logger *slog.Logger
}

// Run searches for s.UserRequest and loads the top distinct files that are
// not loaded yet, pushing a file_context notification after each load. It
// does nothing beyond logging when there is no request or the index is
// not ready. Unreadable files are reported and skipped.
func (b *ContextBuilder) Run(ctx context.Context, s *session.State) {
	n := s.Notifier
	n.Log("Building context for the current prompt...")

	if s.UserRequest == "" {
		n.Log("No user request provided, skipping file search.")
		return
	}
	if !s.Index.IsIndexed() {
		n.Log("Warning: Codebase index is not ready. Context may be incomplete.")
		return
	}

	n.Log(fmt.Sprintf("Searching for files relevant to: '%s'", s.UserRequest))
	searcher := &search.Searcher{Index: s.Index, Retriever: b.Retriever, Logger: b.logger()}
	results := searcher.Search(ctx, s.UserRequest)
	if len(results) == 0 {
		n.Log("No relevant files found from search.")
		return
	}

	files := b.topFiles(s.ProjectRoot, results)
	n.Log(fmt.Sprintf("Loading top %d files into context...", len(files)))
	for _, path := range files {
		if _, loaded := s.LoadedFiles[path]; loaded {
			continue
		}
		content, err := os.ReadFile(path)
		if err != nil {
			n.Log(fmt.Sprintf("Error loading file %s: %v", path, err))
			continue
		}
		s.LoadFile(path, string(content))
		n.FileContext(s.LoadedFiles)
	}
	n.Log("Prompt-specific context build complete.")
}

// topFiles returns up to MaxFiles distinct absolute paths in result order.
func (b *ContextBuilder) topFiles(root string, results []search.Result) []string {
	limit := b.MaxFiles
	if limit <= 0 {
		limit = DefaultContextFiles
	}
	seen := make(map[string]struct{}, limit)
	files := make([]string, 0, limit)
	for _, r := range results {
		if len(files) == limit {
			break
		}
		path := r.FilePath
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		if _, dup := seen[path]; dup {
			continue
		}
		seen[path] = struct{}{}
		files = append(files, path)
	}
	return files
}

func (b *ContextBuilder) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}
