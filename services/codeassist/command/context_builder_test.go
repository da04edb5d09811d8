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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mracul/code-assistant/services/codeassist/chunk"
	"github.com/mracul/code-assistant/services/codeassist/discovery"
	"github.com/mracul/code-assistant/services/codeassist/index"
	"github.com/mracul/code-assistant/services/codeassist/retrieval"
	"github.com/mracul/code-assistant/services/codeassist/session"
)

// fixedRetriever returns the same hits for every query.
type fixedRetriever struct{ hits []retrieval.Hit }

func (f fixedRetriever) AddChunks(context.Context, []chunk.Chunk) error { return nil }

func (f fixedRetriever) Search(_ context.Context, _ string, k int) ([]retrieval.Hit, error) {
	if len(f.hits) > k {
		return f.hits[:k], nil
	}
	return f.hits, nil
}

func indexedState(t *testing.T, files map[string]string) (*session.State, *session.Recorder) {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
	}
	idx := index.New(nil, index.WithDiscoverer(discovery.NewWalker()))
	_, err := idx.IndexDirectory(context.Background(), root)
	require.NoError(t, err)

	rec := &session.Recorder{}
	return session.New("ctx", root, nil, idx, rec), rec
}

func TestContextBuilder_SkipsWithoutRequestOrIndex(t *testing.T) {
	rec := &session.Recorder{}
	s := session.New("ctx", t.TempDir(), nil, nil, rec)
	b := &ContextBuilder{}

	b.Run(context.Background(), s)
	assert.Equal(t, []string{
		"Building context for the current prompt...",
		"No user request provided, skipping file search.",
	}, rec.Logs())

	s.UserRequest = "anything"
	b.Run(context.Background(), s)
	assert.Equal(t, "Warning: Codebase index is not ready. Context may be incomplete.", lastLog(rec))
	assert.Empty(t, s.LoadedFiles)
}

func TestContextBuilder_LoadsTopDistinctFiles(t *testing.T) {
	s, rec := indexedState(t, map[string]string{
		"a.py": "def a():\n    pass\n",
		"b.py": "def b():\n    pass\n",
		"c.py": "def c():\n    pass\n",
		"d.py": "def d():\n    pass\n",
	})
	b := &ContextBuilder{Retriever: fixedRetriever{hits: []retrieval.Hit{
		{FilePath: "a.py", Name: "a", Score: 0.9},
		{FilePath: "a.py", Name: "a2", Score: 0.8},
		{FilePath: "b.py", Name: "b", Score: 0.7},
		{FilePath: "c.py", Name: "c", Score: 0.6},
		{FilePath: "d.py", Name: "d", Score: 0.5},
	}}}
	s.UserRequest = "where is the loader"

	b.Run(context.Background(), s)

	assert.Len(t, s.LoadedFiles, 3)
	for _, name := range []string{"a.py", "b.py", "c.py"} {
		assert.Contains(t, s.LoadedFiles, filepath.Join(s.ProjectRoot, name))
	}
	assert.Len(t, rec.OfType(session.NotifyFileContext), 3)
	assert.Contains(t, rec.Logs(), "Loading top 3 files into context...")
	assert.Equal(t, "Prompt-specific context build complete.", lastLog(rec))
}

func TestContextBuilder_SkipsLoadedAndMissingFiles(t *testing.T) {
	s, rec := indexedState(t, map[string]string{"a.py": "def a():\n    pass\n"})
	loaded := filepath.Join(s.ProjectRoot, "a.py")
	s.LoadFile(loaded, "pinned")

	b := &ContextBuilder{Retriever: fixedRetriever{hits: []retrieval.Hit{
		{FilePath: "a.py", Name: "a"},
		{FilePath: "gone.py", Name: "g"},
	}}}
	s.UserRequest = "anything"
	b.Run(context.Background(), s)

	assert.Equal(t, "pinned", s.LoadedFiles[loaded])
	assert.Len(t, s.LoadedFiles, 1)
	assert.Empty(t, rec.OfType(session.NotifyFileContext))

	var sawError bool
	for _, line := range rec.Logs() {
		if strings.HasPrefix(line, "Error loading file") {
			sawError = true
		}
	}
	assert.True(t, sawError, "missing file must be reported")
}

func TestContextBuilder_NoResults(t *testing.T) {
	s, rec := indexedState(t, map[string]string{"a.py": "def a():\n    pass\n"})
	s.UserRequest = "nothing matches"

	(&ContextBuilder{}).Run(context.Background(), s)
	assert.Equal(t, "No relevant files found from search.", lastLog(rec))
}
