// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package discovery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func relAll(t *testing.T, root string, paths []string) []string {
	t.Helper()
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		rel, err := filepath.Rel(root, p)
		require.NoError(t, err)
		out = append(out, filepath.ToSlash(rel))
	}
	return out
}

func TestWalker_Discover(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".gitignore":              "build/\n*.log\n/secret.py\n!keep.log\n",
		"app.py":                  "x = 1",
		"pkg/util.go":             "package pkg",
		"pkg/secret.py":           "y = 2",
		"secret.py":               "z = 3",
		"build/out.py":            "gen",
		"debug.log":               "log",
		"keep.log":                "log",
		"image.png":               "bin",
		".git/config":             "[core]",
		"node_modules/x/index.js": "js",
	})

	w := NewWalker(WithExtensions([]string{".py", ".go", ".log"}))
	files, err := w.Discover(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []string{"app.py", "keep.log", "pkg/secret.py", "pkg/util.go"}, relAll(t, root, files))
}

func TestWalker_Discover_NotDirectory(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "a.py")
	writeTree(t, root, map[string]string{"a.py": ""})

	_, err := NewWalker().Discover(context.Background(), file)
	assert.True(t, errors.Is(err, ErrNotDirectory), "got %v", err)
}

func TestWalker_Discover_Canceled(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.py": ""})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewWalker().Discover(ctx, root)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWalker_ExtraIgnorePatterns(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.py":            "",
		"tests/test_a.py": "",
	})

	files, err := NewWalker(WithIgnorePatterns([]string{"tests/"})).Discover(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py"}, relAll(t, root, files))
}

func TestIgnoreMatcher(t *testing.T) {
	m := NewIgnoreMatcher(ParseIgnoreLines([]string{
		"# comment",
		"",
		"*.pyc",
		"dist/",
		"/root_only.txt",
		"docs/*.md",
		"!docs/keep.md",
	}))

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{"a.pyc", false, true},
		{"deep/nested/a.pyc", false, true},
		{"dist", true, true},
		{"dist", false, false},
		{"dist/bundle.js", false, true},
		{"root_only.txt", false, true},
		{"sub/root_only.txt", false, false},
		{"docs/guide.md", false, true},
		{"docs/keep.md", false, false},
		{"src/main.py", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Match(tt.path, tt.isDir))
		})
	}
}
