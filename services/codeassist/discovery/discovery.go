// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package discovery enumerates the candidate source files of a project.
//
// A Walker applies an extension allow-list and the root .gitignore, and
// always skips version-control and dependency directories. Callers treat its
// output as pre-filtered.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultExtensions is the allow-list used when none is configured.
var DefaultExtensions = []string{
	".py", ".js", ".ts", ".jsx", ".tsx", ".json", ".md", ".html", ".css",
	".yml", ".yaml", ".sh", ".bash", ".java", ".c", ".cpp", ".h", ".hpp",
	".go", ".rs", ".php", ".rb", ".sql", ".txt",
}

// alwaysSkip holds directory names that are never descended into.
var alwaysSkip = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
}

// ErrNotDirectory is returned when the discovery root is not a directory.
var ErrNotDirectory = errors.New("discovery root is not a directory")

// Walker discovers files under a root directory.
//
// Thread Safety: Walker is immutable after construction and safe for
// concurrent use.
type Walker struct {
	extensions map[string]bool
	extra      []string
	logger     *slog.Logger
}

// Option configures a Walker.
type Option func(*Walker)

// WithExtensions replaces the extension allow-list.
func WithExtensions(exts []string) Option {
	return func(w *Walker) {
		w.extensions = make(map[string]bool, len(exts))
		for _, ext := range exts {
			w.extensions[strings.ToLower(ext)] = true
		}
	}
}

// WithIgnorePatterns adds gitignore-style patterns applied on top of the
// root .gitignore.
func WithIgnorePatterns(patterns []string) Option {
	return func(w *Walker) {
		w.extra = append(w.extra, patterns...)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Walker) {
		w.logger = logger
	}
}

// NewWalker creates a Walker.
func NewWalker(opts ...Option) *Walker {
	w := &Walker{logger: slog.Default()}
	WithExtensions(DefaultExtensions)(w)
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Discover returns the absolute paths of allowed, non-ignored files under
// root in lexical order.
//
// Description:
//
//	Reads root/.gitignore if present, then walks the tree pruning ignored
//	directories. Unreadable subdirectories are skipped, not reported.
//
// Outputs:
//
//	[]string - Absolute file paths.
//	error    - ErrNotDirectory, a stat error for root, or ctx.Err().
func (w *Walker) Discover(ctx context.Context, root string) ([]string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, absRoot)
	}

	rules, err := LoadIgnoreFile(filepath.Join(absRoot, ".gitignore"))
	if err != nil {
		w.logger.Warn("ignoring unreadable .gitignore",
			slog.String("root", absRoot),
			slog.String("error", err.Error()))
	}
	rules = append(rules, ParseIgnoreLines(w.extra)...)
	matcher := NewIgnoreMatcher(rules)

	var files []string
	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path == absRoot {
			return nil
		}

		rel, relErr := filepath.Rel(absRoot, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if alwaysSkip[d.Name()] || matcher.Match(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if matcher.Match(rel, false) {
			return nil
		}
		if !w.extensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walking %s: %w", absRoot, walkErr)
	}

	sort.Strings(files)
	w.logger.Debug("discovery complete",
		slog.String("root", absRoot),
		slog.Int("files", len(files)))
	return files, nil
}
