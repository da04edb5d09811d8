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
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// maxIgnoreFileSize caps how much of a .gitignore is read (1 MiB).
const maxIgnoreFileSize = 1024 * 1024

// IgnoreRule is one compiled gitignore line.
type IgnoreRule struct {
	// Pattern is a doublestar glob relative to the root.
	Pattern string
	Negate  bool
	DirOnly bool
}

// ParseIgnoreLines compiles gitignore-style lines. Blank lines and comments
// are dropped.
//
// Patterns without a slash match at any depth ("*.log" becomes
// "**/*.log"); a leading slash anchors to the root.
func ParseIgnoreLines(lines []string) []IgnoreRule {
	rules := make([]IgnoreRule, 0, len(lines))
	for _, raw := range lines {
		line := strings.TrimRight(raw, " \t\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var rule IgnoreRule
		if strings.HasPrefix(line, "!") {
			rule.Negate = true
			line = line[1:]
		}
		line = strings.TrimPrefix(line, `\`)
		if strings.HasSuffix(line, "/") {
			rule.DirOnly = true
			line = strings.TrimRight(line, "/")
		}
		if line == "" {
			continue
		}

		anchored := strings.HasPrefix(line, "/") || strings.Contains(line, "/")
		line = strings.TrimPrefix(line, "/")
		if !anchored && !strings.HasPrefix(line, "**/") {
			line = "**/" + line
		}
		if !doublestar.ValidatePattern(line) {
			continue
		}
		rule.Pattern = line
		rules = append(rules, rule)
	}
	return rules
}

// LoadIgnoreFile reads and compiles a .gitignore. A missing file yields no
// rules and no error.
func LoadIgnoreFile(path string) ([]IgnoreRule, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 4096), maxIgnoreFileSize)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return ParseIgnoreLines(lines), nil
}

// IgnoreMatcher evaluates compiled rules; the last matching rule wins.
type IgnoreMatcher struct {
	rules []IgnoreRule
}

// NewIgnoreMatcher creates a matcher over rules.
func NewIgnoreMatcher(rules []IgnoreRule) *IgnoreMatcher {
	return &IgnoreMatcher{rules: rules}
}

// Match reports whether the slash-separated relative path is ignored, either
// directly or because one of its parent directories is.
func (m *IgnoreMatcher) Match(rel string, isDir bool) bool {
	if len(m.rules) == 0 {
		return false
	}
	parts := strings.Split(rel, "/")
	for i := 1; i < len(parts); i++ {
		if m.matchOne(strings.Join(parts[:i], "/"), true) {
			return true
		}
	}
	return m.matchOne(rel, isDir)
}

func (m *IgnoreMatcher) matchOne(rel string, isDir bool) bool {
	ignored := false
	for _, rule := range m.rules {
		if rule.DirOnly && !isDir {
			continue
		}
		if ok, _ := doublestar.Match(rule.Pattern, rel); ok {
			ignored = !rule.Negate
		}
	}
	return ignored
}
