// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sourcegraph/go-diff/diff"

	"github.com/mracul/code-assistant/services/codeassist/session"
)

var (
	// ErrInvalidDiff indicates text that is not a single-file unified diff.
	ErrInvalidDiff = errors.New("invalid unified diff")

	// ErrPatchMismatch indicates a hunk whose context does not match the file.
	ErrPatchMismatch = errors.New("diff does not apply")
)

// parseSingleDiff parses text as a unified diff touching exactly one file
// with at least one hunk.
func parseSingleDiff(text string) (*diff.FileDiff, error) {
	fds, err := diff.NewMultiFileDiffReader(strings.NewReader(text)).ReadAllFiles()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDiff, err)
	}
	if len(fds) != 1 {
		return nil, fmt.Errorf("%w: expected one file, got %d", ErrInvalidDiff, len(fds))
	}
	if len(fds[0].Hunks) == 0 {
		return nil, fmt.Errorf("%w: no hunks", ErrInvalidDiff)
	}
	return fds[0], nil
}

// hunkLines splits a hunk body into its lines without the final newline.
func hunkLines(h *diff.Hunk) []string {
	body := strings.TrimSuffix(string(h.Body), "\n")
	if body == "" {
		return nil
	}
	return strings.Split(body, "\n")
}

// applyDiff applies fd to original. Context and removed lines must match
// the original exactly; a blank body line counts as empty context.
func applyDiff(original string, fd *diff.FileDiff) (string, error) {
	trailingNewline := original == "" || strings.HasSuffix(original, "\n")
	var origLines []string
	if original != "" {
		origLines = strings.Split(strings.TrimSuffix(original, "\n"), "\n")
	}
	newLines := make([]string, 0, len(origLines))

	origIdx := 0
	for i, hunk := range fd.Hunks {
		hunkStart := int(hunk.OrigStartLine) - 1
		if hunk.OrigLines == 0 {
			hunkStart = int(hunk.OrigStartLine)
		}
		if hunkStart < origIdx || hunkStart > len(origLines) {
			return "", fmt.Errorf("%w: hunk %d starts at line %d", ErrPatchMismatch, i+1, hunk.OrigStartLine)
		}
		newLines = append(newLines, origLines[origIdx:hunkStart]...)
		origIdx = hunkStart

		for _, line := range hunkLines(hunk) {
			switch {
			case strings.HasPrefix(line, "+"):
				newLines = append(newLines, line[1:])
			case strings.HasPrefix(line, "-"), strings.HasPrefix(line, " "), line == "":
				want := ""
				if line != "" {
					want = line[1:]
				}
				if origIdx >= len(origLines) || origLines[origIdx] != want {
					return "", fmt.Errorf("%w: hunk %d does not match line %d", ErrPatchMismatch, i+1, origIdx+1)
				}
				if !strings.HasPrefix(line, "-") {
					newLines = append(newLines, want)
				}
				origIdx++
			case strings.HasPrefix(line, `\`):
				// "\ No newline at end of file"
			default:
				return "", fmt.Errorf("%w: malformed hunk line %q", ErrInvalidDiff, line)
			}
		}
	}
	newLines = append(newLines, origLines[origIdx:]...)

	out := strings.Join(newLines, "\n")
	if trailingNewline && len(newLines) > 0 {
		out += "\n"
	}
	return out, nil
}

// diffStat counts added and removed lines.
func diffStat(fd *diff.FileDiff) (added, removed int) {
	for _, h := range fd.Hunks {
		for _, line := range hunkLines(h) {
			switch {
			case strings.HasPrefix(line, "+"):
				added++
			case strings.HasPrefix(line, "-"):
				removed++
			}
		}
	}
	return added, removed
}

// unifiedDiff renders the change from before to after as a unified diff
// with git-style a/ and b/ headers.
func unifiedDiff(rel, before, after string) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        splitLines(before),
		B:        splitLines(after),
		FromFile: "a/" + rel,
		ToFile:   "b/" + rel,
		Context:  3,
	})
}

// splitLines splits content into newline-terminated lines. Unlike
// difflib.SplitLines it adds no phantom line after a final newline.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	return difflib.SplitLines(strings.TrimSuffix(content, "\n"))
}

// changedPaths returns the modified buffers that differ from their loaded
// original, sorted.
func changedPaths(s *session.State) []string {
	paths := make([]string, 0, len(s.ModifiedBuffers))
	for p, after := range s.ModifiedBuffers {
		if s.LoadedFiles[p] != after {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}

// pendingDiff renders every modified buffer that differs from its loaded
// original, in path order.
func pendingDiff(s *session.State) (string, error) {
	var b strings.Builder
	for _, p := range changedPaths(s) {
		d, err := unifiedDiff(relPath(s.ProjectRoot, p), s.LoadedFiles[p], s.ModifiedBuffers[p])
		if err != nil {
			return "", err
		}
		b.WriteString(d)
	}
	return b.String(), nil
}

// pendingChange renders everything a commit would cover: each changed
// buffer, plus the proposed diff when it was not applied to a buffer.
// files lists the project-relative paths touched, sorted.
func pendingChange(s *session.State) (text string, files []string, err error) {
	text, err = pendingDiff(s)
	if err != nil {
		return "", nil, err
	}
	for _, p := range changedPaths(s) {
		files = append(files, relPath(s.ProjectRoot, p))
	}
	if s.Diff != nil && !slices.Contains(files, s.Diff.FilePath) {
		if text != "" && !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		text += s.Diff.Diff
		files = append(files, s.Diff.FilePath)
		sort.Strings(files)
	}
	return text, files, nil
}

// relPath renders path relative to root with forward slashes. Paths that
// are not under root are returned unchanged.
func relPath(root, path string) string {
	if !filepath.IsAbs(path) {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// resolveInRoot joins a diff path onto root, stripping a/ or b/ prefixes,
// and rejects paths that leave root.
func resolveInRoot(root, p string) (string, bool) {
	p = strings.TrimPrefix(strings.TrimPrefix(p, "a/"), "b/")
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, filepath.FromSlash(p))
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return p, true
}
