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
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode"

	"github.com/mracul/code-assistant/services/codeassist/ast"
	"github.com/mracul/code-assistant/services/codeassist/conversation"
	"github.com/mracul/code-assistant/services/codeassist/session"
)

// refactor renames a function and its unqualified calls within one file.
type refactor struct {
	parsers *ast.ParserRegistry
	logger  *slog.Logger
}

func newRefactor(deps Deps) (Unit, error) {
	parsers := deps.Parsers
	if parsers == nil {
		parsers = ast.NewDefaultRegistry()
	}
	return &refactor{parsers: parsers, logger: deps.logger()}, nil
}

// Run applies s.Rename to the file's current content.
//
// Description:
//
//	The file must be loaded and present in the index. The current buffer
//	is re-parsed so that earlier pending edits are respected, then every
//	matching declaration name and unqualified call target is replaced by
//	byte range. Qualified calls (obj.name()) are left alone.
func (r *refactor) Run(ctx context.Context, s *session.State) (*session.State, error) {
	const step = "Refactor"
	req := s.Rename
	if req == nil {
		s.SetError(step, "No rename request found in state.")
		return s, nil
	}
	rel := relPath(s.ProjectRoot, req.FilePath)

	content, ok := s.FileContent(req.FilePath)
	if !ok {
		s.SetError(step, fmt.Sprintf("File '%s' not found in state.", rel))
		return s, nil
	}
	if _, ok := s.Index.Tree(req.FilePath); !ok {
		s.SetError(step, fmt.Sprintf("AST for '%s' not found in the codebase index. Please run /index first.", rel))
		return s, nil
	}
	if !isIdentifier(req.NewName) {
		s.SetError(step, fmt.Sprintf("'%s' is not a valid identifier.", req.NewName))
		return s, nil
	}

	parser, ok := r.parsers.ForPath(req.FilePath)
	if !ok {
		s.SetError(step, fmt.Sprintf("No parser available for '%s'.", rel))
		return s, nil
	}
	tree, err := parser.Parse(ctx, []byte(content), req.FilePath)
	if err != nil {
		if isCancellation(ctx, err) {
			return s, err
		}
		s.SetError(step, fmt.Sprintf("Failed to parse '%s': %v", rel, err))
		return s, nil
	}

	spans := renameSpans(tree, req.OldName)
	if len(spans) == 0 {
		s.SetError(step, fmt.Sprintf("Function '%s' not found in '%s'.", req.OldName, rel))
		return s, nil
	}
	updated := replaceSpans(content, spans, req.NewName)

	text, err := unifiedDiff(rel, content, updated)
	if err != nil {
		s.SetError(step, fmt.Sprintf("Failed to render diff: %v", err))
		return s, nil
	}

	s.ModifyBuffer(req.FilePath, updated)
	change := session.ProposedChange{FilePath: rel, Diff: text}
	s.Diff = &change
	s.SetResult(change)
	s.AddMessage(ctx, conversation.RoleSystem,
		fmt.Sprintf("Renamed '%s' to '%s' in %s.", req.OldName, req.NewName, rel), false)
	r.logger.Info("rename applied",
		slog.String("session_id", s.ID),
		slog.String("file", rel),
		slog.Int("occurrences", len(spans)))
	return s, nil
}

// renameSpans returns the name spans of callables called name and the
// target spans of unqualified calls to it, in ascending order.
func renameSpans(tree *ast.ParseResult, name string) []ast.Span {
	seen := make(map[uint32]ast.Span)
	for _, fn := range tree.Functions() {
		if fn.Name == name {
			seen[fn.NameSpan.StartByte] = fn.NameSpan
		}
	}
	for _, c := range tree.Calls {
		if !c.Qualified && c.Target == name {
			seen[c.TargetSpan.StartByte] = c.TargetSpan
		}
	}
	spans := make([]ast.Span, 0, len(seen))
	for _, sp := range seen {
		spans = append(spans, sp)
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].StartByte < spans[j].StartByte })
	return spans
}

// replaceSpans substitutes repl for each span of content. Spans must be
// ascending and non-overlapping.
func replaceSpans(content string, spans []ast.Span, repl string) string {
	var b strings.Builder
	b.Grow(len(content))
	last := 0
	for _, sp := range spans {
		b.WriteString(content[last:sp.StartByte])
		b.WriteString(repl)
		last = int(sp.EndByte)
	}
	b.WriteString(content[last:])
	return b.String()
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}
