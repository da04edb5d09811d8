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
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/mracul/code-assistant/services/codeassist/conversation"
	"github.com/mracul/code-assistant/services/codeassist/session"
	"github.com/mracul/code-assistant/services/llm"
)

// diffAgent turns the selected strategy into a unified diff.
type diffAgent struct {
	llm    llm.LLMClient
	logger *slog.Logger
}

func newDiffAgent(deps Deps) (Unit, error) {
	if deps.LLM == nil {
		return nil, errNoLLM
	}
	return &diffAgent{llm: deps.LLM, logger: deps.logger()}, nil
}

// Run asks for a diff, validates it and, when it applies cleanly to the
// file's current content, stages the result as a pending buffer. A diff
// that parses but does not apply is still reported.
func (a *diffAgent) Run(ctx context.Context, s *session.State) (*session.State, error) {
	const step = "DiffAgent"
	if s.SelectedSolution == nil {
		s.SetError(step, "No solution has been selected. Cannot generate diff.")
		return s, nil
	}

	files := make(map[string]string, len(s.LoadedFiles))
	for p := range s.LoadedFiles {
		content, _ := s.FileContent(p)
		files[relPath(s.ProjectRoot, p)] = content
	}

	var reply session.ProposedChange
	err := generateJSON(ctx, a.llm, "diff_agent", promptData{
		Request:  s.UserRequest,
		Solution: s.SelectedSolution,
		Files:    files,
	}, &reply)
	if err != nil {
		if isCancellation(ctx, err) {
			return s, err
		}
		s.SetError(step, fmt.Sprintf("Failed to generate diff: %v", err))
		return s, nil
	}
	if reply.FilePath == "" || reply.Diff == "" {
		s.SetError(step, "Generated diff is missing its file path or content.")
		return s, nil
	}

	fd, err := parseSingleDiff(reply.Diff)
	if err != nil {
		s.SetError(step, fmt.Sprintf("Generated diff is not valid: %v", err))
		return s, nil
	}
	abs, ok := resolveInRoot(s.ProjectRoot, reply.FilePath)
	if !ok {
		s.SetError(step, fmt.Sprintf("Generated diff targets '%s', outside the project.", reply.FilePath))
		return s, nil
	}
	rel := relPath(s.ProjectRoot, abs)

	added, removed := diffStat(fd)
	a.logger.Info("diff generated",
		slog.String("session_id", s.ID),
		slog.String("file", rel),
		slog.Int("added", added),
		slog.Int("removed", removed))

	if original, err := a.currentContent(s, abs); err != nil {
		a.logger.Warn("diff target unreadable", slog.String("file", rel), slog.String("error", err.Error()))
	} else if patched, err := applyDiff(original, fd); err != nil {
		a.logger.Warn("diff does not apply to current content",
			slog.String("file", rel),
			slog.String("error", err.Error()))
	} else {
		s.ModifyBuffer(abs, patched)
	}

	change := session.ProposedChange{FilePath: rel, Diff: reply.Diff}
	s.Diff = &change
	s.SetResult(change)
	s.AddMessage(ctx, conversation.RoleSystem, fmt.Sprintf("Generated code diff for %s.", rel), false)
	return s, nil
}

// currentContent returns the buffer or loaded text of abs, falling back to
// disk. A missing file is empty.
func (a *diffAgent) currentContent(s *session.State, abs string) (string, error) {
	if c, ok := s.FileContent(abs); ok {
		return c, nil
	}
	data, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	return string(data), err
}
