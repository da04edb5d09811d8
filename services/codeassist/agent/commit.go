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
	"strings"

	"github.com/mracul/code-assistant/services/codeassist/conversation"
	"github.com/mracul/code-assistant/services/codeassist/session"
	"github.com/mracul/code-assistant/services/llm"
)

// changeSummarizer condenses the pending change into a ChangeSummary.
type changeSummarizer struct {
	llm llm.LLMClient
}

func newChangeSummarizer(deps Deps) (Unit, error) {
	if deps.LLM == nil {
		return nil, errNoLLM
	}
	return &changeSummarizer{llm: deps.LLM}, nil
}

// Run summarizes every pending change: the modified buffers and a
// proposed diff that was not applied to one.
func (a *changeSummarizer) Run(ctx context.Context, s *session.State) (*session.State, error) {
	const step = "ChangeSummarizer"
	text, _, err := pendingChange(s)
	if err != nil {
		s.SetError(step, fmt.Sprintf("Failed to render pending changes: %v", err))
		return s, nil
	}
	if strings.TrimSpace(text) == "" {
		s.SetError(step, "No diff found in state.")
		return s, nil
	}

	var summary session.ChangeSummary
	if err := generateJSON(ctx, a.llm, "change_summarizer", promptData{Diff: text}, &summary); err != nil {
		if isCancellation(ctx, err) {
			return s, err
		}
		s.SetError(step, fmt.Sprintf("Failed to summarize changes: %v", err))
		return s, nil
	}
	if summary.Description == "" {
		s.SetError(step, "Change summary has no description.")
		return s, nil
	}
	if summary.Type == "" {
		summary.Type = "chore"
	}

	s.ChangeSummary = &summary
	s.SetResult(summary)
	return s, nil
}

// conventionalCommit writes the commit message.
type conventionalCommit struct {
	llm llm.LLMClient
}

func newConventionalCommit(deps Deps) (Unit, error) {
	if deps.LLM == nil {
		return nil, errNoLLM
	}
	return &conventionalCommit{llm: deps.LLM}, nil
}

func (a *conventionalCommit) Run(ctx context.Context, s *session.State) (*session.State, error) {
	const step = "ConventionalCommit"
	if s.ChangeSummary == nil {
		s.SetError(step, "No change summary found.")
		return s, nil
	}

	var reply struct {
		CommitMessage string `json:"commit_message"`
	}
	if err := generateJSON(ctx, a.llm, "conventional_commit", promptData{Summary: s.ChangeSummary}, &reply); err != nil {
		if isCancellation(ctx, err) {
			return s, err
		}
		s.SetError(step, fmt.Sprintf("Failed to write commit message: %v", err))
		return s, nil
	}
	msg := strings.TrimSpace(reply.CommitMessage)
	if msg == "" {
		s.SetError(step, "Commit message is empty.")
		return s, nil
	}

	s.CommitMessage = msg
	s.SetResult(msg)
	s.AddMessage(ctx, conversation.RoleSystem, "Commit message: "+firstLineOf(msg), false)
	return s, nil
}

// versionControl derives the git commands for the pending change.
type versionControl struct{}

func newVersionControl(Deps) (Unit, error) {
	return versionControl{}, nil
}

// Run stages every file the pending change touches, then commits with the
// generated message. Arguments are shell-quoted because the commands are
// shown to the user to run.
func (versionControl) Run(_ context.Context, s *session.State) (*session.State, error) {
	const step = "VersionControl"
	if s.CommitMessage == "" {
		s.SetError(step, "No commit message found in state.")
		return s, nil
	}

	_, files, err := pendingChange(s)
	if err != nil {
		s.SetError(step, fmt.Sprintf("Failed to render pending changes: %v", err))
		return s, nil
	}
	if len(files) == 0 {
		s.SetError(step, "No changed files to commit.")
		return s, nil
	}

	commands := make([]string, 0, len(files)+1)
	for _, f := range files {
		commands = append(commands, "git add "+shellQuote(f))
	}
	commands = append(commands, "git commit -m "+shellQuote(s.CommitMessage))

	s.GitCommands = commands
	s.SetResult(commands)
	return s, nil
}

// shellQuote returns arg unchanged when it holds only characters no POSIX
// shell treats specially, else wraps it in single quotes.
func shellQuote(arg string) string {
	if arg != "" && strings.IndexFunc(arg, needsQuoting) < 0 {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}

func needsQuoting(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	case strings.ContainsRune("_-./:@%+=,", r):
		return false
	}
	return true
}

func firstLineOf(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
