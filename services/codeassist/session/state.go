// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session holds the per-connection state every workflow step reads
// and writes, and the channel notifications leave through.
package session

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/mracul/code-assistant/services/codeassist/conversation"
	"github.com/mracul/code-assistant/services/codeassist/index"
)

// State is the context of one client session.
//
// Description:
//
//	One State exists per connection. It owns its conversation and index;
//	nothing is shared across sessions. Workflow artifacts are explicit
//	fields rather than a keyed bag, and LastOutput is the tagged result of
//	the most recent step.
//
// Thread Safety: Not safe for concurrent mutation. Exactly one workflow or
// command may run against a State at a time; the transport enforces this.
type State struct {
	ID          string
	ProjectRoot string
	UserRequest string

	Conversation *conversation.Log
	Index        *index.Index

	// LoadedFiles maps path to original content.
	LoadedFiles map[string]string

	// ModifiedBuffers maps path to pending content. A path appears here
	// only after it was loaded or targeted by ModifyBuffer.
	ModifiedBuffers map[string]string

	LastOutput Output

	Strategies       []Strategy
	SelectedSolution *Strategy
	Diff             *ProposedChange
	ChangeSummary    *ChangeSummary
	CommitMessage    string
	GitCommands      []string

	// Rename is the pending input of a rename refactoring.
	Rename *RenameRequest

	Notifier Notifier
}

// New creates a State. An empty id gets a random UUID; nil collaborators
// are replaced by empty defaults.
func New(id, projectRoot string, conv *conversation.Log, idx *index.Index, notifier Notifier) *State {
	if id == "" {
		id = uuid.NewString()
	}
	if abs, err := filepath.Abs(projectRoot); err == nil {
		projectRoot = abs
	}
	if conv == nil {
		conv = conversation.New()
	}
	if idx == nil {
		idx = index.New(nil)
	}
	if notifier == nil {
		notifier = Discard{}
	}
	return &State{
		ID:              id,
		ProjectRoot:     projectRoot,
		Conversation:    conv,
		Index:           idx,
		LoadedFiles:     make(map[string]string),
		ModifiedBuffers: make(map[string]string),
		Notifier:        notifier,
	}
}

// LoadFile records content as the original text of path.
func (s *State) LoadFile(path, content string) {
	s.LoadedFiles[path] = content
}

// ModifyBuffer sets the pending content of path. A path not yet loaded is
// loaded from disk first; one that does not exist is recorded as a new
// file with empty original content.
func (s *State) ModifyBuffer(path, content string) {
	if _, ok := s.LoadedFiles[path]; !ok {
		original, _ := os.ReadFile(path)
		s.LoadedFiles[path] = string(original)
	}
	s.ModifiedBuffers[path] = content
}

// FileContent returns the pending buffer for path, else its loaded text.
func (s *State) FileContent(path string) (string, bool) {
	if c, ok := s.ModifiedBuffers[path]; ok {
		return c, true
	}
	c, ok := s.LoadedFiles[path]
	return c, ok
}

// AddMessage appends to the conversation.
func (s *State) AddMessage(ctx context.Context, role, content string, embed bool) {
	s.Conversation.AddMessage(ctx, role, content, embed)
}

// SetResult records a successful step output.
func (s *State) SetResult(v any) {
	s.LastOutput = Result(v)
}

// SetError records an error marker for step.
func (s *State) SetError(step, msg string) {
	s.LastOutput = Failure(step, msg)
}

// ResetArtifacts clears the per-request workflow artifacts and output.
func (s *State) ResetArtifacts() {
	s.LastOutput = Output{}
	s.Strategies = nil
	s.SelectedSolution = nil
	s.Diff = nil
	s.Rename = nil
	s.ChangeSummary = nil
	s.CommitMessage = ""
	s.GitCommands = nil
}

// MarkCommitted treats every pending buffer as the new original content
// and drops the proposed diff, so the next commit covers only later edits.
func (s *State) MarkCommitted() {
	for path, content := range s.ModifiedBuffers {
		s.LoadedFiles[path] = content
	}
	clear(s.ModifiedBuffers)
	s.Diff = nil
}

// PromptContext is the state snapshot sent to text-generation prompts.
type PromptContext struct {
	UserRequest     string                 `json:"user_request"`
	History         []conversation.Message `json:"conversation_history"`
	LoadedFiles     map[string]string      `json:"loaded_files"`
	ModifiedBuffers map[string]string      `json:"modified_buffers"`
	LastOutput      Output                 `json:"last_agent_output"`
}

// PromptContext assembles the context for a prompt.
func (s *State) PromptContext() PromptContext {
	return PromptContext{
		UserRequest:     s.UserRequest,
		History:         s.Conversation.History(),
		LoadedFiles:     s.LoadedFiles,
		ModifiedBuffers: s.ModifiedBuffers,
		LastOutput:      s.LastOutput,
	}
}

// Close persists the conversation and stops notification delivery.
func (s *State) Close(ctx context.Context) {
	s.Conversation.Save(ctx)
	if c, ok := s.Notifier.(interface{ Close() }); ok {
		c.Close()
	}
}
