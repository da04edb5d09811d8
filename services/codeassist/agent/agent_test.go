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
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mracul/code-assistant/services/codeassist/chunk"
	"github.com/mracul/code-assistant/services/codeassist/conversation"
	"github.com/mracul/code-assistant/services/codeassist/discovery"
	"github.com/mracul/code-assistant/services/codeassist/index"
	"github.com/mracul/code-assistant/services/codeassist/session"
	"github.com/mracul/code-assistant/services/llm"
)

// fakeLLM replays canned replies in order and records every prompt.
type fakeLLM struct {
	mu      sync.Mutex
	replies []string
	err     error
	prompts []string
	params  []llm.GenerationParams
}

func (f *fakeLLM) Generate(_ context.Context, prompt string, params llm.GenerationParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	f.params = append(f.params, params)
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", errors.New("no reply queued")
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r, nil
}

func (f *fakeLLM) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

// newProject writes files under a temp root, indexes it and returns a
// state for it with a recording notifier.
func newProject(t *testing.T, files map[string]string) (*session.State, *session.Recorder) {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	idx := index.New(nil, index.WithDiscoverer(discovery.NewWalker()))
	_, err := idx.IndexDirectory(context.Background(), root)
	require.NoError(t, err)

	rec := &session.Recorder{}
	conv := conversation.New(conversation.WithTokenCounter(chunk.EstimateCounter{}))
	return session.New("test", root, conv, idx, rec), rec
}

// newBareState returns a state over an empty, unindexed root.
func newBareState(t *testing.T) *session.State {
	t.Helper()
	conv := conversation.New(conversation.WithTokenCounter(chunk.EstimateCounter{}))
	return session.New("test", t.TempDir(), conv, nil, &session.Recorder{})
}

func mustUnit(t *testing.T, f Factory, deps Deps) Unit {
	t.Helper()
	u, err := f(deps)
	require.NoError(t, err)
	return u
}

func lastMessage(s *session.State) conversation.Message {
	h := s.Conversation.History()
	if len(h) == 0 {
		return conversation.Message{}
	}
	return h[len(h)-1]
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}
