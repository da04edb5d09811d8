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
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mracul/code-assistant/services/codeassist/agent"
	"github.com/mracul/code-assistant/services/codeassist/chunk"
	"github.com/mracul/code-assistant/services/codeassist/conversation"
	"github.com/mracul/code-assistant/services/codeassist/discovery"
	"github.com/mracul/code-assistant/services/codeassist/index"
	"github.com/mracul/code-assistant/services/codeassist/retrieval"
	"github.com/mracul/code-assistant/services/codeassist/session"
	"github.com/mracul/code-assistant/services/codeassist/workflow"
	"github.com/mracul/code-assistant/services/llm"
)

type queuedLLM struct {
	mu      sync.Mutex
	replies []string
}

func (q *queuedLLM) Generate(context.Context, string, llm.GenerationParams) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.replies) == 0 {
		return "", errors.New("no reply queued")
	}
	r := q.replies[0]
	q.replies = q.replies[1:]
	return r, nil
}

const appPy = `def load(path):
    return open(path).read()

def main():
    return load("x")
`

type fixture struct {
	handler *Handler
	state   *session.State
	rec     *session.Recorder
	llm     *queuedLLM
	root    string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "app.py"), []byte(appPy), 0o644))

	fake := &queuedLLM{}
	defs, err := agent.DefaultDefinitions()
	require.NoError(t, err)
	registry := agent.NewRegistry(defs, agent.Builtins(), agent.Deps{LLM: fake})

	wfs, err := workflow.DefaultDefinitions()
	require.NoError(t, err)
	engine := workflow.NewEngine(registry, wfs, nil)

	rec := &session.Recorder{}
	idx := index.New(nil, index.WithDiscoverer(discovery.NewWalker()))
	conv := conversation.New(conversation.WithTokenCounter(chunk.EstimateCounter{}))
	state := session.New("cmd", root, conv, idx, rec)

	return &fixture{
		handler: NewHandler(engine, registry, opts...),
		state:   state,
		rec:     rec,
		llm:     fake,
		root:    state.ProjectRoot,
	}
}

func (f *fixture) run(t *testing.T, raw string) {
	t.Helper()
	f.handler.Handle(context.Background(), f.state, raw)
}

func TestHandle_Index(t *testing.T) {
	f := newFixture(t)
	f.run(t, "/index")

	assert.True(t, f.state.Index.IsIndexed())
	assert.Equal(t, []string{
		"Starting codebase indexing at: " + f.root + "...",
		"Indexing complete. Parsed 1 source files and built function call graph.",
	}, f.rec.Logs())
}

func TestHandle_IndexRejectsOutsidePath(t *testing.T) {
	f := newFixture(t)
	f.run(t, "/index ../..")

	assert.False(t, f.state.Index.IsIndexed())
	assert.Equal(t, []string{"Error: Path is outside the allowed project directory."}, f.rec.Logs())
}

func TestHandle_IndexEmbedsWhenRetrieverConfigured(t *testing.T) {
	store, err := retrieval.NewMemoryStore(lengthEmbedder{})
	require.NoError(t, err)
	f := newFixture(t, WithRetriever(store))
	f.run(t, "/index")

	assert.Equal(t, 2, store.Len())
	assert.Contains(t, f.rec.Logs(), "Embedded 2 code chunks for semantic search.")
}

func TestHandle_Impact(t *testing.T) {
	f := newFixture(t)
	f.run(t, "/impact app.py")
	assert.Equal(t, []string{"Usage: /impact <file_path>:<function_name>"}, f.rec.Logs())

	f.run(t, "/index")
	f.run(t, "/impact app.py:load")

	msgs := f.rec.OfType(session.NotifyImpactAnalysis)
	require.Len(t, msgs, 1)
	assert.Equal(t, session.ImpactData{
		Target:            "app.py:load",
		ImpactedFunctions: []string{filepath.Join(f.root, "app.py") + ":main"},
	}, msgs[0].Data)
	assert.Contains(t, f.rec.Logs(), "Analyzing impact of changes to load in app.py...")
}

func TestHandle_Search(t *testing.T) {
	f := newFixture(t)
	f.run(t, "/index")
	f.run(t, "/search function:main")

	assert.Contains(t, f.rec.Logs(), "Found 1 results for 'function:main'.")
	assert.Contains(t, f.rec.Logs(), "[AST Match] app.py:4 def main():")

	f.run(t, "/search")
	assert.Equal(t, "Usage: /search <query>", lastLog(f.rec))
}

func TestHandle_RefactorThenCommit(t *testing.T) {
	f := newFixture(t)
	f.run(t, "/commit")
	assert.Equal(t, "Error: No pending changes to commit.", lastLog(f.rec))

	f.run(t, "/refactor app.py")
	assert.Equal(t, "Usage: /refactor <file_path> <old_name> <new_name>", lastLog(f.rec))

	f.run(t, "/index")
	f.run(t, "/refactor app.py load read_path")

	diffs := f.rec.OfType(session.NotifyDiff)
	require.Len(t, diffs, 1)
	change := diffs[0].Data.(session.ProposedChange)
	assert.Equal(t, "app.py", change.FilePath)
	assert.Contains(t, change.Diff, "+def read_path(path):")

	f.llm.replies = []string{
		`{"type": "refactor", "description": "rename load to read_path"}`,
		`{"commit_message": "refactor: rename load to read_path"}`,
	}
	f.run(t, "/commit")

	assert.Contains(t, f.rec.Logs(), "Finalizing changes for app.py...")
	final := f.rec.OfType(session.NotifyFinalCommands)
	require.Len(t, final, 1)
	assert.Equal(t, session.FinalCommandsData{
		CommitMessage: "refactor: rename load to read_path",
		Commands: []string{
			"git add app.py",
			"git commit -m 'refactor: rename load to read_path'",
		},
	}, final[0].Data)

	assert.Empty(t, f.state.ModifiedBuffers)
	assert.Nil(t, f.state.Diff)
	f.run(t, "/commit")
	assert.Equal(t, "Error: No pending changes to commit.", lastLog(f.rec))
}

func TestHandle_CommitCoversRefactorAndPromptDiff(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "lib.py"), []byte("x = 1\n"), 0o644))
	f.run(t, "/index")
	f.run(t, "/refactor app.py load read_path")

	f.llm.replies = []string{
		`{"strategies": [{"id": "s1", "name": "Bump", "description": "raise x"}]}`,
		`{"selected_strategy_id": "s1", "justification": "smallest change"}`,
		`{"file_path": "lib.py", "diff": "--- a/lib.py\n+++ b/lib.py\n@@ -1 +1 @@\n-x = 1\n+x = 2\n"}`,
	}
	f.run(t, "raise x in @lib.py")
	require.Len(t, f.rec.OfType(session.NotifyDiff), 2)

	f.llm.replies = []string{
		`{"type": "refactor", "description": "rename load and raise x"}`,
		`{"commit_message": "refactor: rename load and raise x"}`,
	}
	f.run(t, "/commit")

	assert.Contains(t, f.rec.Logs(), "Finalizing changes for app.py, lib.py...")
	final := f.rec.OfType(session.NotifyFinalCommands)
	require.Len(t, final, 1)
	assert.Equal(t, []string{
		"git add app.py",
		"git add lib.py",
		"git commit -m 'refactor: rename load and raise x'",
	}, final[0].Data.(session.FinalCommandsData).Commands)

	assert.Empty(t, f.state.ModifiedBuffers)
	got, _ := f.state.FileContent(filepath.Join(f.root, "lib.py"))
	assert.Equal(t, "x = 2\n", got)
}

func TestHandle_RefactorNeedsIndex(t *testing.T) {
	f := newFixture(t)
	f.run(t, "/refactor app.py load read_path")

	assert.Equal(t, "Error: AST for 'app.py' not found in the codebase index. Please run /index first.", lastLog(f.rec))
	assert.Empty(t, f.rec.OfType(session.NotifyDiff))
}

func TestHandle_PromptRunsDefaultWorkflow(t *testing.T) {
	f := newFixture(t)
	f.run(t, "/index")

	f.llm.replies = []string{
		`{"strategies": [{"id": "s1", "name": "Memoize", "description": "cache reads"}]}`,
		`{"selected_strategy_id": "s1", "justification": "smallest change"}`,
		`{"file_path": "app.py", "diff": "--- a/app.py\n+++ b/app.py\n@@ -1,2 +1,2 @@\n def load(path):\n-    return open(path).read()\n+    return cached(path)\n"}`,
	}
	f.run(t, "cache the reads in @app.py")

	assert.Equal(t, "cache the reads in", f.state.UserRequest)
	assert.NotEmpty(t, f.rec.OfType(session.NotifyFileContext))

	diffs := f.rec.OfType(session.NotifyDiff)
	require.Len(t, diffs, 1)
	assert.Equal(t, "app.py", diffs[0].Data.(session.ProposedChange).FilePath)
	assert.Contains(t, f.rec.Logs(), "Workflow finished successfully.")

	got, _ := f.state.FileContent(filepath.Join(f.root, "app.py"))
	assert.Contains(t, got, "return cached(path)")

	history := f.state.Conversation.History()
	require.NotEmpty(t, history)
	assert.Equal(t, conversation.Message{Role: conversation.RoleUser, Content: "cache the reads in"}, history[0])
	assert.Equal(t, conversation.RoleAssistant, history[len(history)-1].Role)
}

func TestHandle_InputErrors(t *testing.T) {
	f := newFixture(t)

	f.run(t, "   ")
	assert.Equal(t, "Error: Empty prompt.", lastLog(f.rec))

	f.run(t, "/bogus")
	assert.Equal(t, "Error: Unknown command '/bogus'. Type /help for the list of commands.", lastLog(f.rec))

	f.run(t, "/run")
	assert.Equal(t, "Usage: /run <workflow>", lastLog(f.rec))

	f.run(t, "/run nope")
	assert.Equal(t, "Error: Workflow 'nope' not found.", lastLog(f.rec))

	assert.Empty(t, f.state.UserRequest)
	assert.Empty(t, f.state.LoadedFiles)
}

func TestHandle_Workflows(t *testing.T) {
	f := newFixture(t)
	f.run(t, "/workflows")

	logs := f.rec.Logs()
	require.NotEmpty(t, logs)
	assert.Contains(t, logs, "  analyze: Summarize the structure of the indexed codebase")
}

func lastLog(rec *session.Recorder) string {
	logs := rec.Logs()
	if len(logs) == 0 {
		return ""
	}
	return logs[len(logs)-1]
}

// lengthEmbedder embeds text as its length.
type lengthEmbedder struct{}

func (lengthEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1}, nil
}
