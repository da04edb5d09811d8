// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mracul/code-assistant/services/codeassist/storage/badger"
)

// wordCounter counts whitespace-separated words.
type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

// axisEmbedder embeds by keyword presence; text containing "fail" errors.
type axisEmbedder struct{ axes []string }

func (e axisEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if strings.Contains(text, "fail") {
		return nil, errors.New("embedding backend unavailable")
	}
	vec := make([]float32, len(e.axes))
	for i, a := range e.axes {
		if strings.Contains(text, a) {
			vec[i] = 1
		}
	}
	return vec, nil
}

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("w ", n))
}

func TestAddMessage_EvictsOldest(t *testing.T) {
	l := New(WithMaxTokens(10), WithTokenCounter(wordCounter{}))
	ctx := context.Background()

	l.AddMessage(ctx, RoleUser, words(4), false)
	l.AddMessage(ctx, RoleAssistant, words(4), false)
	l.AddMessage(ctx, RoleUser, words(4), false)

	history := l.History()
	require.Len(t, history, 2)
	assert.Equal(t, RoleAssistant, history[0].Role)
	assert.Equal(t, 8, l.TokenCount())
}

func TestEviction_BoundHolds(t *testing.T) {
	const budget = 20
	l := New(WithMaxTokens(budget), WithTokenCounter(wordCounter{}))
	ctx := context.Background()

	for i := 1; i <= 30; i++ {
		l.AddMessage(ctx, RoleUser, words(i%7+1), false)
		if l.Len() > 1 {
			assert.LessOrEqual(t, l.TokenCount(), budget, "after message %d", i)
		}
	}
}

func TestEviction_NewestNeverEvicted(t *testing.T) {
	l := New(WithMaxTokens(5), WithTokenCounter(wordCounter{}))
	ctx := context.Background()

	l.AddMessage(ctx, RoleUser, words(2), false)
	l.AddMessage(ctx, RoleUser, "huge "+words(49), false)

	history := l.History()
	require.Len(t, history, 1)
	assert.True(t, strings.HasPrefix(history[0].Content, "huge"))
	assert.Equal(t, 50, l.TokenCount())
}

func TestHistory_ReappliesLoweredCeiling(t *testing.T) {
	l := New(WithMaxTokens(100), WithTokenCounter(wordCounter{}))
	ctx := context.Background()
	for range 5 {
		l.AddMessage(ctx, RoleUser, words(10), false)
	}
	require.Equal(t, 5, l.Len())

	l.SetMaxTokens(25)
	assert.Len(t, l.History(), 2)
	assert.Equal(t, 20, l.TokenCount())
}

func TestHistory_ReturnsCopy(t *testing.T) {
	l := New(WithTokenCounter(wordCounter{}))
	l.AddMessage(context.Background(), RoleUser, "hello", false)

	h := l.History()
	h[0].Content = "mutated"
	assert.Equal(t, "hello", l.History()[0].Content)
}

func TestRelevantMessages(t *testing.T) {
	l := New(
		WithTokenCounter(wordCounter{}),
		WithEmbedder(axisEmbedder{axes: []string{"parser", "database", "http"}}),
	)
	ctx := context.Background()

	l.AddMessage(ctx, RoleUser, "fix the parser", true)
	l.AddMessage(ctx, RoleAssistant, "not embedded parser", false)
	l.AddMessage(ctx, RoleUser, "tune the database", true)
	l.AddMessage(ctx, RoleUser, "database and parser", true)
	l.AddMessage(ctx, RoleUser, "this will fail to embed parser", true)

	got := l.RelevantMessages(ctx, "parser", 2)
	require.Len(t, got, 2)
	assert.Equal(t, "fix the parser", got[0].Content)
	assert.Equal(t, "database and parser", got[1].Content)

	assert.Equal(t, 5, l.Len(), "embedding failure must not drop the message")
}

func TestRelevantMessages_TiesKeepInsertionOrder(t *testing.T) {
	l := New(WithTokenCounter(wordCounter{}), WithEmbedder(axisEmbedder{axes: []string{"x"}}))
	ctx := context.Background()
	l.AddMessage(ctx, RoleUser, "first x", true)
	l.AddMessage(ctx, RoleUser, "second x", true)
	l.AddMessage(ctx, RoleUser, "third x", true)

	got := l.RelevantMessages(ctx, "x", 3)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"first x", "second x", "third x"},
		[]string{got[0].Content, got[1].Content, got[2].Content})
}

func TestRelevantMessages_NoEmbeddings(t *testing.T) {
	l := New(WithTokenCounter(wordCounter{}), WithEmbedder(axisEmbedder{axes: []string{"x"}}))
	l.AddMessage(context.Background(), RoleUser, "x", false)

	got := l.RelevantMessages(context.Background(), "x", 3)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	bare := New(WithTokenCounter(wordCounter{}))
	bare.AddMessage(context.Background(), RoleUser, "x", true)
	assert.Empty(t, bare.RelevantMessages(context.Background(), "x", 3))
}

func TestSaveLoad_FileStoreRoundTrip(t *testing.T) {
	store := FileStore{Dir: filepath.Join(t.TempDir(), "history")}
	ctx := context.Background()

	l := New(WithTokenCounter(wordCounter{}), WithStore(store, "session-1"))
	l.AddMessage(ctx, RoleUser, "hello", false)
	l.AddMessage(ctx, RoleAssistant, "hi there", false)
	l.Save(ctx)

	fresh := New(WithTokenCounter(wordCounter{}), WithStore(store, "session-1"))
	assert.Equal(t, []Message{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "hi there"},
	}, fresh.History())
}

func TestLoad_MalformedResetsToEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0o644))

	l := New(WithTokenCounter(wordCounter{}), WithStore(FileStore{Dir: dir}, "bad"))
	assert.Empty(t, l.History())

	missing := New(WithTokenCounter(wordCounter{}), WithStore(FileStore{Dir: dir}, "missing"))
	assert.Empty(t, missing.History())
}

func TestLoad_ReplacesExisting(t *testing.T) {
	store := FileStore{Dir: t.TempDir()}
	ctx := context.Background()

	l := New(WithTokenCounter(wordCounter{}), WithStore(store, "k"))
	l.AddMessage(ctx, RoleUser, "persisted", false)
	l.Save(ctx)
	l.AddMessage(ctx, RoleUser, "unsaved", false)

	l.Load(ctx)
	assert.Equal(t, []Message{{Role: RoleUser, Content: "persisted"}}, l.History())
}

func TestFileStore_RejectsBadKeys(t *testing.T) {
	store := FileStore{Dir: t.TempDir()}
	for _, key := range []string{"", "../escape", `a\b`, ".."} {
		assert.ErrorIs(t, store.Save(context.Background(), key, []byte("x")), ErrInvalidKey, key)
	}
}

func TestBadgerStore_RoundTrip(t *testing.T) {
	db, err := badger.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	store := BadgerStore{DB: db}
	ctx := context.Background()

	l := New(WithTokenCounter(wordCounter{}), WithStore(store, "abc"))
	l.AddMessage(ctx, RoleUser, "remember me", false)
	l.Save(ctx)

	fresh := New(WithTokenCounter(wordCounter{}), WithStore(store, "abc"))
	assert.Equal(t, []Message{{Role: RoleUser, Content: "remember me"}}, fresh.History())

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"abc"}, keys)
}
