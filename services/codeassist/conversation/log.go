// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation keeps a token-bounded message history with optional
// similarity retrieval and best-effort persistence.
package conversation

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/mracul/code-assistant/services/codeassist/chunk"
	"github.com/mracul/code-assistant/services/codeassist/retrieval"
	"github.com/mracul/code-assistant/services/llm"
)

// DefaultMaxTokens is the history ceiling when none is configured.
const DefaultMaxTokens = 3500

// Roles used by the assistant.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one history entry in the shape chat APIs expect.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type entry struct {
	msg Message

	// embedding is nil when embedding was not requested or failed.
	embedding []float32
}

// Log is an ordered, token-bounded conversation.
//
// Description:
//
//	After every append, and again on every History call, the oldest
//	messages are evicted until the total token count is at most the
//	ceiling or a single message remains. The total is recomputed from
//	scratch each time so a changed ceiling or counter is always honored.
//
// Thread Safety: Safe for concurrent use.
type Log struct {
	mu        sync.Mutex
	entries   []entry
	maxTokens int
	counter   chunk.TokenCounter
	embedder  llm.Embedder
	store     Store
	key       string
	logger    *slog.Logger
}

// Option configures a Log.
type Option func(*Log)

// WithMaxTokens sets the token ceiling.
func WithMaxTokens(n int) Option {
	return func(l *Log) { l.maxTokens = n }
}

// WithTokenCounter sets the counter used for the ceiling.
func WithTokenCounter(c chunk.TokenCounter) Option {
	return func(l *Log) { l.counter = c }
}

// WithEmbedder enables similarity retrieval.
func WithEmbedder(e llm.Embedder) Option {
	return func(l *Log) { l.embedder = e }
}

// WithStore sets the persistence target. The log is hydrated from it
// during New.
func WithStore(s Store, key string) Option {
	return func(l *Log) {
		l.store = s
		l.key = key
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

// New creates a log, loading any persisted history.
func New(opts ...Option) *Log {
	l := &Log{
		maxTokens: DefaultMaxTokens,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.counter == nil {
		l.counter = chunk.DefaultCounter()
	}
	if l.store != nil {
		l.Load(context.Background())
	}
	return l
}

// AddMessage appends a message and evicts.
//
// When embed is set and an embedder is configured the content is embedded;
// an embedding failure is logged and leaves the message without one.
func (l *Log) AddMessage(ctx context.Context, role, content string, embed bool) {
	var vec []float32
	if embed && l.embedder != nil {
		v, err := l.embedder.Embed(ctx, content)
		if err != nil {
			l.logger.Warn("embedding message failed",
				slog.String("role", role),
				slog.String("error", err.Error()))
		} else {
			vec = v
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry{msg: Message{Role: role, Content: content}, embedding: vec})
	l.evictLocked()
}

func (l *Log) totalLocked() int {
	total := 0
	for _, e := range l.entries {
		total += l.counter.Count(e.msg.Content)
	}
	return total
}

func (l *Log) evictLocked() {
	total := l.totalLocked()
	for total > l.maxTokens && len(l.entries) > 1 {
		total -= l.counter.Count(l.entries[0].msg.Content)
		l.entries[0] = entry{}
		l.entries = l.entries[1:]
	}
}

// History evicts and returns a copy of the messages, oldest first.
func (l *Log) History() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evictLocked()
	out := make([]Message, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.msg
	}
	return out
}

// SetMaxTokens changes the ceiling. It takes effect on the next append
// or History call.
func (l *Log) SetMaxTokens(n int) {
	l.mu.Lock()
	l.maxTokens = n
	l.mu.Unlock()
}

// TokenCount recomputes the token total of the current history.
func (l *Log) TokenCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalLocked()
}

// Len returns the number of stored messages.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// RelevantMessages returns up to k messages most similar to query.
//
// Messages without an embedding are ignored. When none has one, or the
// query cannot be embedded, the result is empty. Equal scores keep
// insertion order.
func (l *Log) RelevantMessages(ctx context.Context, query string, k int) []Message {
	type candidate struct {
		msg Message
		vec []float32
	}
	l.mu.Lock()
	var candidates []candidate
	for _, e := range l.entries {
		if e.embedding != nil {
			candidates = append(candidates, candidate{msg: e.msg, vec: e.embedding})
		}
	}
	l.mu.Unlock()

	if len(candidates) == 0 || l.embedder == nil || k <= 0 {
		return []Message{}
	}
	q, err := l.embedder.Embed(ctx, query)
	if err != nil {
		l.logger.Warn("embedding query failed", slog.String("error", err.Error()))
		return []Message{}
	}

	type scored struct {
		msg   Message
		score float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		s, err := retrieval.Cosine(q, c.vec)
		if err != nil {
			continue
		}
		ranked = append(ranked, scored{msg: c.msg, score: s})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if len(ranked) > k {
		ranked = ranked[:k]
	}
	out := make([]Message, len(ranked))
	for i, r := range ranked {
		out[i] = r.msg
	}
	return out
}

// Save persists the messages as a JSON array. Failures are logged and
// otherwise ignored. Embeddings are not persisted.
func (l *Log) Save(ctx context.Context) {
	if l.store == nil {
		return
	}
	data, err := json.Marshal(l.History())
	if err != nil {
		l.logger.Warn("encoding conversation failed", slog.String("error", err.Error()))
		return
	}
	if err := l.store.Save(ctx, l.key, data); err != nil {
		l.logger.Warn("saving conversation failed",
			slog.String("key", l.key),
			slog.String("error", err.Error()))
	}
}

// Load replaces the history with the persisted one. A missing or
// malformed record leaves the log empty.
func (l *Log) Load(ctx context.Context) {
	if l.store == nil {
		return
	}
	var msgs []Message
	data, err := l.store.Load(ctx, l.key)
	if err == nil {
		err = json.Unmarshal(data, &msgs)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	if err != nil {
		l.logger.Debug("no usable persisted conversation",
			slog.String("key", l.key),
			slog.String("error", err.Error()))
		return
	}
	for _, m := range msgs {
		l.entries = append(l.entries, entry{msg: m})
	}
}
