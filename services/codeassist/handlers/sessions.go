// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mracul/code-assistant/services/codeassist/ast"
	"github.com/mracul/code-assistant/services/codeassist/conversation"
	"github.com/mracul/code-assistant/services/codeassist/index"
	"github.com/mracul/code-assistant/services/codeassist/session"
)

// SessionFactory builds the per-connection State. Nothing it creates is
// shared between sessions except the read-only parser registry and the
// conversation store.
type SessionFactory struct {
	ProjectRoot string

	// Parsers backs every session index. Nil selects the default registry.
	Parsers *ast.ParserRegistry

	// IndexOptions configure each session index, usually with a discoverer.
	IndexOptions []index.Option

	// ConversationOptions configure each conversation log.
	ConversationOptions []conversation.Option

	// Store persists conversations keyed by session id. Optional.
	Store conversation.Store

	// Watch, when set, re-indexes the session when project files change.
	Watch *index.WatcherOptions

	Logger *slog.Logger
}

// opened is a State plus the resources released when its session ends.
type opened struct {
	state   *session.State
	watcher *index.Watcher
}

func (o *opened) close(ctx context.Context) {
	if o.watcher != nil {
		o.watcher.Stop()
	}
	o.state.Close(ctx)
}

// open creates the State for session id. An existing conversation stored
// under id is restored.
func (f *SessionFactory) open(ctx context.Context, id string, n session.Notifier) (*opened, error) {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := append([]conversation.Option{conversation.WithLogger(logger)}, f.ConversationOptions...)
	if f.Store != nil {
		opts = append(opts, conversation.WithStore(f.Store, id))
	}
	conv := conversation.New(opts...)
	idx := index.New(f.Parsers, append([]index.Option{index.WithLogger(logger)}, f.IndexOptions...)...)

	o := &opened{state: session.New(id, f.ProjectRoot, conv, idx, n)}
	if f.Watch == nil {
		return o, nil
	}

	wopts := *f.Watch
	wopts.OnReindex = func(parsed int, err error) {
		if err != nil {
			n.Log(fmt.Sprintf("Warning: Re-indexing after file changes failed: %v", err))
			return
		}
		n.Log(fmt.Sprintf("Re-indexed %d source files after file changes.", parsed))
	}
	w, err := index.NewWatcher(o.state.ProjectRoot, idx, &wopts)
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := w.Start(ctx); err != nil {
		w.Stop()
		return nil, fmt.Errorf("starting watcher: %w", err)
	}
	o.watcher = w
	return o, nil
}
