// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/mracul/code-assistant/services/codeassist/agent"
	"github.com/mracul/code-assistant/services/codeassist/ast"
	"github.com/mracul/code-assistant/services/codeassist/chunk"
	"github.com/mracul/code-assistant/services/codeassist/command"
	"github.com/mracul/code-assistant/services/codeassist/config"
	"github.com/mracul/code-assistant/services/codeassist/conversation"
	"github.com/mracul/code-assistant/services/codeassist/discovery"
	"github.com/mracul/code-assistant/services/codeassist/handlers"
	"github.com/mracul/code-assistant/services/codeassist/index"
	"github.com/mracul/code-assistant/services/codeassist/retrieval"
	"github.com/mracul/code-assistant/services/codeassist/session"
	"github.com/mracul/code-assistant/services/codeassist/storage/badger"
	"github.com/mracul/code-assistant/services/codeassist/workflow"
	"github.com/mracul/code-assistant/services/llm"
)

// app holds the process-wide collaborators shared by every session.
type app struct {
	cfg    *config.Config
	root   string
	logger *slog.Logger

	// backend is nil when no LLM is configured.
	backend   llm.Backend
	retriever retrieval.Retriever
	db        *badger.DB
	store     conversation.Store

	parsers  *ast.ParserRegistry
	registry *agent.Registry
	engine   *workflow.Engine
	handler  *command.Handler
	sessions *handlers.SessionFactory
}

// newApp wires the collaborators described by cfg.
//
// Description:
//
//	A missing or misconfigured LLM backend is not fatal: the assistant
//	starts without it, structural commands keep working and agents that
//	generate text report that they are unavailable. Semantic retrieval is
//	disabled in that case because it needs the backend's embeddings.
//
// Outputs:
//
//	*app  - Ready to serve sessions. Close releases the store.
//	error - Invalid definitions or an unusable conversation store.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	root, err := filepath.Abs(cfg.ProjectRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}
	a := &app{cfg: cfg, root: root, logger: logger, parsers: ast.NewDefaultRegistry()}

	backend, err := llm.New(cfg.LLM)
	if err != nil {
		logger.Warn("LLM backend not available",
			slog.String("backend", cfg.LLM.Backend),
			slog.String("error", err.Error()))
		logger.Info("Agents that generate text are disabled until the backend is configured")
	} else {
		a.backend = backend
	}

	if err := a.openRetriever(ctx); err != nil {
		return nil, err
	}
	if err := a.openStore(); err != nil {
		return nil, err
	}

	if err := a.buildAgents(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.sessions = a.sessionFactory()
	return a, nil
}

func (a *app) openRetriever(ctx context.Context) error {
	backend := a.cfg.Retrieval.Backend
	if backend == "none" {
		return nil
	}
	if a.backend == nil {
		a.logger.Warn("semantic retrieval disabled, no embedding backend",
			slog.String("retrieval", backend))
		return nil
	}

	switch backend {
	case "memory":
		store, err := retrieval.NewMemoryStore(a.backend)
		if err != nil {
			return err
		}
		a.retriever = store
	case "weaviate":
		client, err := retrieval.NewWeaviateClient(a.cfg.Retrieval.WeaviateURL)
		if err != nil {
			return fmt.Errorf("weaviate client: %w", err)
		}
		store, err := retrieval.NewWeaviateStore(ctx, client, a.backend, a.cfg.Retrieval.Project, a.logger)
		if err != nil {
			// Search falls back to structural matches.
			a.logger.Warn("Weaviate not available, semantic retrieval disabled",
				slog.String("url", a.cfg.Retrieval.WeaviateURL),
				slog.String("error", err.Error()))
			return nil
		}
		a.retriever = store
	}
	a.logger.Info("semantic retrieval enabled", slog.String("backend", backend))
	return nil
}

func (a *app) openStore() error {
	conv := a.cfg.Conversation
	switch conv.Store {
	case "file":
		a.store = conversation.FileStore{Dir: a.resolve(conv.Dir)}
	case "badger":
		storage := a.cfg.Storage
		if !storage.InMemory {
			storage.Path = a.resolve(storage.Path)
		}
		storage.Logger = a.logger
		db, err := badger.Open(storage)
		if err != nil {
			return fmt.Errorf("opening conversation store: %w", err)
		}
		a.db = db
		a.store = conversation.BadgerStore{DB: db}
	}
	return nil
}

func (a *app) buildAgents(ctx context.Context) error {
	defs, err := agent.LoadDefinitions(ctx, a.cfg.Agents.Definitions)
	if err != nil {
		return err
	}
	deps := agent.Deps{Retriever: a.retriever, Parsers: a.parsers, Logger: a.logger}
	if a.backend != nil {
		deps.LLM = a.backend
	}
	a.registry = agent.NewRegistry(defs, agent.Builtins(), deps)

	workflows, err := workflow.LoadDefinitions(a.cfg.Workflows.Definitions)
	if err != nil {
		return err
	}
	if err := workflows.Verify(a.registry.Names()); err != nil {
		return err
	}
	if _, ok := workflows[a.cfg.Workflows.Default]; !ok {
		return fmt.Errorf("default workflow %q is not defined", a.cfg.Workflows.Default)
	}
	a.engine = workflow.NewEngine(a.registry, workflows, a.logger)

	a.handler = command.NewHandler(a.engine, a.registry,
		command.WithRetriever(a.retriever),
		command.WithDefaultWorkflow(a.cfg.Workflows.Default),
		command.WithContextFiles(a.cfg.Search.ContextFiles),
		command.WithSearchLimit(a.cfg.Search.Limit),
		command.WithLogger(a.logger),
	)
	return nil
}

func (a *app) indexOptions() []index.Option {
	walker := discovery.NewWalker(
		discovery.WithExtensions(a.cfg.Index.Extensions),
		discovery.WithIgnorePatterns(a.cfg.Index.Ignore),
		discovery.WithLogger(a.logger),
	)
	return []index.Option{
		index.WithDiscoverer(walker),
		index.WithWorkers(a.cfg.Index.Workers),
		index.WithLogger(a.logger),
	}
}

func (a *app) conversationOptions() []conversation.Option {
	opts := []conversation.Option{
		conversation.WithMaxTokens(a.cfg.Conversation.MaxTokens),
		conversation.WithTokenCounter(chunk.DefaultCounter()),
		conversation.WithLogger(a.logger),
	}
	if a.backend != nil {
		opts = append(opts, conversation.WithEmbedder(a.backend))
	}
	return opts
}

func (a *app) watcherOptions() *index.WatcherOptions {
	opts := index.DefaultWatcherOptions()
	opts.Debounce = a.cfg.Index.Debounce
	return &opts
}

func (a *app) sessionFactory() *handlers.SessionFactory {
	f := &handlers.SessionFactory{
		ProjectRoot:         a.root,
		Parsers:             a.parsers,
		IndexOptions:        a.indexOptions(),
		ConversationOptions: a.conversationOptions(),
		Store:               a.store,
		Logger:              a.logger,
	}
	if a.cfg.Index.Watch {
		f.Watch = a.watcherOptions()
	}
	return f
}

// newState creates a terminal session. A non-empty id resumes the
// conversation persisted under it.
func (a *app) newState(id string, notifier session.Notifier) *session.State {
	if id == "" {
		id = uuid.NewString()
	}
	opts := a.conversationOptions()
	if a.store != nil {
		opts = append(opts, conversation.WithStore(a.store, id))
	}
	return session.New(id, a.root,
		conversation.New(opts...),
		index.New(a.parsers, a.indexOptions()...),
		notifier)
}

// resolve makes p absolute against the project root.
func (a *app) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(a.root, p)
}

// Close releases the conversation store.
func (a *app) Close() error {
	var errs []error
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
