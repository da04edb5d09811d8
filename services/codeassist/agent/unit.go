// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent holds the units a workflow runs, the table that builds
// them and the registry that resolves them by name.
package agent

import (
	"context"
	"log/slog"

	"github.com/mracul/code-assistant/services/codeassist/ast"
	"github.com/mracul/code-assistant/services/codeassist/retrieval"
	"github.com/mracul/code-assistant/services/codeassist/session"
	"github.com/mracul/code-assistant/services/llm"
)

// Unit is one invocable workflow step.
//
// Description:
//
//	Run reads its inputs from state, writes its artifacts back and records
//	either a result or an error marker in state.LastOutput. Capability
//	failures (a bad model reply, missing inputs) are markers, not Go errors.
//	A returned error is reserved for failures that are not the unit's to
//	report, such as context cancellation.
//
// Thread Safety: A Unit may be shared between sessions and must not keep
// per-run state outside the State it is given.
type Unit interface {
	Run(ctx context.Context, state *session.State) (*session.State, error)
}

// UnitFunc adapts a function to Unit.
type UnitFunc func(ctx context.Context, state *session.State) (*session.State, error)

// Run calls f.
func (f UnitFunc) Run(ctx context.Context, state *session.State) (*session.State, error) {
	return f(ctx, state)
}

// Deps are the shared collaborators factories build units from.
type Deps struct {
	// LLM generates text. Units that need it are not invocable without it.
	LLM llm.LLMClient

	// Retriever backs semantic search. May be nil.
	Retriever retrieval.Retriever

	// Parsers re-parse pending buffers. Nil selects ast.NewDefaultRegistry.
	Parsers *ast.ParserRegistry

	Logger *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Factory builds a unit from shared dependencies.
type Factory func(deps Deps) (Unit, error)

// Table maps unit keys to factories.
type Table map[string]Factory

// Builtins returns a fresh table of every built-in unit.
func Builtins() Table {
	return Table{
		"CreativeArchitect":  newCreativeArchitect,
		"TechnicalAnalyst":   newTechnicalAnalyst,
		"StructureAnalyzer":  newStructureAnalyzer,
		"DiffAgent":          newDiffAgent,
		"ChangeSummarizer":   newChangeSummarizer,
		"ConventionalCommit": newConventionalCommit,
		"VersionControl":     newVersionControl,
		"Refactor":           newRefactor,
		"CodeSearch":         newCodeSearch,
	}
}
