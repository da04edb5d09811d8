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
	"log/slog"

	"github.com/mracul/code-assistant/services/codeassist/conversation"
	"github.com/mracul/code-assistant/services/codeassist/retrieval"
	"github.com/mracul/code-assistant/services/codeassist/search"
	"github.com/mracul/code-assistant/services/codeassist/session"
)

// structureAnalyzer reports on the session's index.
type structureAnalyzer struct{}

func newStructureAnalyzer(Deps) (Unit, error) {
	return structureAnalyzer{}, nil
}

func (structureAnalyzer) Run(ctx context.Context, s *session.State) (*session.State, error) {
	if !s.Index.IsIndexed() {
		s.SetError("StructureAnalyzer", "Codebase has not been indexed. Cannot perform structure analysis.")
		return s, nil
	}
	st := s.Index.Stats()
	text := fmt.Sprintf("Code structure analysis complete.\n"+
		"- Parsed %d files into ASTs.\n"+
		"- Built a call graph with %d functions (nodes) and %d calls (edges).",
		st.Parsed, st.Nodes, st.Edges)

	s.SetResult(session.Summary{Summary: text})
	s.AddMessage(ctx, conversation.RoleSystem, text, false)
	return s, nil
}

// codeSearch runs a hybrid search for the user's request.
type codeSearch struct {
	retriever retrieval.Retriever
	logger    *slog.Logger
}

func newCodeSearch(deps Deps) (Unit, error) {
	return &codeSearch{retriever: deps.Retriever, logger: deps.logger()}, nil
}

func (c *codeSearch) Run(ctx context.Context, s *session.State) (*session.State, error) {
	if s.UserRequest == "" {
		s.SetError("CodeSearch", "No search query provided.")
		return s, nil
	}
	searcher := &search.Searcher{
		Index:     s.Index,
		Retriever: c.retriever,
		Logger:    c.logger,
	}
	s.SetResult(searcher.Search(ctx, s.UserRequest))
	return s, nil
}
