// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package search answers code queries structurally from the index or
// semantically from a retriever.
//
// A query of the form "kind:name" with kind one of class, function or
// calls is answered from syntax trees. Anything else, including a
// malformed structural query, goes to the semantic retriever.
package search

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mracul/code-assistant/services/codeassist/ast"
	"github.com/mracul/code-assistant/services/codeassist/index"
	"github.com/mracul/code-assistant/services/codeassist/retrieval"
)

// DefaultLimit is the number of semantic hits requested when Limit is unset.
const DefaultLimit = 5

var tracer = otel.Tracer("codeassist.search")

// MatchType labels where a result came from.
type MatchType string

const (
	MatchAST      MatchType = "AST Match"
	MatchSemantic MatchType = "Semantic Match"
)

// Kind is a structural query kind.
type Kind string

const (
	KindClass    Kind = "class"
	KindFunction Kind = "function"
	KindCalls    Kind = "calls"
)

func (k Kind) valid() bool {
	switch k {
	case KindClass, KindFunction, KindCalls:
		return true
	}
	return false
}

// Result is one search match.
type Result struct {
	Type     MatchType `json:"type"`
	FilePath string    `json:"file_path"`
	Name     string    `json:"name"`
	Line     int       `json:"line"`
	Preview  string    `json:"preview"`
}

// Query is a parsed search string.
type Query struct {
	Kind Kind
	Name string

	// Structural is false when the query must go to the retriever.
	Structural bool
	Raw        string
}

// ParseQuery splits raw on its first colon into kind and name.
//
// The query is structural only when the kind is known, the name is
// non-empty and the name holds no further colon.
func ParseQuery(raw string) Query {
	q := Query{Raw: raw}
	kind, name, ok := strings.Cut(raw, ":")
	if !ok {
		return q
	}
	k := Kind(strings.TrimSpace(kind))
	n := strings.TrimSpace(name)
	if !k.valid() || n == "" || strings.Contains(n, ":") {
		return q
	}
	q.Kind, q.Name, q.Structural = k, n, true
	return q
}

// Searcher runs hybrid searches.
//
// Retriever may be nil, in which case semantic searches return nothing.
type Searcher struct {
	Index     *index.Index
	Retriever retrieval.Retriever
	Limit     int
	Logger    *slog.Logger
}

// Search answers query. It never fails: a retriever error or a missing
// index yields an empty list. The result is never nil.
func (s *Searcher) Search(ctx context.Context, query string) []Result {
	ctx, span := tracer.Start(ctx, "Searcher.Search")
	defer span.End()

	q := ParseQuery(query)
	span.SetAttributes(
		attribute.Bool("search.structural", q.Structural),
		attribute.String("search.kind", string(q.Kind)),
	)

	var results []Result
	if q.Structural {
		results = s.structural(q)
	} else {
		results = s.semantic(ctx, q.Raw)
	}
	span.SetAttributes(attribute.Int("search.results", len(results)))
	return results
}

func (s *Searcher) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Searcher) structural(q Query) []Result {
	results := []Result{}
	if s.Index == nil {
		return results
	}
	for _, path := range s.Index.ParsedFiles() {
		tree, ok := s.Index.Tree(path)
		if !ok {
			continue
		}
		results = append(results, matchTree(path, tree, q)...)
	}
	return results
}

// matchTree mirrors one structural query against one file. A class or
// function query reports the first declaration of that name; a calls
// query reports every unqualified call.
func matchTree(path string, tree *ast.ParseResult, q Query) []Result {
	switch q.Kind {
	case KindClass:
		if sym, ok := tree.FindClass(q.Name); ok {
			return []Result{symbolResult(path, q.Name, sym)}
		}
	case KindFunction:
		if sym, ok := tree.FindFunction(q.Name); ok {
			return []Result{symbolResult(path, q.Name, sym)}
		}
	case KindCalls:
		var out []Result
		for _, c := range tree.FindCalls(q.Name) {
			if c.Qualified {
				continue
			}
			out = append(out, Result{
				Type:     MatchAST,
				FilePath: path,
				Name:     q.Name,
				Line:     c.Line,
				Preview:  c.Preview,
			})
		}
		return out
	}
	return nil
}

func symbolResult(path, name string, sym *ast.Symbol) Result {
	return Result{
		Type:     MatchAST,
		FilePath: path,
		Name:     name,
		Line:     sym.StartLine,
		Preview:  sym.Preview,
	}
}

func (s *Searcher) semantic(ctx context.Context, text string) []Result {
	results := []Result{}
	if s.Retriever == nil {
		return results
	}
	limit := s.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	hits, err := s.Retriever.Search(ctx, text, limit)
	if err != nil {
		s.logger().Warn("semantic search failed", slog.String("error", err.Error()))
		return results
	}
	for _, h := range hits {
		results = append(results, Result{
			Type:     MatchSemantic,
			FilePath: h.FilePath,
			Name:     h.Name,
			Line:     h.StartLine,
			Preview:  h.ContentPreview,
		})
	}
	return results
}
