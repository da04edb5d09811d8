// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mracul/code-assistant/services/codeassist/ast"
)

var tracer = otel.Tracer("codeassist.index")

// Discoverer enumerates candidate files under a root. Output is trusted to
// be filtered already.
type Discoverer interface {
	Discover(ctx context.Context, root string) ([]string, error)
}

// Entry is the indexed state of one file. A nil Result is the unparsable
// sentinel and Err says why.
type Entry struct {
	Result *ast.ParseResult
	Err    error
}

// Parsed reports whether the file produced a syntax tree.
func (e Entry) Parsed() bool {
	return e.Result != nil
}

// Stats summarizes the index.
type Stats struct {
	Files  int `json:"files"`
	Parsed int `json:"parsed"`
	Nodes  int `json:"nodes"`
	Edges  int `json:"edges"`
}

// Index is the structural index of one session's project.
//
// Thread Safety: Safe for concurrent use. A directory scan builds its
// entries and graph off-lock and publishes them in one swap, so readers
// never observe a half-built graph.
type Index struct {
	registry   *ast.ParserRegistry
	discoverer Discoverer
	workers    int
	logger     *slog.Logger

	mu      sync.RWMutex
	entries map[string]Entry
	graph   *CallGraph
	indexed bool
}

// Option configures an Index.
type Option func(*Index)

// WithDiscoverer sets the discovery collaborator used by IndexDirectory.
func WithDiscoverer(d Discoverer) Option {
	return func(idx *Index) {
		idx.discoverer = d
	}
}

// WithWorkers bounds concurrent file parsing during IndexDirectory.
func WithWorkers(n int) Option {
	return func(idx *Index) {
		if n > 0 {
			idx.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(idx *Index) {
		idx.logger = logger
	}
}

// New creates an empty index. A nil registry selects ast.NewDefaultRegistry.
func New(registry *ast.ParserRegistry, opts ...Option) *Index {
	if registry == nil {
		registry = ast.NewDefaultRegistry()
	}
	idx := &Index{
		registry: registry,
		workers:  runtime.GOMAXPROCS(0),
		logger:   slog.Default(),
		entries:  make(map[string]Entry),
		graph:    NewCallGraph(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// IndexFile parses content and records the result for path.
//
// A parse failure of any kind, including a file type with no parser,
// records the unparsable sentinel for path. It never fails the caller and
// does not touch the call graph; call BuildCallGraph afterwards.
func (idx *Index) IndexFile(ctx context.Context, path string, content []byte) {
	entry := idx.parse(ctx, path, content)

	idx.mu.Lock()
	idx.entries[path] = entry
	idx.mu.Unlock()
}

func (idx *Index) parse(ctx context.Context, path string, content []byte) Entry {
	parser, ok := idx.registry.ForPath(path)
	if !ok {
		return Entry{Err: fmt.Errorf("%s: %w", path, ErrNoParser)}
	}
	result, err := parser.Parse(ctx, content, path)
	if err != nil {
		idx.logger.Debug("file unparsable",
			slog.String("file", path),
			slog.String("error", err.Error()))
		return Entry{Err: err}
	}
	return Entry{Result: result}
}

// IndexDirectory replaces the index with a fresh scan of root.
//
// Description:
//
//	Enumerates files through the Discoverer, reads and parses them
//	concurrently, rebuilds the call graph and marks the index ready. Files
//	that cannot be read are left out. Files that cannot be parsed, including
//	those with no registered parser, are kept as sentinels.
//
// Inputs:
//
//	ctx  - Context for cancellation. A canceled scan leaves the previous
//	       index untouched.
//	root - Directory to scan.
//
// Outputs:
//
//	int   - Number of files that parsed successfully.
//	error - Discovery failure or ctx.Err().
func (idx *Index) IndexDirectory(ctx context.Context, root string) (int, error) {
	if idx.discoverer == nil {
		return 0, ErrNoDiscoverer
	}
	ctx, span := tracer.Start(ctx, "Index.IndexDirectory",
		trace.WithAttributes(attribute.String("index.root", root)))
	defer span.End()
	start := time.Now()

	paths, err := idx.discoverer.Discover(ctx, root)
	if err != nil {
		return 0, fmt.Errorf("discovering files: %w", err)
	}

	entries := make(map[string]Entry, len(paths))
	var entriesMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.workers)
	for _, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			content, err := os.ReadFile(path)
			if err != nil {
				idx.logger.Debug("skipping unreadable file",
					slog.String("file", path),
					slog.String("error", err.Error()))
				return nil
			}
			entry := idx.parse(gctx, path, content)
			entriesMu.Lock()
			entries[path] = entry
			entriesMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	graph := buildGraph(entries)
	parsed := 0
	for _, e := range entries {
		if e.Parsed() {
			parsed++
		}
	}

	idx.mu.Lock()
	idx.entries = entries
	idx.graph = graph
	idx.indexed = true
	idx.mu.Unlock()

	span.SetAttributes(
		attribute.Int("index.files", len(entries)),
		attribute.Int("index.parsed", parsed),
		attribute.Int("index.nodes", graph.NodeCount()),
	)
	idx.logger.Info("index rebuilt",
		slog.String("root", root),
		slog.Int("files", len(entries)),
		slog.Int("parsed", parsed),
		slog.Int("nodes", graph.NodeCount()),
		slog.Int("edges", graph.EdgeCount()),
		slog.Duration("duration", time.Since(start)))
	return parsed, nil
}

// BuildCallGraph rebuilds the call graph from the current entries,
// discarding the previous graph.
func (idx *Index) BuildCallGraph() *CallGraph {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.graph = buildGraph(idx.entries)
	return idx.graph
}

// buildGraph creates one node per function definition and one edge per
// distinct unqualified call target, resolved to the caller's own file.
func buildGraph(entries map[string]Entry) *CallGraph {
	g := NewCallGraph()
	for path, entry := range entries {
		if !entry.Parsed() {
			continue
		}
		for _, fn := range entry.Result.Functions() {
			caller := NodeID{File: path, Name: fn.Name}
			g.AddNode(caller, fn)
			for _, call := range fn.Calls {
				if call.Qualified {
					continue
				}
				g.AddEdge(caller, NodeID{File: path, Name: call.Target}, call.Line)
			}
		}
	}
	return g
}

// GetImpactedFunctions returns every function that directly or transitively
// calls function in file, formatted "file:function". An unknown node yields
// an empty result.
func (idx *Index) GetImpactedFunctions(ctx context.Context, file, function string) []string {
	idx.mu.RLock()
	graph := idx.graph
	idx.mu.RUnlock()

	ancestors, err := graph.Ancestors(ctx, NodeID{File: file, Name: function})
	if err != nil {
		idx.logger.Warn("impact analysis interrupted",
			slog.String("target", file+":"+function),
			slog.String("error", err.Error()))
		return []string{}
	}
	out := make([]string, 0, len(ancestors))
	for _, id := range ancestors {
		out = append(out, id.String())
	}
	return out
}

// IsIndexed reports whether a full directory scan has completed.
func (idx *Index) IsIndexed() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.indexed
}

// Lookup returns the entry for path.
func (idx *Index) Lookup(path string) (Entry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.entries[path]
	return e, ok
}

// Tree returns the parse result for path if it parsed.
func (idx *Index) Tree(path string) (*ast.ParseResult, bool) {
	e, ok := idx.Lookup(path)
	if !ok || !e.Parsed() {
		return nil, false
	}
	return e.Result, true
}

// Files returns every indexed path, parsed or not, sorted.
func (idx *Index) Files() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	files := make([]string, 0, len(idx.entries))
	for path := range idx.entries {
		files = append(files, path)
	}
	sort.Strings(files)
	return files
}

// ParsedFiles returns the paths that produced a syntax tree, sorted.
func (idx *Index) ParsedFiles() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	files := make([]string, 0, len(idx.entries))
	for path, e := range idx.entries {
		if e.Parsed() {
			files = append(files, path)
		}
	}
	sort.Strings(files)
	return files
}

// Len returns the number of indexed files including sentinels.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Graph returns the current call graph. It must not be mutated.
func (idx *Index) Graph() *CallGraph {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.graph
}

// Stats summarizes the current index.
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	s := Stats{
		Files: len(idx.entries),
		Nodes: idx.graph.NodeCount(),
		Edges: idx.graph.EdgeCount(),
	}
	for _, e := range idx.entries {
		if e.Parsed() {
			s.Parsed++
		}
	}
	return s
}
