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
	"sort"

	"github.com/mracul/code-assistant/services/codeassist/ast"
)

// contextCheckInterval is how many BFS iterations pass between ctx checks.
const contextCheckInterval = 256

// NodeID identifies a call graph node by file and function name.
//
// Two same-named functions in one file (a method and a free function, or
// two nested defs) share one NodeID. Callers relying on impact analysis
// depend on this coarse identity.
type NodeID struct {
	File string
	Name string
}

// String formats the ID as "file:function".
func (id NodeID) String() string {
	return id.File + ":" + id.Name
}

// Edge is a syntactic call from one function to a name.
type Edge struct {
	From NodeID
	To   NodeID

	// Line is the line of the first call that produced the edge.
	Line int
}

// Node is a function in the call graph.
//
// Symbol is nil for call targets that have no definition in the file, such
// as builtins or functions defined elsewhere.
type Node struct {
	ID       NodeID
	Symbol   *ast.Symbol
	Outgoing []*Edge
	Incoming []*Edge
}

// CallGraph is a directed graph of function calls.
//
// Thread Safety: CallGraph is not safe for concurrent mutation. The Index
// builds a fresh graph and publishes it under its own lock; published
// graphs are read-only.
type CallGraph struct {
	nodes map[NodeID]*Node
	edges map[[2]NodeID]*Edge
}

// NewCallGraph creates an empty graph.
func NewCallGraph() *CallGraph {
	return &CallGraph{
		nodes: make(map[NodeID]*Node),
		edges: make(map[[2]NodeID]*Edge),
	}
}

// AddNode adds a node or returns the existing one. A nil symbol never
// overwrites a known one.
func (g *CallGraph) AddNode(id NodeID, sym *ast.Symbol) *Node {
	if n, ok := g.nodes[id]; ok {
		if n.Symbol == nil {
			n.Symbol = sym
		}
		return n
	}
	n := &Node{ID: id, Symbol: sym}
	g.nodes[id] = n
	return n
}

// AddEdge adds from -> to, creating either endpoint as needed. Duplicate
// edges are collapsed.
func (g *CallGraph) AddEdge(from, to NodeID, line int) {
	key := [2]NodeID{from, to}
	if _, ok := g.edges[key]; ok {
		return
	}
	src := g.AddNode(from, nil)
	dst := g.AddNode(to, nil)
	e := &Edge{From: from, To: to, Line: line}
	g.edges[key] = e
	src.Outgoing = append(src.Outgoing, e)
	dst.Incoming = append(dst.Incoming, e)
}

// Node returns the node for id.
func (g *CallGraph) Node(id NodeID) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// HasEdge reports whether from -> to exists.
func (g *CallGraph) HasEdge(from, to NodeID) bool {
	_, ok := g.edges[[2]NodeID{from, to}]
	return ok
}

// NodeCount returns the number of nodes.
func (g *CallGraph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of distinct edges.
func (g *CallGraph) EdgeCount() int {
	return len(g.edges)
}

// Ancestors returns every node with a path to id, excluding id itself,
// sorted by file then name.
//
// Description:
//
//	Breadth-first search over incoming edges with a visited set, so cycles
//	terminate. Returns nil when id is not in the graph.
//
// Outputs:
//
//	[]NodeID - Transitive callers.
//	error    - ctx.Err() if canceled during traversal.
func (g *CallGraph) Ancestors(ctx context.Context, id NodeID) ([]NodeID, error) {
	start, ok := g.nodes[id]
	if !ok {
		return nil, nil
	}

	visited := map[NodeID]bool{id: true}
	queue := []*Node{start}
	var out []NodeID

	for iter := 0; len(queue) > 0; iter++ {
		if iter%contextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		current := queue[0]
		queue = queue[1:]

		for _, e := range current.Incoming {
			if visited[e.From] {
				continue
			}
			visited[e.From] = true
			out = append(out, e.From)
			if caller, ok := g.nodes[e.From]; ok {
				queue = append(queue, caller)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].File != out[j].File {
			return out[i].File < out[j].File
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}
