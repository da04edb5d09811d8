// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ast parses source files into structural summaries using tree-sitter.
//
// Each language has a Parser that turns raw bytes into a ParseResult listing
// declared symbols (functions, methods, classes, types) and the syntactic
// call sites inside them. Results carry byte spans so callers can rewrite
// identifiers without re-parsing.
//
// # Thread Safety
//
// Parsers create a fresh tree-sitter parser per call and hold no mutable
// state, so one instance may be shared between goroutines.
package ast

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
)

const (
	// DefaultMaxFileSize is the largest file a parser accepts (10 MiB).
	DefaultMaxFileSize = 10 * 1024 * 1024

	// WarnFileSize triggers a warning log for unusually large files (1 MiB).
	WarnFileSize = 1024 * 1024

	// maxTraversalDepth bounds iterative walks over pathological trees.
	maxTraversalDepth = 512
)

// Parser extracts a structural summary from source code.
//
// Description:
//
//	Implementations handle one language each and produce the common
//	ParseResult shape. Syntactically invalid input is rejected with a
//	*ParseError wrapping ErrParseFailed so that callers can record the file
//	as unparsable.
//
// Inputs:
//
//	ctx      - Context for cancellation.
//	content  - Raw source bytes. Must be valid UTF-8.
//	filePath - Path used for error reporting and the result's FilePath.
//
// Outputs:
//
//	*ParseResult - Extracted symbols and calls. Never nil when err is nil.
//	error        - ErrFileTooLarge, ErrInvalidContent, ErrParseFailed or a
//	               context error.
type Parser interface {
	Parse(ctx context.Context, content []byte, filePath string) (*ParseResult, error)

	// Language returns the lowercase language name ("go", "python").
	Language() string

	// Extensions returns handled extensions including the leading dot.
	Extensions() []string
}

// ParserRegistry manages parser instances by language and file extension.
//
// Thread Safety: All methods are safe for concurrent use.
type ParserRegistry struct {
	mu          sync.RWMutex
	byLanguage  map[string]Parser
	byExtension map[string]Parser
}

// NewParserRegistry creates an empty registry.
func NewParserRegistry() *ParserRegistry {
	return &ParserRegistry{
		byLanguage:  make(map[string]Parser),
		byExtension: make(map[string]Parser),
	}
}

// NewDefaultRegistry returns a registry holding the Python and Go parsers.
func NewDefaultRegistry(opts ...ParserOption) *ParserRegistry {
	r := NewParserRegistry()
	r.Register(NewPythonParser(opts...))
	r.Register(NewGoParser(opts...))
	return r
}

// Register adds a parser under its language and all of its extensions,
// replacing any earlier registration.
func (r *ParserRegistry) Register(parser Parser) {
	if parser == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byLanguage[parser.Language()] = parser
	for _, ext := range parser.Extensions() {
		r.byExtension[ext] = parser
	}
}

// GetByLanguage returns the parser for a language name.
func (r *ParserRegistry) GetByLanguage(language string) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	parser, ok := r.byLanguage[language]
	return parser, ok
}

// GetByExtension returns the parser for an extension such as ".py".
func (r *ParserRegistry) GetByExtension(ext string) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	parser, ok := r.byExtension[strings.ToLower(ext)]
	return parser, ok
}

// ForPath returns the parser for a file path based on its extension.
func (r *ParserRegistry) ForPath(path string) (Parser, bool) {
	return r.GetByExtension(filepath.Ext(path))
}

// Extensions returns all registered extensions, sorted.
func (r *ParserRegistry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.byExtension))
	for ext := range r.byExtension {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// ParserOption configures a parser.
type ParserOption func(*parserConfig)

type parserConfig struct {
	maxFileSize int
}

// WithMaxFileSize overrides DefaultMaxFileSize.
func WithMaxFileSize(bytes int) ParserOption {
	return func(c *parserConfig) {
		if bytes > 0 {
			c.maxFileSize = bytes
		}
	}
}

func newParserConfig(opts []ParserOption) parserConfig {
	cfg := parserConfig{maxFileSize: DefaultMaxFileSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// checkContent applies the size and encoding limits shared by all parsers
// and returns the content hash.
func (c parserConfig) checkContent(content []byte, filePath string) (string, error) {
	if len(content) > c.maxFileSize {
		return "", fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, len(content), c.maxFileSize)
	}
	if len(content) > WarnFileSize {
		slog.Warn("parsing large file",
			slog.String("file", filePath),
			slog.Int("size_bytes", len(content)))
	}
	if !utf8.Valid(content) {
		return "", fmt.Errorf("%w: content is not valid UTF-8", ErrInvalidContent)
	}
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:]), nil
}

// walk visits every node under root in pre-order, left to right. Returning
// false from visit skips the node's children.
func walk(root *sitter.Node, visit func(n *sitter.Node) bool) {
	type entry struct {
		node  *sitter.Node
		depth int
	}
	stack := []entry{{node: root}}
	for len(stack) > 0 {
		e := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if e.node == nil || e.depth > maxTraversalDepth {
			continue
		}
		if !visit(e.node) {
			continue
		}
		for i := int(e.node.ChildCount()) - 1; i >= 0; i-- {
			if child := e.node.Child(i); child != nil {
				stack = append(stack, entry{node: child, depth: e.depth + 1})
			}
		}
	}
}

// syntaxError builds a ParseError pointing at the first ERROR or MISSING
// node, or nil if the tree is clean.
func syntaxError(root *sitter.Node, filePath string) *ParseError {
	if root == nil || !root.HasError() {
		return nil
	}
	perr := &ParseError{
		FilePath: filePath,
		Message:  "source contains syntax errors",
		Cause:    ErrParseFailed,
	}
	walk(root, func(n *sitter.Node) bool {
		if perr.Line > 0 {
			return false
		}
		if n.IsError() || n.IsMissing() {
			perr.Line = int(n.StartPoint().Row) + 1
			perr.Column = int(n.StartPoint().Column) + 1
			return false
		}
		return n.HasError()
	})
	return perr
}

func nodeText(n *sitter.Node, content []byte) string {
	if n == nil {
		return ""
	}
	return string(content[n.StartByte():n.EndByte()])
}

func spanOf(n *sitter.Node) Span {
	if n == nil {
		return Span{}
	}
	return Span{StartByte: n.StartByte(), EndByte: n.EndByte()}
}

func firstLine(n *sitter.Node, content []byte) string {
	text := nodeText(n, content)
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	return strings.TrimRight(text, "\r")
}
