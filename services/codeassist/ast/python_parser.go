// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"fmt"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// Node types from tree-sitter-python used during extraction.
const (
	pyNodeFunctionDefinition      = "function_definition"
	pyNodeAsyncFunctionDefinition = "async_function_definition"
	pyNodeClassDefinition         = "class_definition"
	pyNodeDecoratedDefinition     = "decorated_definition"
	pyNodeBlock                   = "block"
	pyNodeCall                    = "call"
	pyNodeIdentifier              = "identifier"
	pyNodeAttribute               = "attribute"
)

// PythonParser extracts functions, methods, classes and calls from Python.
//
// Every def is recorded, including nested ones, and a def directly inside a
// class body is a method. Source with any syntax error is rejected.
type PythonParser struct {
	cfg parserConfig
}

// NewPythonParser creates a Python parser.
func NewPythonParser(opts ...ParserOption) *PythonParser {
	return &PythonParser{cfg: newParserConfig(opts)}
}

// Parse implements Parser.
func (p *PythonParser) Parse(ctx context.Context, content []byte, filePath string) (*ParseResult, error) {
	ctx, span := startParseSpan(ctx, "python", filePath, len(content))
	defer span.End()
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled before start: %w", err)
	}

	hash, err := p.cfg.checkContent(content, filePath)
	if err != nil {
		recordParseMetrics(ctx, "python", time.Since(start), 0, false)
		return nil, err
	}

	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		recordParseMetrics(ctx, "python", time.Since(start), 0, false)
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if perr := syntaxError(root, filePath); perr != nil {
		recordParseMetrics(ctx, "python", time.Since(start), 0, false)
		return nil, perr
	}

	result := &ParseResult{
		FilePath:      filePath,
		Language:      "python",
		Hash:          hash,
		ParsedAtMilli: time.Now().UnixMilli(),
		Symbols:       make([]*Symbol, 0),
		Calls:         pyCalls(root, content),
	}

	walk(root, func(n *sitter.Node) bool {
		switch n.Type() {
		case pyNodeFunctionDefinition, pyNodeAsyncFunctionDefinition:
			if sym := p.functionSymbol(n, content); sym != nil {
				result.Symbols = append(result.Symbols, sym)
			}
		case pyNodeClassDefinition:
			if sym := p.classSymbol(n, content); sym != nil {
				result.Symbols = append(result.Symbols, sym)
			}
		}
		return true
	})

	if err := result.Validate(); err != nil {
		recordParseMetrics(ctx, "python", time.Since(start), 0, false)
		return nil, fmt.Errorf("result validation failed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled after extraction: %w", err)
	}

	setParseSpanResult(span, len(result.Symbols), len(result.Calls))
	recordParseMetrics(ctx, "python", time.Since(start), len(result.Symbols), true)
	return result, nil
}

// Language implements Parser.
func (p *PythonParser) Language() string {
	return "python"
}

// Extensions implements Parser.
func (p *PythonParser) Extensions() []string {
	return []string{".py", ".pyi"}
}

func (p *PythonParser) functionSymbol(n *sitter.Node, content []byte) *Symbol {
	name := n.ChildByFieldName("name")
	if name == nil {
		return nil
	}
	sym := &Symbol{
		Name:      nodeText(name, content),
		Kind:      KindFunction,
		StartLine: int(n.StartPoint().Row) + 1,
		EndLine:   int(n.EndPoint().Row) + 1,
		Preview:   firstLine(n, content),
		NameSpan:  spanOf(name),
		Body:      spanOf(n),
		Calls:     pyCalls(n, content),
	}
	if class := enclosingClass(n); class != nil {
		sym.Kind = KindMethod
		sym.Receiver = nodeText(class.ChildByFieldName("name"), content)
	}
	return sym
}

func (p *PythonParser) classSymbol(n *sitter.Node, content []byte) *Symbol {
	name := n.ChildByFieldName("name")
	if name == nil {
		return nil
	}
	return &Symbol{
		Name:      nodeText(name, content),
		Kind:      KindClass,
		StartLine: int(n.StartPoint().Row) + 1,
		EndLine:   int(n.EndPoint().Row) + 1,
		Preview:   firstLine(n, content),
		NameSpan:  spanOf(name),
		Body:      spanOf(n),
	}
}

// enclosingClass returns the class whose body directly holds the def.
func enclosingClass(def *sitter.Node) *sitter.Node {
	parent := def.Parent()
	if parent != nil && parent.Type() == pyNodeDecoratedDefinition {
		parent = parent.Parent()
	}
	if parent == nil || parent.Type() != pyNodeBlock {
		return nil
	}
	parent = parent.Parent()
	if parent == nil || parent.Type() != pyNodeClassDefinition {
		return nil
	}
	return parent
}

// pyCalls collects every call under root whose callee is a name or an
// attribute access.
func pyCalls(root *sitter.Node, content []byte) []CallSite {
	calls := make([]CallSite, 0, 8)
	walk(root, func(n *sitter.Node) bool {
		if n.Type() != pyNodeCall {
			return true
		}
		fn := n.ChildByFieldName("function")
		if fn == nil {
			return true
		}
		line := int(n.StartPoint().Row) + 1
		preview := firstLine(n, content)
		switch fn.Type() {
		case pyNodeIdentifier:
			calls = append(calls, CallSite{
				Target:     nodeText(fn, content),
				Line:       line,
				Preview:    preview,
				TargetSpan: spanOf(fn),
			})
		case pyNodeAttribute:
			attr := fn.ChildByFieldName("attribute")
			if attr == nil {
				return true
			}
			calls = append(calls, CallSite{
				Target:     nodeText(attr, content),
				Receiver:   nodeText(fn.ChildByFieldName("object"), content),
				Qualified:  true,
				Line:       line,
				Preview:    preview,
				TargetSpan: spanOf(attr),
			})
		}
		return true
	})
	return calls
}

var _ Parser = (*PythonParser)(nil)
