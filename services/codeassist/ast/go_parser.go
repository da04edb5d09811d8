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
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
)

// Node types from tree-sitter-go used during extraction.
const (
	goNodeFunctionDeclaration = "function_declaration"
	goNodeMethodDeclaration   = "method_declaration"
	goNodeTypeSpec            = "type_spec"
	goNodeStructType          = "struct_type"
	goNodeInterfaceType       = "interface_type"
	goNodeCallExpression      = "call_expression"
	goNodeIdentifier          = "identifier"
	goNodeSelectorExpression  = "selector_expression"
	goNodeTypeIdentifier      = "type_identifier"
)

// GoParser extracts functions, methods, named types and calls from Go.
type GoParser struct {
	cfg parserConfig
}

// NewGoParser creates a Go parser.
func NewGoParser(opts ...ParserOption) *GoParser {
	return &GoParser{cfg: newParserConfig(opts)}
}

// Parse implements Parser.
func (p *GoParser) Parse(ctx context.Context, content []byte, filePath string) (*ParseResult, error) {
	ctx, span := startParseSpan(ctx, "go", filePath, len(content))
	defer span.End()
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled before start: %w", err)
	}

	hash, err := p.cfg.checkContent(content, filePath)
	if err != nil {
		recordParseMetrics(ctx, "go", time.Since(start), 0, false)
		return nil, err
	}

	parser := sitter.NewParser()
	parser.SetLanguage(golang.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		recordParseMetrics(ctx, "go", time.Since(start), 0, false)
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if perr := syntaxError(root, filePath); perr != nil {
		recordParseMetrics(ctx, "go", time.Since(start), 0, false)
		return nil, perr
	}

	result := &ParseResult{
		FilePath:      filePath,
		Language:      "go",
		Hash:          hash,
		ParsedAtMilli: time.Now().UnixMilli(),
		Symbols:       make([]*Symbol, 0),
		Calls:         goCalls(root, content),
	}

	walk(root, func(n *sitter.Node) bool {
		switch n.Type() {
		case goNodeFunctionDeclaration:
			if sym := p.funcSymbol(n, content, KindFunction); sym != nil {
				result.Symbols = append(result.Symbols, sym)
			}
			return false
		case goNodeMethodDeclaration:
			if sym := p.funcSymbol(n, content, KindMethod); sym != nil {
				sym.Receiver = receiverType(n.ChildByFieldName("receiver"), content)
				result.Symbols = append(result.Symbols, sym)
			}
			return false
		case goNodeTypeSpec:
			if sym := p.typeSymbol(n, content); sym != nil {
				result.Symbols = append(result.Symbols, sym)
			}
		}
		return true
	})

	if err := result.Validate(); err != nil {
		recordParseMetrics(ctx, "go", time.Since(start), 0, false)
		return nil, fmt.Errorf("result validation failed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled after extraction: %w", err)
	}

	setParseSpanResult(span, len(result.Symbols), len(result.Calls))
	recordParseMetrics(ctx, "go", time.Since(start), len(result.Symbols), true)
	return result, nil
}

// Language implements Parser.
func (p *GoParser) Language() string {
	return "go"
}

// Extensions implements Parser.
func (p *GoParser) Extensions() []string {
	return []string{".go"}
}

func (p *GoParser) funcSymbol(n *sitter.Node, content []byte, kind SymbolKind) *Symbol {
	name := n.ChildByFieldName("name")
	if name == nil {
		return nil
	}
	return &Symbol{
		Name:      nodeText(name, content),
		Kind:      kind,
		StartLine: int(n.StartPoint().Row) + 1,
		EndLine:   int(n.EndPoint().Row) + 1,
		Preview:   firstLine(n, content),
		NameSpan:  spanOf(name),
		Body:      spanOf(n),
		Calls:     goCalls(n.ChildByFieldName("body"), content),
	}
}

func (p *GoParser) typeSymbol(n *sitter.Node, content []byte) *Symbol {
	name := n.ChildByFieldName("name")
	if name == nil {
		return nil
	}
	kind := KindType
	if typ := n.ChildByFieldName("type"); typ != nil {
		switch typ.Type() {
		case goNodeStructType:
			kind = KindStruct
		case goNodeInterfaceType:
			kind = KindInterface
		}
	}
	return &Symbol{
		Name:      nodeText(name, content),
		Kind:      kind,
		StartLine: int(n.StartPoint().Row) + 1,
		EndLine:   int(n.EndPoint().Row) + 1,
		Preview:   firstLine(n, content),
		NameSpan:  spanOf(name),
		Body:      spanOf(n),
	}
}

// receiverType returns the bare receiver type name: "(s *Server)" -> "Server".
func receiverType(params *sitter.Node, content []byte) string {
	var found string
	walk(params, func(n *sitter.Node) bool {
		if found != "" {
			return false
		}
		if n.Type() == goNodeTypeIdentifier {
			found = nodeText(n, content)
			return false
		}
		return true
	})
	return strings.TrimSpace(found)
}

// goCalls collects call expressions under root whose callee is an
// identifier or a selector.
func goCalls(root *sitter.Node, content []byte) []CallSite {
	calls := make([]CallSite, 0, 8)
	if root == nil {
		return calls
	}
	walk(root, func(n *sitter.Node) bool {
		if n.Type() != goNodeCallExpression {
			return true
		}
		fn := n.ChildByFieldName("function")
		if fn == nil {
			return true
		}
		line := int(n.StartPoint().Row) + 1
		preview := firstLine(n, content)
		switch fn.Type() {
		case goNodeIdentifier:
			calls = append(calls, CallSite{
				Target:     nodeText(fn, content),
				Line:       line,
				Preview:    preview,
				TargetSpan: spanOf(fn),
			})
		case goNodeSelectorExpression:
			field := fn.ChildByFieldName("field")
			if field == nil {
				return true
			}
			calls = append(calls, CallSite{
				Target:     nodeText(field, content),
				Receiver:   nodeText(fn.ChildByFieldName("operand"), content),
				Qualified:  true,
				Line:       line,
				Preview:    preview,
				TargetSpan: spanOf(field),
			})
		}
		return true
	})
	return calls
}

var _ Parser = (*GoParser)(nil)
