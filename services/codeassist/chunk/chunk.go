// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chunk

import (
	"fmt"
	"strings"

	"github.com/mracul/code-assistant/services/codeassist/ast"
)

const (
	// DefaultWindowTokens is the token-window size of the fallback chunker.
	DefaultWindowTokens = 500

	// DefaultOverlapTokens is the overlap between consecutive windows.
	DefaultOverlapTokens = 50
)

// Type labels how a chunk was produced.
type Type string

const (
	TypeModule   Type = "module_code"
	TypeFunction Type = "function"
	TypeClass    Type = "class"
	TypeText     Type = "text_chunk"
)

// Chunk is a retrievable span of a file.
//
// StartLine and EndLine are 1-based and inclusive; both are -1 for token
// windows, whose line positions are not tracked.
type Chunk struct {
	FilePath  string `json:"file_path"`
	Type      Type   `json:"type"`
	Name      string `json:"name"`
	Content   string `json:"content"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// ChunkFile splits content into one chunk per declared symbol plus one for
// leading module-level code. Without a parse result, or when the result
// holds no symbols, it falls back to token windows.
func ChunkFile(path, content string, result *ast.ParseResult, counter TokenCounter) []Chunk {
	if result == nil || len(result.Symbols) == 0 {
		return ByTokens(path, content, counter, DefaultWindowTokens, DefaultOverlapTokens)
	}

	lines := strings.Split(content, "\n")
	chunks := make([]Chunk, 0, len(result.Symbols)+1)

	first := result.Symbols[0].StartLine
	for _, s := range result.Symbols {
		if s.StartLine < first {
			first = s.StartLine
		}
	}
	if first > 1 {
		head := strings.TrimSpace(strings.Join(lines[:first-1], "\n"))
		if head != "" {
			chunks = append(chunks, Chunk{
				FilePath:  path,
				Type:      TypeModule,
				Name:      path,
				Content:   head,
				StartLine: 1,
				EndLine:   first - 1,
			})
		}
	}

	for _, s := range result.Symbols {
		typ := TypeFunction
		if s.Kind.IsClassLike() {
			typ = TypeClass
		}
		chunks = append(chunks, Chunk{
			FilePath:  path,
			Type:      typ,
			Name:      s.Name,
			Content:   sliceLines(lines, s.StartLine, s.EndLine),
			StartLine: s.StartLine,
			EndLine:   s.EndLine,
		})
	}
	return chunks
}

func sliceLines(lines []string, start, end int) string {
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}

// ByTokens splits content into windows of maxTokens overlapping by overlap.
//
// With a Tokenizer the windows are exact token ranges. Any other counter
// gets byte windows sized at four bytes per token, cut on rune boundaries.
func ByTokens(path, content string, counter TokenCounter, maxTokens, overlap int) []Chunk {
	if content == "" {
		return nil
	}
	if maxTokens <= 0 {
		maxTokens = DefaultWindowTokens
	}
	if overlap < 0 || overlap >= maxTokens {
		overlap = 0
	}
	step := maxTokens - overlap

	var pieces []string
	if tok, ok := counter.(Tokenizer); ok {
		tokens := tok.Encode(content)
		for start := 0; start < len(tokens); start += step {
			end := min(start+maxTokens, len(tokens))
			pieces = append(pieces, tok.Decode(tokens[start:end]))
			if end == len(tokens) {
				break
			}
		}
	} else {
		runes := []rune(content)
		width, stride := maxTokens*charsPerToken, step*charsPerToken
		for start := 0; start < len(runes); start += stride {
			end := min(start+width, len(runes))
			pieces = append(pieces, string(runes[start:end]))
			if end == len(runes) {
				break
			}
		}
	}

	chunks := make([]Chunk, 0, len(pieces))
	for i, p := range pieces {
		chunks = append(chunks, Chunk{
			FilePath:  path,
			Type:      TypeText,
			Name:      fmt.Sprintf("chunk_%d", i),
			Content:   p,
			StartLine: -1,
			EndLine:   -1,
		})
	}
	return chunks
}
