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

import "fmt"

// SymbolKind classifies an extracted symbol.
type SymbolKind string

const (
	// KindFunction is a free function (Python def at any level, Go func).
	KindFunction SymbolKind = "function"

	// KindMethod is a function bound to a class or receiver type.
	KindMethod SymbolKind = "method"

	// KindClass is a Python class.
	KindClass SymbolKind = "class"

	// KindStruct is a Go struct type.
	KindStruct SymbolKind = "struct"

	// KindInterface is a Go interface type.
	KindInterface SymbolKind = "interface"

	// KindType is any other named Go type.
	KindType SymbolKind = "type"
)

// IsCallable reports whether symbols of this kind own a body with call sites.
func (k SymbolKind) IsCallable() bool {
	return k == KindFunction || k == KindMethod
}

// IsClassLike reports whether symbols of this kind declare a type.
func (k SymbolKind) IsClassLike() bool {
	switch k {
	case KindClass, KindStruct, KindInterface, KindType:
		return true
	default:
		return false
	}
}

// Span is a half-open byte range into the parsed content.
type Span struct {
	StartByte uint32 `json:"start_byte"`
	EndByte   uint32 `json:"end_byte"`
}

// CallSite records one syntactic call expression.
//
// Target is the called name with any qualifier removed. For "obj.save()"
// Target is "save", Receiver is "obj" and Qualified is true. For "save()"
// Qualified is false and Receiver is empty.
type CallSite struct {
	Target    string `json:"target"`
	Receiver  string `json:"receiver,omitempty"`
	Qualified bool   `json:"qualified"`
	Line      int    `json:"line"`

	// Preview is the first source line of the call expression.
	Preview string `json:"preview"`

	// TargetSpan covers the target identifier only.
	TargetSpan Span `json:"target_span"`
}

// Symbol is a declaration extracted from a syntax tree.
type Symbol struct {
	Name      string     `json:"name"`
	Kind      SymbolKind `json:"kind"`
	Receiver  string     `json:"receiver,omitempty"`
	StartLine int        `json:"start_line"`
	EndLine   int        `json:"end_line"`

	// Preview is the first source line of the declaration.
	Preview string `json:"preview"`

	// NameSpan covers the declared identifier.
	NameSpan Span `json:"name_span"`

	// Body covers the full declaration.
	Body Span `json:"body"`

	// Calls holds every call expression inside the declaration, including
	// calls made from nested definitions.
	Calls []CallSite `json:"calls,omitempty"`
}

// ParseResult is the structural summary of one file.
//
// Thread Safety: ParseResult is immutable after Parse returns and may be
// read concurrently.
type ParseResult struct {
	FilePath      string    `json:"file_path"`
	Language      string    `json:"language"`
	Hash          string    `json:"hash"`
	ParsedAtMilli int64     `json:"parsed_at_milli"`
	Symbols       []*Symbol `json:"symbols"`

	// Calls holds every call expression in the file, including module-level ones.
	Calls []CallSite `json:"calls"`
}

// Functions returns the callable symbols in declaration order.
func (r *ParseResult) Functions() []*Symbol {
	out := make([]*Symbol, 0, len(r.Symbols))
	for _, s := range r.Symbols {
		if s.Kind.IsCallable() {
			out = append(out, s)
		}
	}
	return out
}

// FindFunction returns the first callable symbol with the given name.
func (r *ParseResult) FindFunction(name string) (*Symbol, bool) {
	for _, s := range r.Symbols {
		if s.Kind.IsCallable() && s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// FindClass returns the first class-like symbol with the given name.
func (r *ParseResult) FindClass(name string) (*Symbol, bool) {
	for _, s := range r.Symbols {
		if s.Kind.IsClassLike() && s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// FindCalls returns every call site in the file whose target is name.
func (r *ParseResult) FindCalls(name string) []CallSite {
	var out []CallSite
	for _, c := range r.Calls {
		if c.Target == name {
			out = append(out, c)
		}
	}
	return out
}

// Validate checks internal consistency of the result.
func (r *ParseResult) Validate() error {
	if r.FilePath == "" {
		return fmt.Errorf("%w: empty file path", ErrInvalidContent)
	}
	for i, s := range r.Symbols {
		if s == nil {
			return fmt.Errorf("%w: nil symbol at index %d", ErrInvalidContent, i)
		}
		if s.Name == "" {
			return fmt.Errorf("%w: unnamed %s symbol at line %d", ErrInvalidContent, s.Kind, s.StartLine)
		}
		if s.EndLine < s.StartLine {
			return fmt.Errorf("%w: symbol %s ends before it starts", ErrInvalidContent, s.Name)
		}
	}
	return nil
}
