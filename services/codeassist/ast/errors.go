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
	"errors"
	"fmt"
)

// Sentinel errors for parse failure conditions.
//
// These errors can be checked using errors.Is() to determine the
// category of failure without inspecting error messages.
var (
	// ErrUnsupportedLanguage indicates that no parser is registered for the
	// requested language or file extension.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrParseFailed indicates that the source is not syntactically valid.
	ErrParseFailed = errors.New("parse failed")

	// ErrInvalidContent indicates content that cannot be processed at all
	// (non-UTF-8, binary, inconsistent result).
	ErrInvalidContent = errors.New("invalid content")

	// ErrFileTooLarge indicates content above the parser's size limit.
	ErrFileTooLarge = errors.New("file exceeds maximum size limit")
)

// ParseError locates a syntax error inside a file.
//
// Example:
//
//	_, err := parser.Parse(ctx, content, "app.py")
//	var parseErr *ParseError
//	if errors.As(err, &parseErr) {
//	    fmt.Printf("%s:%d:%d\n", parseErr.FilePath, parseErr.Line, parseErr.Column)
//	}
type ParseError struct {
	FilePath string
	Line     int
	Column   int
	Message  string
	Cause    error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.FilePath, e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.FilePath, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ParseError) Unwrap() error {
	return e.Cause
}
