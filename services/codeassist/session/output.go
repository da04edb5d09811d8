// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import "fmt"

// OutputKind tags the content of an Output.
type OutputKind int

const (
	// OutputNone means no step has produced output yet.
	OutputNone OutputKind = iota
	OutputResult
	OutputError
)

// String returns the lowercase kind name.
func (k OutputKind) String() string {
	switch k {
	case OutputNone:
		return "none"
	case OutputResult:
		return "result"
	case OutputError:
		return "error"
	default:
		return fmt.Sprintf("OutputKind(%d)", int(k))
	}
}

// Output is the last step's result or an explicit error marker.
//
// For OutputResult, Value holds the payload. For OutputError, Err holds
// the message and Step names the step that failed.
type Output struct {
	Kind  OutputKind `json:"kind"`
	Value any        `json:"value,omitempty"`
	Err   string     `json:"error,omitempty"`
	Step  string     `json:"step,omitempty"`
}

// Result wraps a successful payload.
func Result(v any) Output {
	return Output{Kind: OutputResult, Value: v}
}

// Failure builds an error marker.
func Failure(step, msg string) Output {
	return Output{Kind: OutputError, Err: msg, Step: step}
}

// IsError reports whether o is an error marker.
func (o Output) IsError() bool {
	return o.Kind == OutputError
}

// String renders o for log lines.
func (o Output) String() string {
	switch o.Kind {
	case OutputError:
		if o.Step != "" {
			return fmt.Sprintf("error in %s: %s", o.Step, o.Err)
		}
		return "error: " + o.Err
	case OutputResult:
		return fmt.Sprintf("%v", o.Value)
	default:
		return ""
	}
}

// Strategy is one proposed approach to the user's request.
type Strategy struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Pros        []string `json:"pros"`
	Cons        []string `json:"cons"`
}

// ProposedChange is a unified diff against one file.
type ProposedChange struct {
	FilePath string `json:"file_path"`
	Diff     string `json:"diff"`
}

// ChangeSummary describes a diff in commit-message terms.
type ChangeSummary struct {
	Type        string   `json:"type"`
	Scope       string   `json:"scope,omitempty"`
	Description string   `json:"description"`
	Details     []string `json:"details,omitempty"`
	Breaking    bool     `json:"breaking_change,omitempty"`
}

// RenameRequest asks for a function and its unqualified calls in one
// file to be renamed.
type RenameRequest struct {
	FilePath string `json:"file_path"`
	OldName  string `json:"old_name"`
	NewName  string `json:"new_name"`
}

// Summary is a plain textual result.
type Summary struct {
	Summary string `json:"summary"`
}
