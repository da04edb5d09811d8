// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrAgentNotFound indicates a name with no definition or no factory.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrNotInvocable indicates a definition whose unit could not be built.
	ErrNotInvocable = errors.New("agent is not invocable")

	// ErrInvalidDefinitions indicates a malformed definitions document.
	ErrInvalidDefinitions = errors.New("invalid agent definitions")
)

// NotFoundError reports a lookup of an unknown agent.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("agent '%s' not found", e.Name)
}

func (e *NotFoundError) Unwrap() error {
	return ErrAgentNotFound
}

// NotInvocableError reports an agent whose factory failed or built nothing.
type NotInvocableError struct {
	Name  string
	Cause error
}

func (e *NotInvocableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("agent '%s' is not invocable: %v", e.Name, e.Cause)
	}
	return fmt.Sprintf("agent '%s' is not invocable", e.Name)
}

// Unwrap exposes both the sentinel and the factory cause to errors.Is.
func (e *NotInvocableError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrNotInvocable, e.Cause}
	}
	return []error{ErrNotInvocable}
}
