// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workflow

import "errors"

var (
	// ErrWorkflowNotFound indicates a name with no definition.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrInvalidDefinitions indicates a malformed workflows document.
	ErrInvalidDefinitions = errors.New("invalid workflow definitions")

	// ErrUnknownAgent indicates a step naming an agent that is not defined.
	ErrUnknownAgent = errors.New("workflow references unknown agent")
)
