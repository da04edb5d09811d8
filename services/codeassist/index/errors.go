// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package index maintains the structural index of a project: one parse
// result per file and a function call graph derived from them.
//
// The call graph is rebuilt wholesale after every directory scan and never
// patched incrementally. Call resolution is purely syntactic: an unqualified
// call to name inside file F is an edge to (F, name), whether or not F
// defines name.
package index

import "errors"

var (
	// ErrNoDiscoverer is returned by IndexDirectory when the index was built
	// without a discovery collaborator.
	ErrNoDiscoverer = errors.New("index has no discoverer")

	// ErrNoParser marks a file whose extension has no registered parser.
	ErrNoParser = errors.New("no parser for file type")
)
