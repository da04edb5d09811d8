// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package command

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrOutsideBase = errors.New("path is outside the allowed project directory")
	ErrNotExist    = errors.New("path does not exist")
	ErrNotReadable = errors.New("path is not readable")
)

// PathValidator confines user-supplied paths to a base directory.
type PathValidator struct {
	Base string
}

// Validate resolves p against the base and checks that the result stays
// inside it, exists and can be opened for reading.
//
// Outputs:
//
//	string - The cleaned absolute path.
//	error  - ErrOutsideBase, ErrNotExist or ErrNotReadable.
func (v PathValidator) Validate(p string) (string, error) {
	base, err := filepath.Abs(v.Base)
	if err != nil {
		return "", fmt.Errorf("resolving base directory: %w", err)
	}
	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(base, abs)
	}
	abs = filepath.Clean(abs)

	rel, err := filepath.Rel(base, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrOutsideBase
	}

	if _, err := os.Stat(abs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotExist
		}
		return "", ErrNotReadable
	}
	f, err := os.Open(abs)
	if err != nil {
		return "", ErrNotReadable
	}
	f.Close()
	return abs, nil
}

// userMessage renders err as a sentence for the client.
func userMessage(err error) string {
	msg := err.Error()
	if msg == "" {
		return msg
	}
	msg = strings.ToUpper(msg[:1]) + msg[1:]
	if !strings.HasSuffix(msg, ".") {
		msg += "."
	}
	return msg
}
