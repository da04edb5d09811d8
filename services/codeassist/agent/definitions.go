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
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"
)

//go:embed agents.yaml
var embeddedDefinitions []byte

// MaxDefinitionsFileSize bounds an external definitions file.
const MaxDefinitionsFileSize = 1 << 20

// Definition names an agent and the unit that implements it.
type Definition struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`

	// Unit is the registration table key. Empty means Name.
	Unit string `yaml:"unit,omitempty" json:"unit,omitempty"`
}

type definitionsFile struct {
	Agents []Definition `yaml:"agents"`
}

// DefaultDefinitions returns the embedded definitions.
func DefaultDefinitions() ([]Definition, error) {
	return ParseDefinitions(embeddedDefinitions)
}

// LoadDefinitions reads definitions from path, or the embedded document
// when path is empty.
//
// Outputs:
//
//	[]Definition - Validated definitions in document order.
//	error        - I/O failure or ErrInvalidDefinitions.
func LoadDefinitions(ctx context.Context, path string) ([]Definition, error) {
	_, span := tracer.Start(ctx, "agent.LoadDefinitions")
	defer span.End()

	if path == "" {
		span.SetAttributes(attribute.String("source", "embedded"))
		return DefaultDefinitions()
	}
	span.SetAttributes(attribute.String("source", path))

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening agent definitions: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxDefinitionsFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading agent definitions: %w", err)
	}
	if len(data) > MaxDefinitionsFileSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidDefinitions, path, MaxDefinitionsFileSize)
	}
	return ParseDefinitions(data)
}

// ParseDefinitions decodes and validates a definitions document. Unknown
// fields, unnamed agents and duplicate names are rejected.
func ParseDefinitions(data []byte) ([]Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc definitionsFile
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinitions, err)
	}

	seen := make(map[string]struct{}, len(doc.Agents))
	for i := range doc.Agents {
		d := &doc.Agents[i]
		if d.Name == "" {
			return nil, fmt.Errorf("%w: agent %d has no name", ErrInvalidDefinitions, i)
		}
		if _, dup := seen[d.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate agent '%s'", ErrInvalidDefinitions, d.Name)
		}
		seen[d.Name] = struct{}{}
		if d.Unit == "" {
			d.Unit = d.Name
		}
	}
	return doc.Agents, nil
}
