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

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed workflows.yaml
var embeddedWorkflows []byte

const (
	// DefaultMaxTurns applies to a deliberation that sets no max_turns.
	DefaultMaxTurns = 3

	// MaxDefinitionsFileSize bounds an external workflows file.
	MaxDefinitionsFileSize = 1 << 20
)

// Deliberation is a bounded proposer/challenger loop.
type Deliberation struct {
	Proposer   string `yaml:"proposer" json:"proposer"`
	Challenger string `yaml:"challenger" json:"challenger"`
	MaxTurns   int    `yaml:"max_turns" json:"max_turns"`
}

// Step is either a single agent or a deliberation. Exactly one is set.
type Step struct {
	Agent      string
	Deliberate *Deliberation
}

// Label names the step in logs and reports.
func (s Step) Label() string {
	if s.Deliberate != nil {
		return fmt.Sprintf("deliberate(%s, %s)", s.Deliberate.Proposer, s.Deliberate.Challenger)
	}
	return s.Agent
}

// UnmarshalYAML accepts "Name", {agent: Name} and {deliberate: {...}}.
func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Decode(&s.Agent)
	case yaml.MappingNode:
		var m struct {
			Agent      string        `yaml:"agent"`
			Deliberate *Deliberation `yaml:"deliberate"`
		}
		if err := node.Decode(&m); err != nil {
			return err
		}
		if (m.Agent == "") == (m.Deliberate == nil) {
			return fmt.Errorf("line %d: step must set exactly one of agent or deliberate", node.Line)
		}
		s.Agent, s.Deliberate = m.Agent, m.Deliberate
		return nil
	default:
		return fmt.Errorf("line %d: step must be an agent name or a mapping", node.Line)
	}
}

// Definition is one named workflow.
type Definition struct {
	Name        string `yaml:"-" json:"name"`
	Description string `yaml:"description" json:"description"`
	Steps       []Step `yaml:"sequence" json:"-"`
}

// Definitions maps workflow names to definitions. It is read-only after
// loading.
type Definitions map[string]Definition

// Names returns the workflow names, sorted.
func (d Definitions) Names() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Agents returns every agent name referenced by any step, sorted and
// without duplicates.
func (d Definitions) Agents() []string {
	seen := make(map[string]struct{})
	for _, def := range d {
		for _, st := range def.Steps {
			if st.Deliberate != nil {
				seen[st.Deliberate.Proposer] = struct{}{}
				seen[st.Deliberate.Challenger] = struct{}{}
				continue
			}
			seen[st.Agent] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Verify checks that every referenced agent is in known.
func (d Definitions) Verify(known []string) error {
	set := make(map[string]struct{}, len(known))
	for _, k := range known {
		set[k] = struct{}{}
	}
	var missing []error
	for _, name := range d.Agents() {
		if _, ok := set[name]; !ok {
			missing = append(missing, fmt.Errorf("%w: %s", ErrUnknownAgent, name))
		}
	}
	return errors.Join(missing...)
}

type workflowsFile struct {
	Workflows map[string]Definition `yaml:"workflows"`
}

// DefaultDefinitions returns the embedded workflows.
func DefaultDefinitions() (Definitions, error) {
	return ParseDefinitions(embeddedWorkflows)
}

// LoadDefinitions reads workflows from path, or the embedded document when
// path is empty.
func LoadDefinitions(path string) (Definitions, error) {
	if path == "" {
		return DefaultDefinitions()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening workflow definitions: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxDefinitionsFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading workflow definitions: %w", err)
	}
	if len(data) > MaxDefinitionsFileSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidDefinitions, path, MaxDefinitionsFileSize)
	}
	return ParseDefinitions(data)
}

// ParseDefinitions decodes and validates a workflows document.
//
// Description:
//
//	Every workflow needs at least one step. Deliberations need both a
//	proposer and a challenger; a zero max_turns becomes DefaultMaxTurns
//	and a negative one is rejected.
func ParseDefinitions(data []byte) (Definitions, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc workflowsFile
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinitions, err)
	}

	defs := make(Definitions, len(doc.Workflows))
	for name, def := range doc.Workflows {
		if name == "" {
			return nil, fmt.Errorf("%w: unnamed workflow", ErrInvalidDefinitions)
		}
		if len(def.Steps) == 0 {
			return nil, fmt.Errorf("%w: workflow '%s' has no steps", ErrInvalidDefinitions, name)
		}
		for i := range def.Steps {
			d := def.Steps[i].Deliberate
			if d == nil {
				if def.Steps[i].Agent == "" {
					return nil, fmt.Errorf("%w: workflow '%s' step %d names no agent", ErrInvalidDefinitions, name, i+1)
				}
				continue
			}
			if d.Proposer == "" || d.Challenger == "" {
				return nil, fmt.Errorf("%w: workflow '%s' step %d: deliberation needs a proposer and a challenger",
					ErrInvalidDefinitions, name, i+1)
			}
			switch {
			case d.MaxTurns == 0:
				d.MaxTurns = DefaultMaxTurns
			case d.MaxTurns < 0:
				return nil, fmt.Errorf("%w: workflow '%s' step %d: max_turns must be positive",
					ErrInvalidDefinitions, name, i+1)
			}
		}
		def.Name = name
		defs[name] = def
	}
	return defs, nil
}
