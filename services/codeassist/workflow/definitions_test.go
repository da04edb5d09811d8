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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mracul/code-assistant/services/codeassist/agent"
)

func TestParseDefinitions_StepForms(t *testing.T) {
	doc := `
workflows:
  mixed:
    description: every step form
    sequence:
      - First
      - agent: Second
      - deliberate: {proposer: P, challenger: C}
      - deliberate: {proposer: P, challenger: C, max_turns: 5}
`
	defs, err := ParseDefinitions([]byte(doc))
	require.NoError(t, err)

	def := defs["mixed"]
	assert.Equal(t, "mixed", def.Name)
	require.Len(t, def.Steps, 4)
	assert.Equal(t, "First", def.Steps[0].Agent)
	assert.Equal(t, "Second", def.Steps[1].Agent)
	assert.Equal(t, DefaultMaxTurns, def.Steps[2].Deliberate.MaxTurns)
	assert.Equal(t, 5, def.Steps[3].Deliberate.MaxTurns)
	assert.Equal(t, "deliberate(P, C)", def.Steps[2].Label())
	assert.Equal(t, []string{"C", "First", "P", "Second"}, defs.Agents())
}

func TestParseDefinitions_Rejects(t *testing.T) {
	bad := map[string]string{
		"no steps":         "workflows:\n  w:\n    description: x\n    sequence: []\n",
		"both forms":       "workflows:\n  w:\n    sequence:\n      - {agent: A, deliberate: {proposer: P, challenger: C}}\n",
		"no challenger":    "workflows:\n  w:\n    sequence:\n      - deliberate: {proposer: P}\n",
		"negative turns":   "workflows:\n  w:\n    sequence:\n      - deliberate: {proposer: P, challenger: C, max_turns: -1}\n",
		"sequence of list": "workflows:\n  w:\n    sequence:\n      - [A, B]\n",
		"unknown field":    "workflows:\n  w:\n    steps: [A]\n",
		"empty agent":      "workflows:\n  w:\n    sequence:\n      - \"\"\n",
	}
	for name, doc := range bad {
		_, err := ParseDefinitions([]byte(doc))
		assert.ErrorIs(t, err, ErrInvalidDefinitions, name)
	}
}

func TestDefaultDefinitions_ReferenceBuiltinAgents(t *testing.T) {
	defs, err := DefaultDefinitions()
	require.NoError(t, err)
	assert.Contains(t, defs.Names(), "feature")

	agentDefs, err := agent.DefaultDefinitions()
	require.NoError(t, err)
	known := make([]string, 0, len(agentDefs))
	for _, d := range agentDefs {
		known = append(known, d.Name)
	}
	assert.NoError(t, defs.Verify(known))
	assert.ErrorIs(t, defs.Verify([]string{"StructureAnalyzer"}), ErrUnknownAgent)
}

func TestLoadDefinitions_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflows.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workflows:\n  one:\n    sequence: [A]\n"), 0o644))

	defs, err := LoadDefinitions(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, defs.Names())

	_, err = LoadDefinitions(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
