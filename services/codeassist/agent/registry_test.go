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
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mracul/code-assistant/services/codeassist/session"
)

func countingFactory(calls *int, u Unit) Factory {
	return func(Deps) (Unit, error) {
		*calls++
		return u, nil
	}
}

func TestRegistry_ResolveCachesUnit(t *testing.T) {
	calls := 0
	noop := UnitFunc(func(_ context.Context, s *session.State) (*session.State, error) { return s, nil })
	r := NewRegistry(
		[]Definition{{Name: "Echo"}},
		Table{"Echo": countingFactory(&calls, noop)},
		Deps{},
	)

	first, err := r.Resolve("Echo")
	require.NoError(t, err)
	second, err := r.Resolve("Echo")
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.NotNil(t, first)
	assert.NotNil(t, second)
}

func TestRegistry_ResolveErrors(t *testing.T) {
	cause := errors.New("backend down")
	r := NewRegistry(
		[]Definition{
			{Name: "NoFactory", Unit: "Missing"},
			{Name: "Failing"},
			{Name: "Empty"},
		},
		Table{
			"Failing": func(Deps) (Unit, error) { return nil, cause },
			"Empty":   func(Deps) (Unit, error) { return nil, nil },
		},
		Deps{},
	)

	_, err := r.Resolve("Unknown")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "Unknown", nf.Name)
	assert.ErrorIs(t, err, ErrAgentNotFound)

	_, err = r.Resolve("NoFactory")
	assert.ErrorIs(t, err, ErrAgentNotFound)

	_, err = r.Resolve("Failing")
	var ni *NotInvocableError
	require.ErrorAs(t, err, &ni)
	assert.ErrorIs(t, err, ErrNotInvocable)
	assert.ErrorIs(t, err, cause)

	_, err = r.Resolve("Empty")
	assert.ErrorIs(t, err, ErrNotInvocable)
	assert.NotErrorIs(t, err, ErrAgentNotFound)
}

func TestRegistry_Invoke(t *testing.T) {
	r := NewRegistry(
		[]Definition{{Name: "Marker"}, {Name: "Nil"}},
		Table{
			"Marker": func(Deps) (Unit, error) {
				return UnitFunc(func(_ context.Context, s *session.State) (*session.State, error) {
					s.SetResult("done")
					return s, nil
				}), nil
			},
			"Nil": func(Deps) (Unit, error) {
				return UnitFunc(func(context.Context, *session.State) (*session.State, error) {
					return nil, nil
				}), nil
			},
		},
		Deps{},
	)
	s := newBareState(t)

	out, err := r.Invoke(context.Background(), "Marker", s)
	require.NoError(t, err)
	assert.Equal(t, "done", out.LastOutput.Value)

	out, err = r.Invoke(context.Background(), "Nil", s)
	require.NoError(t, err)
	assert.Same(t, s, out)

	out, err = r.Invoke(context.Background(), "Absent", s)
	assert.ErrorIs(t, err, ErrAgentNotFound)
	assert.Same(t, s, out)
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry([]Definition{{Name: "b"}, {Name: "a"}, {Name: "c"}}, nil, Deps{})
	assert.Equal(t, []string{"a", "b", "c"}, r.Names())

	d, ok := r.Definition("a")
	require.True(t, ok)
	assert.Equal(t, "a", d.Unit)
}

func TestBuiltins_EveryDefaultDefinitionResolves(t *testing.T) {
	defs, err := DefaultDefinitions()
	require.NoError(t, err)
	require.NotEmpty(t, defs)

	r := NewRegistry(defs, Builtins(), Deps{LLM: &fakeLLM{}})
	for _, name := range r.Names() {
		_, err := r.Resolve(name)
		assert.NoError(t, err, name)
	}
	assert.Len(t, r.Names(), len(Builtins()))
}

func TestBuiltins_LLMUnitsNeedBackend(t *testing.T) {
	defs, err := DefaultDefinitions()
	require.NoError(t, err)
	r := NewRegistry(defs, Builtins(), Deps{})

	_, err = r.Resolve("CreativeArchitect")
	assert.ErrorIs(t, err, ErrNotInvocable)

	_, err = r.Resolve("StructureAnalyzer")
	assert.NoError(t, err)
}

func TestParseDefinitions(t *testing.T) {
	defs, err := ParseDefinitions([]byte("agents:\n  - name: A\n  - name: B\n    unit: X\n"))
	require.NoError(t, err)
	assert.Equal(t, []Definition{{Name: "A", Unit: "A"}, {Name: "B", Unit: "X"}}, defs)

	bad := map[string]string{
		"unknown field": "agents:\n  - name: A\n    colour: red\n",
		"unnamed":       "agents:\n  - description: nameless\n",
		"duplicate":     "agents:\n  - name: A\n  - name: A\n",
		"not yaml":      "agents: [\n",
	}
	for name, doc := range bad {
		_, err := ParseDefinitions([]byte(doc))
		assert.ErrorIs(t, err, ErrInvalidDefinitions, name)
	}

	empty, err := ParseDefinitions(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLoadDefinitions(t *testing.T) {
	ctx := context.Background()

	embedded, err := LoadDefinitions(ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, embedded)

	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agents:\n  - name: Only\n"), 0o644))
	defs, err := LoadDefinitions(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, []Definition{{Name: "Only", Unit: "Only"}}, defs)

	_, err = LoadDefinitions(ctx, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	big := filepath.Join(t.TempDir(), "big.yaml")
	require.NoError(t, os.WriteFile(big, []byte("# "+strings.Repeat("x", MaxDefinitionsFileSize)), 0o644))
	_, err = LoadDefinitions(ctx, big)
	assert.ErrorIs(t, err, ErrInvalidDefinitions)
}
