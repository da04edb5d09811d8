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
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mracul/code-assistant/services/codeassist/agent"
	"github.com/mracul/code-assistant/services/codeassist/chunk"
	"github.com/mracul/code-assistant/services/codeassist/conversation"
	"github.com/mracul/code-assistant/services/codeassist/session"
)

// scriptedInvoker runs per-agent behaviors and records the call order.
type scriptedInvoker struct {
	behaviors map[string]func(s *session.State)
	calls     []string
}

func (f *scriptedInvoker) Invoke(_ context.Context, name string, s *session.State) (*session.State, error) {
	f.calls = append(f.calls, name)
	b, ok := f.behaviors[name]
	if !ok {
		return s, &agent.NotFoundError{Name: name}
	}
	b(s)
	return s, nil
}

func ok(v any) func(*session.State) {
	return func(s *session.State) { s.SetResult(v) }
}

func fail(step, msg string) func(*session.State) {
	return func(s *session.State) { s.SetError(step, msg) }
}

func newState(t *testing.T) (*session.State, *session.Recorder) {
	t.Helper()
	rec := &session.Recorder{}
	conv := conversation.New(conversation.WithTokenCounter(chunk.EstimateCounter{}))
	return session.New("wf", t.TempDir(), conv, nil, rec), rec
}

func seq(agents ...string) []Step {
	steps := make([]Step, len(agents))
	for i, a := range agents {
		steps[i] = Step{Agent: a}
	}
	return steps
}

func TestRun_HaltsOnErrorMarker(t *testing.T) {
	inv := &scriptedInvoker{behaviors: map[string]func(*session.State){
		"A": fail("A", "boom"),
		"B": ok("b"),
		"C": ok("c"),
	}}
	e := NewEngine(inv, Definitions{"abc": {Name: "abc", Description: "three steps", Steps: seq("A", "B", "C")}}, nil)
	s, rec := newState(t)

	report, err := e.Run(context.Background(), "abc", s)
	require.NoError(t, err)

	assert.Equal(t, []string{"A"}, inv.calls, "B and C must never run")
	assert.Equal(t, StatusHalted, report.Status)
	assert.True(t, report.Status.IsTerminal())
	assert.Equal(t, "A", report.HaltedAt)
	assert.Equal(t, []string{
		"Starting workflow: three steps",
		"--- Running Agent: A ---",
		"Workflow halted due to an error in agent 'A': boom",
	}, rec.Logs())
	assert.Empty(t, rec.OfType(session.NotifyResult))
}

func TestRun_CompletesAndSurfacesDiff(t *testing.T) {
	change := session.ProposedChange{FilePath: "a.py", Diff: "@@ -1 +1 @@"}
	inv := &scriptedInvoker{behaviors: map[string]func(*session.State){
		"A": ok("a"),
		"B": ok(change),
	}}
	e := NewEngine(inv, Definitions{"ab": {Name: "ab", Steps: seq("A", "B")}}, nil)
	s, rec := newState(t)

	report, err := e.Run(context.Background(), "ab", s)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, report.Status)
	assert.Equal(t, []StepRecord{{Agent: "A"}, {Agent: "B"}}, report.Steps)
	diffs := rec.OfType(session.NotifyDiff)
	require.Len(t, diffs, 1)
	assert.Equal(t, change, diffs[0].Data)
	assert.Empty(t, rec.OfType(session.NotifyResult))
	assert.Equal(t, "Workflow finished successfully.", rec.Logs()[len(rec.Logs())-1])
}

func TestRun_CompletesWithTextSummary(t *testing.T) {
	inv := &scriptedInvoker{behaviors: map[string]func(*session.State){
		"S": ok(session.Summary{Summary: "all good"}),
	}}
	e := NewEngine(inv, Definitions{"s": {Name: "s", Steps: seq("S")}}, nil)
	s, rec := newState(t)

	_, err := e.Run(context.Background(), "s", s)
	require.NoError(t, err)
	results := rec.OfType(session.NotifyResult)
	require.Len(t, results, 1)
	assert.Equal(t, session.Summary{Summary: "all good"}, results[0].Data)
}

func TestRun_NilChangePointerSurfacesSummary(t *testing.T) {
	var change *session.ProposedChange
	inv := &scriptedInvoker{behaviors: map[string]func(*session.State){"D": ok(change)}}
	e := NewEngine(inv, Definitions{"d": {Name: "d", Steps: seq("D")}}, nil)
	s, rec := newState(t)

	report, err := e.Run(context.Background(), "d", s)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, report.Status)
	assert.Empty(t, rec.OfType(session.NotifyDiff))
	results := rec.OfType(session.NotifyResult)
	require.Len(t, results, 1)
	assert.Equal(t, session.Summary{Summary: "Workflow 'd' completed."}, results[0].Data)
}

func TestRun_UnknownWorkflow(t *testing.T) {
	inv := &scriptedInvoker{}
	e := NewEngine(inv, Definitions{}, nil)
	s, rec := newState(t)

	report, err := e.Run(context.Background(), "nope", s)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
	assert.Equal(t, StatusIdle, report.Status)
	assert.Empty(t, inv.calls)
	assert.Equal(t, []string{"Error: Workflow 'nope' not found."}, rec.Logs())
}

func TestRun_UnknownAgentBecomesErrorMarker(t *testing.T) {
	inv := &scriptedInvoker{behaviors: map[string]func(*session.State){"B": ok("b")}}
	e := NewEngine(inv, Definitions{"w": {Name: "w", Steps: seq("Ghost", "B")}}, nil)
	s, _ := newState(t)

	report, err := e.Run(context.Background(), "w", s)
	require.NoError(t, err)
	assert.Equal(t, StatusHalted, report.Status)
	assert.Equal(t, "Ghost", report.HaltedAt)
	assert.Equal(t, []string{"Ghost"}, inv.calls)
	assert.True(t, errors.Is(&agent.NotFoundError{Name: "Ghost"}, agent.ErrAgentNotFound))
	assert.Contains(t, s.LastOutput.Err, "Ghost")
}

func TestRun_StaleErrorDoesNotHaltNextRun(t *testing.T) {
	inv := &scriptedInvoker{behaviors: map[string]func(*session.State){
		"Quiet": func(*session.State) {},
	}}
	e := NewEngine(inv, Definitions{"q": {Name: "q", Steps: seq("Quiet")}}, nil)
	s, _ := newState(t)
	s.SetError("Earlier", "old failure")

	report, err := e.Run(context.Background(), "q", s)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, report.Status)
}

func deliberation(turns int) Definitions {
	return Definitions{"d": {Name: "d", Steps: []Step{{Deliberate: &Deliberation{
		Proposer: "P", Challenger: "C", MaxTurns: turns,
	}}}}}
}

func TestDeliberation_NoConsensusAfterMaxTurns(t *testing.T) {
	inv := &scriptedInvoker{behaviors: map[string]func(*session.State){
		"P": ok("proposal"),
		"C": ok("rejected"),
	}}
	e := NewEngine(inv, deliberation(2), nil)
	s, rec := newState(t)
	s.SelectedSolution = &session.Strategy{ID: "stale"}

	report, err := e.Run(context.Background(), "d", s)
	require.NoError(t, err)

	assert.Equal(t, []string{"P", "C", "P", "C"}, inv.calls)
	assert.Equal(t, StatusHalted, report.Status)
	assert.Equal(t, "no consensus after 2 rounds", s.LastOutput.Err)
	assert.Equal(t, "deliberate(P, C)", report.HaltedAt)
	assert.Nil(t, s.SelectedSolution)
	assert.Equal(t, []StepRecord{
		{Agent: "P", Round: 1}, {Agent: "C", Round: 1},
		{Agent: "P", Round: 2}, {Agent: "C", Round: 2},
	}, report.Steps)
	assert.Contains(t, rec.Logs(), "Workflow halted due to an error in agent 'deliberate(P, C)': no consensus after 2 rounds")
}

func TestDeliberation_ConsensusOnFirstRound(t *testing.T) {
	inv := &scriptedInvoker{behaviors: map[string]func(*session.State){
		"P": ok("proposal"),
		"C": func(s *session.State) {
			s.SelectedSolution = &session.Strategy{ID: "s1", Name: "Pick"}
			s.SetResult("selected")
		},
	}}
	e := NewEngine(inv, deliberation(2), nil)
	s, _ := newState(t)

	report, err := e.Run(context.Background(), "d", s)
	require.NoError(t, err)

	assert.Equal(t, []string{"P", "C"}, inv.calls)
	assert.Equal(t, StatusCompleted, report.Status)
	require.NotNil(t, s.SelectedSolution)
}

func TestDeliberation_ProposerErrorHaltsImmediately(t *testing.T) {
	inv := &scriptedInvoker{behaviors: map[string]func(*session.State){
		"P": fail("P", "cannot propose"),
		"C": ok("never"),
	}}
	e := NewEngine(inv, deliberation(3), nil)
	s, _ := newState(t)

	report, err := e.Run(context.Background(), "d", s)
	require.NoError(t, err)
	assert.Equal(t, []string{"P"}, inv.calls)
	assert.Equal(t, "P", report.HaltedAt)
}

func TestStatus(t *testing.T) {
	assert.False(t, StatusIdle.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
	assert.True(t, StatusHalted.IsTerminal())
	assert.Equal(t, "completed", StatusCompleted.String())
}
