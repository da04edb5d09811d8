// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workflow runs named step sequences, including proposer and
// challenger deliberations, against a session.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mracul/code-assistant/services/codeassist/session"
)

var tracer = otel.Tracer("codeassist.workflow")

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codeassist",
		Subsystem: "workflow",
		Name:      "runs_total",
		Help:      "Workflow runs by workflow and final status.",
	}, []string{"workflow", "status"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "codeassist",
		Subsystem: "workflow",
		Name:      "run_duration_seconds",
		Help:      "Workflow run time in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"workflow"})
)

// Status is the engine state of one run.
type Status int

const (
	StatusIdle Status = iota
	StatusRunning
	StatusHalted
	StatusCompleted
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusHalted:
		return "halted"
	case StatusCompleted:
		return "completed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusHalted || s == StatusCompleted
}

// StepRecord is one agent invocation. Round is zero outside deliberations.
type StepRecord struct {
	Agent string `json:"agent"`
	Round int    `json:"round,omitempty"`
	Error string `json:"error,omitempty"`
}

// Report describes a finished run.
type Report struct {
	Workflow string       `json:"workflow"`
	Status   Status       `json:"status"`
	Steps    []StepRecord `json:"steps"`

	// HaltedAt names the failing agent, or the deliberation that found no
	// consensus. Empty unless Status is StatusHalted.
	HaltedAt string `json:"halted_at,omitempty"`
}

// Invoker runs a named agent against a state.
type Invoker interface {
	Invoke(ctx context.Context, name string, state *session.State) (*session.State, error)
}

// Engine executes workflow definitions.
//
// Thread Safety: An Engine may run workflows for many sessions
// concurrently. Each session must run at most one workflow at a time.
type Engine struct {
	invoker Invoker
	defs    Definitions
	logger  *slog.Logger
}

// NewEngine creates an engine over defs that resolves agents through
// invoker.
func NewEngine(invoker Invoker, defs Definitions, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{invoker: invoker, defs: defs, logger: logger}
}

// Definitions returns the engine's workflows.
func (e *Engine) Definitions() Definitions {
	return e.defs
}

// Run executes the named workflow against s.
//
// Description:
//
//	Steps run strictly in order. After each step the engine inspects
//	s.LastOutput; an error marker halts the run and no later step is
//	invoked. A registry failure is recorded as an error marker for that
//	step. On completion a ProposedChange result is pushed as a diff
//	notification and anything else as a textual result.
//
// Inputs:
//
//	ctx  - Passed to every agent.
//	name - Workflow name.
//	s    - Session state. Mutated in place.
//
// Outputs:
//
//	Report - Final status and every invocation made.
//	error  - ErrWorkflowNotFound only; halts are reported in Report.
func (e *Engine) Run(ctx context.Context, name string, s *session.State) (Report, error) {
	def, ok := e.defs[name]
	if !ok {
		s.Notifier.Log(fmt.Sprintf("Error: Workflow '%s' not found.", name))
		return Report{Workflow: name, Status: StatusIdle}, fmt.Errorf("%w: %s", ErrWorkflowNotFound, name)
	}

	ctx, span := tracer.Start(ctx, "workflow.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("workflow", name),
		attribute.String("session_id", s.ID),
	)
	start := time.Now()

	s.LastOutput = session.Output{}
	r := &run{engine: e, state: s, report: Report{Workflow: name, Status: StatusRunning}}
	s.Notifier.Log("Starting workflow: " + def.Description)

	for _, step := range def.Steps {
		if step.Deliberate != nil {
			r.deliberate(ctx, *step.Deliberate)
		} else {
			r.invoke(ctx, step.Agent, 0)
		}
		if r.state.LastOutput.IsError() {
			r.halt()
			break
		}
	}
	if r.report.Status == StatusRunning {
		r.report.Status = StatusCompleted
		r.state.Notifier.Log("Workflow finished successfully.")
		r.surface()
	}

	runsTotal.WithLabelValues(name, r.report.Status.String()).Inc()
	runDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.String("workflow.status", r.report.Status.String()),
		attribute.Int("workflow.steps", len(r.report.Steps)),
	)
	e.logger.Info("workflow finished",
		slog.String("workflow", name),
		slog.String("session_id", s.ID),
		slog.String("status", r.report.Status.String()),
		slog.Int("steps", len(r.report.Steps)),
		slog.Duration("duration", time.Since(start)))
	return r.report, nil
}

// run is the mutable context of one Run call.
type run struct {
	engine *Engine
	state  *session.State
	report Report
}

// invoke runs one agent and records it.
func (r *run) invoke(ctx context.Context, agentName string, round int) {
	r.state.Notifier.Log(fmt.Sprintf("--- Running Agent: %s ---", agentName))

	out, err := r.engine.invoker.Invoke(ctx, agentName, r.state)
	if out != nil {
		r.state = out
	}
	if err != nil {
		msg := fmt.Sprintf("Error executing agent '%s': %v", agentName, err)
		r.state.Notifier.Log(msg)
		r.state.SetError(agentName, err.Error())
	}

	rec := StepRecord{Agent: agentName, Round: round}
	if r.state.LastOutput.IsError() {
		rec.Error = r.state.LastOutput.Err
	}
	r.report.Steps = append(r.report.Steps, rec)
}

// deliberate alternates proposer and challenger until the challenger
// selects a solution or d.MaxTurns rounds pass.
func (r *run) deliberate(ctx context.Context, d Deliberation) {
	r.state.SelectedSolution = nil
	for round := 1; round <= d.MaxTurns; round++ {
		r.state.Notifier.Log(fmt.Sprintf("Deliberation round %d of %d.", round, d.MaxTurns))

		r.invoke(ctx, d.Proposer, round)
		if r.state.LastOutput.IsError() {
			return
		}
		r.invoke(ctx, d.Challenger, round)
		if r.state.LastOutput.IsError() {
			return
		}
		if r.state.SelectedSolution != nil {
			r.state.Notifier.Log(fmt.Sprintf("Consensus reached after %d round(s).", round))
			return
		}
	}
	label := Step{Deliberate: &d}.Label()
	r.state.SetError(label, fmt.Sprintf("no consensus after %d rounds", d.MaxTurns))
}

func (r *run) halt() {
	out := r.state.LastOutput
	r.report.Status = StatusHalted
	r.report.HaltedAt = out.Step
	r.state.Notifier.Log(fmt.Sprintf("Workflow halted due to an error in agent '%s': %s", out.Step, out.Err))
}

// surface pushes the final output to the client.
func (r *run) surface() {
	n := r.state.Notifier
	switch v := r.state.LastOutput.Value.(type) {
	case session.ProposedChange:
		n.Diff(v.FilePath, v.Diff)
	case *session.ProposedChange:
		if v == nil {
			n.Result(fmt.Sprintf("Workflow '%s' completed.", r.report.Workflow))
			return
		}
		n.Diff(v.FilePath, v.Diff)
	case session.Summary:
		n.Result(v.Summary)
	case string:
		n.Result(v)
	case nil:
		n.Result(fmt.Sprintf("Workflow '%s' completed.", r.report.Workflow))
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			n.Result(fmt.Sprintf("%v", v))
			return
		}
		n.Result(string(data))
	}
}
