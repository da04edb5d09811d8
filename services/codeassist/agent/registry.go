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
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mracul/code-assistant/services/codeassist/session"
)

var tracer = otel.Tracer("codeassist.agent")

var (
	invocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codeassist",
		Subsystem: "agent",
		Name:      "invocations_total",
		Help:      "Agent invocations by agent and outcome.",
	}, []string{"agent", "outcome"})

	invocationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "codeassist",
		Subsystem: "agent",
		Name:      "invocation_duration_seconds",
		Help:      "Agent run time in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"agent"})
)

// Registry resolves agent names to units.
//
// Description:
//
//	Definitions map a name to a table key; the table maps a key to a
//	factory. The first successful Resolve of a name builds the unit and
//	caches it, so every later lookup returns the same instance.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	defs  map[string]Definition
	table Table
	deps  Deps

	mu    sync.RWMutex
	cache map[string]Unit
}

// NewRegistry creates a registry over defs. Later definitions with the
// same name replace earlier ones. Units are built lazily.
func NewRegistry(defs []Definition, table Table, deps Deps) *Registry {
	r := &Registry{
		defs:  make(map[string]Definition, len(defs)),
		table: make(Table, len(table)),
		deps:  deps,
		cache: make(map[string]Unit),
	}
	for _, d := range defs {
		if d.Unit == "" {
			d.Unit = d.Name
		}
		r.defs[d.Name] = d
	}
	for k, f := range table {
		r.table[k] = f
	}
	return r
}

// Resolve returns the unit for name.
//
// Outputs:
//
//	Unit  - The cached or newly built unit.
//	error - *NotFoundError when name has no definition or its unit key has
//	        no factory; *NotInvocableError when the factory fails or
//	        returns nil.
func (r *Registry) Resolve(name string) (Unit, error) {
	r.mu.RLock()
	u, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return u, nil
	}

	def, ok := r.defs[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	factory, ok := r.table[def.Unit]
	if !ok || factory == nil {
		return nil, &NotFoundError{Name: name}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.cache[name]; ok {
		return u, nil
	}
	u, err := factory(r.deps)
	if err != nil {
		return nil, &NotInvocableError{Name: name, Cause: err}
	}
	if u == nil {
		return nil, &NotInvocableError{Name: name}
	}
	r.cache[name] = u
	return u, nil
}

// Invoke resolves name and runs it on state.
//
// Description:
//
//	Lookup failures are returned as errors and leave state untouched; the
//	caller decides how to surface them. A unit that returns a nil state is
//	treated as having returned the state it was given.
func (r *Registry) Invoke(ctx context.Context, name string, state *session.State) (*session.State, error) {
	unit, err := r.Resolve(name)
	if err != nil {
		invocationsTotal.WithLabelValues(name, "unresolved").Inc()
		return state, err
	}

	ctx, span := tracer.Start(ctx, "agent.Invoke")
	defer span.End()
	span.SetAttributes(
		attribute.String("agent", name),
		attribute.String("session_id", state.ID),
	)

	start := time.Now()
	out, err := unit.Run(ctx, state)
	invocationDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if out == nil {
		out = state
	}

	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		invocationsTotal.WithLabelValues(name, "error").Inc()
		r.deps.logger().Warn("agent run failed",
			slog.String("agent", name),
			slog.String("error", err.Error()))
	case out.LastOutput.IsError():
		span.SetAttributes(attribute.String("error_marker", out.LastOutput.Err))
		invocationsTotal.WithLabelValues(name, "error_marker").Inc()
	default:
		invocationsTotal.WithLabelValues(name, "ok").Inc()
	}
	return out, err
}

// Definition returns the definition registered under name.
func (r *Registry) Definition(name string) (Definition, bool) {
	d, ok := r.defs[name]
	return d, ok
}

// Names returns every defined agent name, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
