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
	"fmt"
	"log/slog"

	"github.com/mracul/code-assistant/services/codeassist/conversation"
	"github.com/mracul/code-assistant/services/codeassist/session"
	"github.com/mracul/code-assistant/services/llm"
)

// creativeArchitect proposes strategies for the user's request.
type creativeArchitect struct {
	llm    llm.LLMClient
	logger *slog.Logger
}

func newCreativeArchitect(deps Deps) (Unit, error) {
	if deps.LLM == nil {
		return nil, errNoLLM
	}
	return &creativeArchitect{llm: deps.LLM, logger: deps.logger()}, nil
}

func (a *creativeArchitect) Run(ctx context.Context, s *session.State) (*session.State, error) {
	const step = "CreativeArchitect"
	if s.UserRequest == "" {
		s.SetError(step, "User request not found in state.")
		return s, nil
	}

	var reply struct {
		Strategies []session.Strategy `json:"strategies"`
	}
	err := generateJSON(ctx, a.llm, "creative_architect", promptData{
		Request: s.UserRequest,
		Context: s.PromptContext(),
	}, &reply)
	if err != nil {
		if isCancellation(ctx, err) {
			return s, err
		}
		s.SetError(step, fmt.Sprintf("Failed to propose strategies: %v", err))
		return s, nil
	}
	if len(reply.Strategies) == 0 {
		s.SetError(step, "No strategies were proposed.")
		return s, nil
	}
	for i := range reply.Strategies {
		if reply.Strategies[i].ID == "" {
			reply.Strategies[i].ID = fmt.Sprintf("s%d", i+1)
		}
	}

	s.Strategies = reply.Strategies
	s.SetResult(reply.Strategies)
	s.AddMessage(ctx, conversation.RoleSystem,
		fmt.Sprintf("Proposed %d solution strategies.", len(reply.Strategies)), false)
	a.logger.Debug("strategies proposed",
		slog.String("session_id", s.ID),
		slog.Int("count", len(reply.Strategies)))
	return s, nil
}

// Analysis is the TechnicalAnalyst result.
type Analysis struct {
	SelectedStrategyID string `json:"selected_strategy_id"`
	Justification      string `json:"justification"`
}

// technicalAnalyst selects one of the proposed strategies, or none.
type technicalAnalyst struct {
	llm    llm.LLMClient
	logger *slog.Logger
}

func newTechnicalAnalyst(deps Deps) (Unit, error) {
	if deps.LLM == nil {
		return nil, errNoLLM
	}
	return &technicalAnalyst{llm: deps.LLM, logger: deps.logger()}, nil
}

// Run leaves SelectedSolution nil when the reply selects nothing, which a
// deliberation reads as "no consensus this round".
func (a *technicalAnalyst) Run(ctx context.Context, s *session.State) (*session.State, error) {
	const step = "TechnicalAnalyst"
	if len(s.Strategies) == 0 {
		s.SetError(step, "No proposed strategies found to analyze.")
		return s, nil
	}

	var reply Analysis
	err := generateJSON(ctx, a.llm, "technical_analyst", promptData{
		Request:    s.UserRequest,
		Context:    s.PromptContext(),
		Strategies: s.Strategies,
	}, &reply)
	if err != nil {
		if isCancellation(ctx, err) {
			return s, err
		}
		s.SetError(step, fmt.Sprintf("Failed to analyze strategies: %v", err))
		return s, nil
	}

	s.SelectedSolution = nil
	if reply.SelectedStrategyID != "" {
		chosen, ok := findStrategy(s.Strategies, reply.SelectedStrategyID)
		if !ok {
			s.SetError(step, fmt.Sprintf("Selected strategy '%s' was not proposed.", reply.SelectedStrategyID))
			return s, nil
		}
		s.SelectedSolution = &chosen
		s.AddMessage(ctx, conversation.RoleSystem,
			fmt.Sprintf("Selected solution: '%s'", chosen.Name), false)
	}
	s.SetResult(reply)
	return s, nil
}

func findStrategy(strategies []session.Strategy, id string) (session.Strategy, bool) {
	for _, st := range strategies {
		if st.ID == id {
			return st, true
		}
	}
	return session.Strategy{}, false
}
