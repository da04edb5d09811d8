// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides text-generation and embedding backends.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyResponse is returned when a backend answers with no content.
	ErrEmptyResponse = errors.New("llm returned no content")

	// ErrNotConfigured is returned when a backend lacks required settings.
	ErrNotConfigured = errors.New("llm backend not configured")

	// ErrUnknownBackend is returned by New for an unrecognized backend name.
	ErrUnknownBackend = errors.New("unknown llm backend")
)

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`

	// JSON asks the backend to return a single JSON object.
	JSON bool `json:"json"`
}

// LLMClient defines the standard interface for any LLM backend
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// Embedder turns text into a similarity vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Backend is a client that can both generate and embed.
type Backend interface {
	LLMClient
	Embedder
}

// Config selects and configures a backend.
type Config struct {
	// Backend is "openai" or "ollama".
	Backend string `yaml:"backend" validate:"oneof=openai ollama"`

	Model          string  `yaml:"model"`
	EmbeddingModel string  `yaml:"embedding_model"`
	BaseURL        string  `yaml:"base_url"`
	APIKey         string  `yaml:"-"`
	RequestsPerSec float64 `yaml:"requests_per_second" validate:"gte=0"`
	Burst          int     `yaml:"burst" validate:"gte=0"`
	SystemPrompt   string  `yaml:"system_prompt"`
}

// New creates the backend named by cfg.Backend.
func New(cfg Config) (Backend, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "openai":
		return NewOpenAIClient(cfg)
	case "ollama":
		return NewOllamaClient(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
