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
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/mracul/code-assistant/services/codeassist/session"
	"github.com/mracul/code-assistant/services/llm"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var prompts = template.Must(template.New("prompts").
	Funcs(template.FuncMap{"json": toJSON}).
	ParseFS(promptFS, "prompts/*.tmpl"))

// ErrModelReply indicates a reply that could not be used.
var ErrModelReply = errors.New("unusable model reply")

// promptData is the data every prompt template renders from.
type promptData struct {
	Request    string
	Context    session.PromptContext
	Strategies []session.Strategy
	Solution   *session.Strategy
	Files      map[string]string
	Diff       string
	Summary    *session.ChangeSummary
}

func toJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func render(name string, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name+".tmpl", data); err != nil {
		return "", fmt.Errorf("rendering prompt %s: %w", name, err)
	}
	return buf.String(), nil
}

var jsonTemperature float32 = 0.2

// generateJSON renders the named prompt, asks client for a JSON reply and
// decodes it into out.
func generateJSON(ctx context.Context, client llm.LLMClient, name string, data promptData, out any) error {
	prompt, err := render(name, data)
	if err != nil {
		return err
	}
	temp := jsonTemperature
	raw, err := client.Generate(ctx, prompt, llm.GenerationParams{Temperature: &temp, JSON: true})
	if err != nil {
		return err
	}
	return decodeReply(raw, out)
}

// decodeReply extracts the JSON object from raw, tolerating code fences and
// surrounding prose. A reply of the form {"error": "..."} is an error.
func decodeReply(raw string, out any) error {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return fmt.Errorf("%w: no JSON object in reply", ErrModelReply)
	}
	body := []byte(raw[start : end+1])

	var refusal struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &refusal) == nil && refusal.Error != "" {
		return fmt.Errorf("%w: %s", ErrModelReply, refusal.Error)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrModelReply, err)
	}
	return nil
}

// isCancellation reports whether err came from the caller's context.
func isCancellation(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

// errNoLLM is the factory error of units that need text generation.
var errNoLLM = errors.New("no text-generation backend configured")
