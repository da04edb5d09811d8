// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package command turns raw user input into index operations, agent
// invocations and workflow runs against a session.
package command

import (
	"regexp"
	"strings"
)

// PromptCommand is the Command of natural-language input.
const PromptCommand = "prompt"

var fileTag = regexp.MustCompile(`@([\w./\\-]+)`)

// Prompt is parsed user input.
type Prompt struct {
	// Command is the lowercase command name without its slash, or
	// PromptCommand for natural language.
	Command string

	Args []string

	// Files are the @path tags, in order of appearance.
	Files []string

	// Instruction is the arguments joined by spaces for commands, and the
	// text with file tags removed for natural language.
	Instruction string
}

// IsCommand reports whether p came from slash-prefixed input.
func (p Prompt) IsCommand() bool {
	return p.Command != PromptCommand
}

// Parse splits raw input into a Prompt.
func Parse(raw string) Prompt {
	raw = strings.TrimSpace(raw)
	p := Prompt{Files: extractFiles(raw)}

	if strings.HasPrefix(raw, "/") {
		parts := strings.Fields(raw)
		p.Command = strings.ToLower(strings.TrimPrefix(parts[0], "/"))
		p.Args = parts[1:]
		p.Instruction = strings.Join(p.Args, " ")
		return p
	}

	p.Command = PromptCommand
	p.Instruction = strings.TrimSpace(fileTag.ReplaceAllString(raw, ""))
	return p
}

func extractFiles(text string) []string {
	matches := fileTag.FindAllStringSubmatch(text, -1)
	files := make([]string, 0, len(matches))
	for _, m := range matches {
		files = append(files, m[1])
	}
	return files
}
