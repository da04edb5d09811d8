// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/mracul/code-assistant/services/codeassist/session"
)

var (
	errorText  = color.New(color.FgRed).SprintFunc()
	addedText  = color.New(color.FgGreen).SprintFunc()
	hunkText   = color.New(color.FgCyan).SprintFunc()
	headerText = color.New(color.FgCyan, color.Bold).SprintFunc()
	noteText   = color.New(color.FgYellow).SprintFunc()
	boldText   = color.New(color.Bold).SprintFunc()
)

// consoleNotifier renders notifications on a terminal.
//
// Thread Safety: Safe for concurrent use.
type consoleNotifier struct {
	mu  sync.Mutex
	out io.Writer
}

func newConsoleNotifier(out io.Writer) *consoleNotifier {
	return &consoleNotifier{out: out}
}

func (c *consoleNotifier) write(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, text)
}

func (c *consoleNotifier) Log(text string) {
	if strings.HasPrefix(text, "Error") {
		text = errorText(text)
	}
	c.write(text)
}

func (c *consoleNotifier) Diff(path, diff string) {
	var sb strings.Builder
	sb.WriteString(headerText("Proposed change to " + path))
	sb.WriteString("\n")
	sb.WriteString(colorizeDiff(diff))
	c.write(strings.TrimRight(sb.String(), "\n"))
}

func (c *consoleNotifier) FileContext(files map[string]string) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	slices.Sort(names)
	c.write(noteText(fmt.Sprintf("Files in context (%d): %s", len(names), strings.Join(names, ", "))))
}

func (c *consoleNotifier) ImpactAnalysis(target string, impacted []string) {
	if len(impacted) == 0 {
		c.write(headerText("Impact of "+target) + "\n  nothing depends on it")
		return
	}
	var sb strings.Builder
	sb.WriteString(headerText(fmt.Sprintf("Impact of %s (%d)", target, len(impacted))))
	for _, fn := range impacted {
		sb.WriteString("\n  ")
		sb.WriteString(fn)
	}
	c.write(sb.String())
}

func (c *consoleNotifier) FinalCommands(commitMessage string, commands []string) {
	var sb strings.Builder
	sb.WriteString(headerText("Commit message"))
	sb.WriteString("\n")
	sb.WriteString(commitMessage)
	sb.WriteString("\n")
	sb.WriteString(headerText("Commands"))
	for _, cmd := range commands {
		sb.WriteString("\n  ")
		sb.WriteString(addedText(cmd))
	}
	c.write(sb.String())
}

func (c *consoleNotifier) Result(summary string) {
	c.write(boldText(summary))
}

// colorizeDiff colors added, removed and hunk-header lines of a unified
// diff. File headers are left plain.
func colorizeDiff(diff string) string {
	lines := strings.SplitAfter(diff, "\n")
	var sb strings.Builder
	for _, line := range lines {
		body := strings.TrimSuffix(line, "\n")
		nl := line[len(body):]
		switch {
		case strings.HasPrefix(body, "+++"), strings.HasPrefix(body, "---"):
			sb.WriteString(body)
		case strings.HasPrefix(body, "@@"):
			sb.WriteString(hunkText(body))
		case strings.HasPrefix(body, "+"):
			sb.WriteString(addedText(body))
		case strings.HasPrefix(body, "-"):
			sb.WriteString(errorText(body))
		default:
			sb.WriteString(body)
		}
		sb.WriteString(nl)
	}
	return sb.String()
}

var _ session.Notifier = (*consoleNotifier)(nil)
