// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package command

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mracul/code-assistant/services/codeassist/conversation"
	"github.com/mracul/code-assistant/services/codeassist/retrieval"
	"github.com/mracul/code-assistant/services/codeassist/search"
	"github.com/mracul/code-assistant/services/codeassist/session"
	"github.com/mracul/code-assistant/services/codeassist/workflow"
)

var tracer = otel.Tracer("codeassist.command")

var commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "codeassist",
	Subsystem: "command",
	Name:      "dispatched_total",
	Help:      "Dispatched user inputs by command.",
}, []string{"command"})

// DefaultWorkflow runs for natural-language prompts.
const DefaultWorkflow = "feature"

// commitAgents produce the final commit commands, in order.
var commitAgents = []string{"ChangeSummarizer", "ConventionalCommit", "VersionControl"}

// Handler dispatches parsed input against a session.
//
// Description:
//
//	Input errors (bad paths, missing arguments, unknown commands) are
//	reported as log notifications and leave the session untouched. Every
//	other outcome reaches the client through the session's notifier.
//
// Thread Safety: A Handler may serve many sessions concurrently. Calls for
// one session must not overlap.
type Handler struct {
	engine          *workflow.Engine
	agents          workflow.Invoker
	retriever       retrieval.Retriever
	contextBuilder  *ContextBuilder
	defaultWorkflow string
	searchLimit     int
	logger          *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithRetriever enables semantic search and embedding of indexed files.
func WithRetriever(r retrieval.Retriever) Option {
	return func(h *Handler) { h.retriever = r }
}

// WithDefaultWorkflow sets the workflow natural-language prompts run.
func WithDefaultWorkflow(name string) Option {
	return func(h *Handler) {
		if name != "" {
			h.defaultWorkflow = name
		}
	}
}

// WithContextFiles sets how many relevant files a prompt loads.
func WithContextFiles(n int) Option {
	return func(h *Handler) { h.contextBuilder.MaxFiles = n }
}

// WithSearchLimit caps /search results.
func WithSearchLimit(n int) Option {
	return func(h *Handler) { h.searchLimit = n }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler creates a handler running workflows on engine and single
// agents through agents.
func NewHandler(engine *workflow.Engine, agents workflow.Invoker, opts ...Option) *Handler {
	h := &Handler{
		engine:          engine,
		agents:          agents,
		contextBuilder:  &ContextBuilder{},
		defaultWorkflow: DefaultWorkflow,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.contextBuilder.Retriever = h.retriever
	h.contextBuilder.Logger = h.logger
	return h
}

type commandFunc func(h *Handler, ctx context.Context, s *session.State, p Prompt)

var commands map[string]commandFunc

func init() {
	commands = map[string]commandFunc{
		"index":     (*Handler).handleIndex,
		"impact":    (*Handler).handleImpact,
		"search":    (*Handler).handleSearch,
		"refactor":  (*Handler).handleRefactor,
		"commit":    (*Handler).handleCommit,
		"run":       (*Handler).handleRun,
		"workflows": (*Handler).handleWorkflows,
		"help":      (*Handler).handleHelp,
	}
}

// Commands returns the supported slash commands, sorted.
func Commands() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handle parses raw and dispatches it against s.
func (h *Handler) Handle(ctx context.Context, s *session.State, raw string) {
	p := Parse(raw)

	ctx, span := tracer.Start(ctx, "command.Handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("command", p.Command),
		attribute.String("session_id", s.ID),
	)

	if !p.IsCommand() {
		commandsTotal.WithLabelValues(PromptCommand).Inc()
		h.handlePrompt(ctx, s, p)
		return
	}
	fn, ok := commands[p.Command]
	if !ok {
		commandsTotal.WithLabelValues("unknown").Inc()
		s.Notifier.Log(fmt.Sprintf("Error: Unknown command '/%s'. Type /help for the list of commands.", p.Command))
		return
	}
	commandsTotal.WithLabelValues(p.Command).Inc()
	fn(h, ctx, s, p)
}

func (h *Handler) validator(s *session.State) PathValidator {
	return PathValidator{Base: s.ProjectRoot}
}

func (h *Handler) reportInputError(s *session.State, err error) {
	s.Notifier.Log("Error: " + userMessage(err))
}

// handleIndex rebuilds the structural index, then embeds the indexed files
// when a retriever is configured.
func (h *Handler) handleIndex(ctx context.Context, s *session.State, p Prompt) {
	target := "."
	if len(p.Args) > 0 {
		target = p.Args[0]
	}
	abs, err := h.validator(s).Validate(target)
	if err != nil {
		h.reportInputError(s, err)
		return
	}

	s.Notifier.Log(fmt.Sprintf("Starting codebase indexing at: %s...", abs))
	parsed, err := s.Index.IndexDirectory(ctx, abs)
	if err != nil {
		s.Notifier.Log(fmt.Sprintf("Error: Indexing failed: %v", err))
		return
	}
	s.Notifier.Log(fmt.Sprintf("Indexing complete. Parsed %d source files and built function call graph.", parsed))

	if h.retriever == nil {
		return
	}
	ix := &retrieval.Indexer{Index: s.Index, Retriever: h.retriever, Logger: h.logger}
	chunks, err := ix.Run(ctx)
	if err != nil {
		h.logger.Warn("semantic indexing failed",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()))
		s.Notifier.Log("Warning: Semantic indexing failed; search falls back to structural queries.")
		return
	}
	s.Notifier.Log(fmt.Sprintf("Embedded %d code chunks for semantic search.", chunks))
}

func (h *Handler) handleImpact(ctx context.Context, s *session.State, p Prompt) {
	if len(p.Args) != 1 || !strings.Contains(p.Args[0], ":") {
		s.Notifier.Log("Usage: /impact <file_path>:<function_name>")
		return
	}
	file, function, _ := strings.Cut(p.Args[0], ":")
	abs, err := h.validator(s).Validate(file)
	if err != nil {
		h.reportInputError(s, err)
		return
	}

	s.Notifier.Log(fmt.Sprintf("Analyzing impact of changes to %s in %s...", function, file))
	impacted := s.Index.GetImpactedFunctions(ctx, abs, function)
	s.Notifier.ImpactAnalysis(file+":"+function, impacted)
}

func (h *Handler) handleSearch(ctx context.Context, s *session.State, p Prompt) {
	if p.Instruction == "" {
		s.Notifier.Log("Usage: /search <query>")
		return
	}
	searcher := &search.Searcher{Index: s.Index, Retriever: h.retriever, Limit: h.searchLimit, Logger: h.logger}
	results := searcher.Search(ctx, p.Instruction)

	s.Notifier.Log(fmt.Sprintf("Found %d results for '%s'.", len(results), p.Instruction))
	for _, r := range results {
		s.Notifier.Log(fmt.Sprintf("[%s] %s:%d %s", r.Type, displayPath(s.ProjectRoot, r.FilePath), r.Line, r.Preview))
	}
	s.SetResult(results)
}

// handleRefactor loads the file if needed and runs the Refactor agent.
func (h *Handler) handleRefactor(ctx context.Context, s *session.State, p Prompt) {
	if len(p.Args) < 3 {
		s.Notifier.Log("Usage: /refactor <file_path> <old_name> <new_name>")
		return
	}
	abs, err := h.validator(s).Validate(p.Args[0])
	if err != nil {
		h.reportInputError(s, err)
		return
	}
	if _, ok := s.FileContent(abs); !ok {
		content, err := os.ReadFile(abs)
		if err != nil {
			h.reportInputError(s, ErrNotReadable)
			return
		}
		s.LoadFile(abs, string(content))
	}

	s.Rename = &session.RenameRequest{FilePath: abs, OldName: p.Args[1], NewName: p.Args[2]}
	if !h.invoke(ctx, s, "Refactor") {
		return
	}
	if s.Diff != nil {
		s.Notifier.Diff(s.Diff.FilePath, s.Diff.Diff)
	}
}

// handleCommit summarizes the pending buffers and derives git commands.
func (h *Handler) handleCommit(ctx context.Context, s *session.State, _ Prompt) {
	if len(s.ModifiedBuffers) == 0 && s.Diff == nil {
		s.Notifier.Log("Error: No pending changes to commit.")
		return
	}
	targets := make([]string, 0, len(s.ModifiedBuffers)+1)
	for p := range s.ModifiedBuffers {
		targets = append(targets, displayPath(s.ProjectRoot, p))
	}
	if s.Diff != nil && !slices.Contains(targets, s.Diff.FilePath) {
		targets = append(targets, s.Diff.FilePath)
	}
	sort.Strings(targets)
	s.Notifier.Log(fmt.Sprintf("Finalizing changes for %s...", strings.Join(targets, ", ")))

	for _, name := range commitAgents {
		if !h.invoke(ctx, s, name) {
			return
		}
	}
	s.Notifier.FinalCommands(s.CommitMessage, s.GitCommands)
	s.MarkCommitted()
}

func (h *Handler) handleRun(ctx context.Context, s *session.State, p Prompt) {
	if len(p.Args) != 1 {
		s.Notifier.Log("Usage: /run <workflow>")
		return
	}
	// Unknown workflows are reported by the engine.
	_, _ = h.engine.Run(ctx, p.Args[0], s)
}

func (h *Handler) handleWorkflows(_ context.Context, s *session.State, _ Prompt) {
	defs := h.engine.Definitions()
	s.Notifier.Log(fmt.Sprintf("%d workflows available:", len(defs)))
	for _, name := range defs.Names() {
		s.Notifier.Log(fmt.Sprintf("  %s: %s", name, defs[name].Description))
	}
}

func (h *Handler) handleHelp(_ context.Context, s *session.State, _ Prompt) {
	s.Notifier.Log("Commands: /" + strings.Join(Commands(), ", /"))
	s.Notifier.Log("Any other input runs the '" + h.defaultWorkflow + "' workflow; tag files with @path.")
}

// handlePrompt records the request, loads tagged and relevant files and
// runs the default workflow.
func (h *Handler) handlePrompt(ctx context.Context, s *session.State, p Prompt) {
	if p.Instruction == "" {
		s.Notifier.Log("Error: Empty prompt.")
		return
	}

	s.ResetArtifacts()
	s.UserRequest = p.Instruction
	s.AddMessage(ctx, conversation.RoleUser, p.Instruction, true)

	v := h.validator(s)
	for _, f := range p.Files {
		abs, err := v.Validate(f)
		if err != nil {
			s.Notifier.Log(fmt.Sprintf("Error: %s: %s", f, userMessage(err)))
			continue
		}
		content, err := os.ReadFile(abs)
		if err != nil {
			s.Notifier.Log(fmt.Sprintf("Error loading file %s: %v", f, err))
			continue
		}
		s.LoadFile(abs, string(content))
		s.Notifier.FileContext(s.LoadedFiles)
	}

	h.contextBuilder.Run(ctx, s)

	report, err := h.engine.Run(ctx, h.defaultWorkflow, s)
	if err != nil {
		return
	}
	if report.Status == workflow.StatusCompleted {
		s.AddMessage(ctx, conversation.RoleAssistant, s.LastOutput.String(), false)
	}
}

// invoke runs one agent and reports a lookup failure or error marker.
// It reports whether the agent succeeded.
func (h *Handler) invoke(ctx context.Context, s *session.State, name string) bool {
	out, err := h.agents.Invoke(ctx, name, s)
	if err != nil {
		s.Notifier.Log(fmt.Sprintf("Error executing agent '%s': %v", name, err))
		return false
	}
	if out.LastOutput.IsError() {
		s.Notifier.Log("Error: " + out.LastOutput.Err)
		return false
	}
	return true
}

// displayPath renders path relative to root when it lies under it.
func displayPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return filepath.ToSlash(rel)
}
