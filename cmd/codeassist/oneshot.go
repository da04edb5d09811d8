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
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mracul/code-assistant/services/codeassist/index"
	"github.com/mracul/code-assistant/services/codeassist/session"
)

var (
	indexWatch   bool
	askWorkflow  string
	askSessionID string
)

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index a directory and report parse and call graph statistics",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := "."
		if len(args) == 1 {
			target = args[0]
		}
		if strings.ContainsAny(target, " \t") {
			return fmt.Errorf("paths containing whitespace are not supported: %q", target)
		}
		return runOneShot(cmd, "", func(ctx context.Context, a *app, s *session.State) error {
			a.handler.Handle(ctx, s, "/index "+target)
			if !s.Index.IsIndexed() {
				return nil
			}
			stats := s.Index.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "%s files, %d parsed, %d functions, %d calls\n",
				boldText(stats.Files), stats.Parsed, stats.Nodes, stats.Edges)
			if indexWatch {
				return watchIndex(ctx, a, s, a.resolve(target), cmd.OutOrStdout())
			}
			return nil
		})
	},
}

var impactCmd = &cobra.Command{
	Use:   "impact <file>:<function>",
	Short: "List every function that transitively calls the given one",
	Example: `  codeassist impact src/app.py:load
  codeassist -p ~/work/api impact internal/db/db.go:Open`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIndexed(cmd, "/impact "+args[0])
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the project structurally and, when enabled, semantically",
	Long: `Structural queries take the form kind:name, for example function:main or
class:Parser. Any other text is a semantic query over embedded chunks.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIndexed(cmd, "/search "+strings.Join(args, " "))
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <request>",
	Short: "Run a workflow on a natural-language request",
	Long: `Indexes the project, loads files tagged with @path plus the most
relevant indexed files, and runs the default workflow (or --workflow).
Proposed changes are printed as diffs; nothing is written to disk.`,
	Example: `  codeassist ask "add a retry to @client.py fetch"
  codeassist ask --workflow quickfix "fix the off-by-one in @pager.go"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if askWorkflow != "" {
			cfg.Workflows.Default = askWorkflow
		}
		return runOneShot(cmd, askSessionID, func(ctx context.Context, a *app, s *session.State) error {
			quiet := &session.Recorder{}
			notifier := s.Notifier
			s.Notifier = quiet
			a.handler.Handle(ctx, s, "/index .")
			s.Notifier = notifier
			reportIndexErrors(s, quiet)

			a.handler.Handle(ctx, s, strings.Join(args, " "))
			if a.store != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Resume this conversation with --session %s\n", s.ID)
			}
			return nil
		})
	},
}

var workflowsCmd = &cobra.Command{
	Use:   "workflows",
	Short: "List the configured workflows",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runOneShot(cmd, "", func(ctx context.Context, a *app, s *session.State) error {
			a.handler.Handle(ctx, s, "/workflows")
			return nil
		})
	},
}

func init() {
	indexCmd.Flags().BoolVarP(&indexWatch, "watch", "w", false, "Keep running and re-index when files change")
	askCmd.Flags().StringVar(&askWorkflow, "workflow", "", "Workflow to run instead of the configured default")
	askCmd.Flags().StringVar(&askSessionID, "session", "", "Resume the conversation persisted under this id")
}

// runOneShot builds the app and a terminal session, runs fn, then persists
// the conversation.
func runOneShot(cmd *cobra.Command, sessionID string, fn func(context.Context, *app, *session.State) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger.Slog())
	if err != nil {
		return err
	}
	defer a.Close()

	s := a.newState(sessionID, newConsoleNotifier(cmd.OutOrStdout()))
	defer s.Close(context.WithoutCancel(ctx))
	return fn(ctx, a, s)
}

// runIndexed indexes the project root quietly, then runs raw.
func runIndexed(cmd *cobra.Command, raw string) error {
	return runOneShot(cmd, "", func(ctx context.Context, a *app, s *session.State) error {
		quiet := &session.Recorder{}
		notifier := s.Notifier
		s.Notifier = quiet
		a.handler.Handle(ctx, s, "/index .")
		s.Notifier = notifier
		if !reportIndexErrors(s, quiet) {
			return fmt.Errorf("indexing %s failed", a.root)
		}
		a.handler.Handle(ctx, s, raw)
		return nil
	})
}

// reportIndexErrors forwards error lines recorded while indexing and
// reports whether the index was built.
func reportIndexErrors(s *session.State, rec *session.Recorder) bool {
	for _, line := range rec.Logs() {
		if strings.HasPrefix(line, "Error") {
			s.Notifier.Log(line)
		}
	}
	return s.Index.IsIndexed()
}

// watchIndex re-indexes s on file changes until ctx is cancelled.
func watchIndex(ctx context.Context, a *app, s *session.State, root string, out io.Writer) error {
	opts := a.watcherOptions()
	opts.OnReindex = func(parsed int, err error) {
		if err != nil {
			s.Notifier.Log(fmt.Sprintf("Error: Re-indexing failed: %v", err))
			return
		}
		stats := s.Index.Stats()
		s.Notifier.Log(fmt.Sprintf("Re-indexed %d source files (%d functions, %d calls).",
			parsed, stats.Nodes, stats.Edges))
	}
	w, err := index.NewWatcher(root, s.Index, opts)
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	if err := w.Start(ctx); err != nil {
		w.Stop()
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer w.Stop()

	fmt.Fprintln(out, noteText("Watching "+root+" for changes. Press Ctrl+C to stop."))
	<-ctx.Done()
	a.logger.Debug("watcher stopped", slog.String("root", root))
	return nil
}
