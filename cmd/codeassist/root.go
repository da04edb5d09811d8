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
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/mracul/code-assistant/pkg/logging"
	"github.com/mracul/code-assistant/services/codeassist/config"
	"github.com/mracul/code-assistant/services/codeassist/telemetry"
)

var (
	configPath  string
	projectRoot string
	logLevel    string

	// Populated by PersistentPreRunE.
	cfg               *config.Config
	logger            *logging.Logger
	telemetryShutdown func(context.Context) error
)

var rootCmd = &cobra.Command{
	Use:   "codeassist",
	Short: "A multi-agent code assistant for Python and Go projects",
	Long: `codeassist indexes a project, answers structural and semantic
queries about it, and runs configurable agent workflows that propose
changes as unified diffs.

Run "codeassist serve" to accept sessions over WebSocket, or use the
one-shot subcommands from a terminal.`,
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file (defaults are embedded)")
	rootCmd.PersistentFlags().StringVarP(&projectRoot, "project", "p", "", "Project root, overriding the config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(impactCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(workflowsCmd)
}

// setup loads configuration and starts logging and telemetry.
func setup(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if projectRoot != "" {
		cfg.ProjectRoot = projectRoot
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: cfg.Telemetry.ServiceName,
		JSON:    cfg.Logging.JSON,
	})
	logger.SetDefault()

	telemetryShutdown, err = telemetry.Init(cmd.Context(), cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	return nil
}

func teardown(_ *cobra.Command, _ []string) error {
	if telemetryShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetryShutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}
	if logger != nil {
		return logger.Close()
	}
	return nil
}
