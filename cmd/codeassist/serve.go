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
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/mracul/code-assistant/services/codeassist/handlers"
	"github.com/mracul/code-assistant/services/codeassist/telemetry"
)

const shutdownTimeout = 30 * time.Second

var (
	serveAddr  string
	serveWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept assistant sessions over WebSocket",
	Long: `Starts the HTTP server. Each WebSocket connection on /ws gets its own
session with a private index and conversation. Reconnect with
/ws?session=<id> to resume a persisted conversation.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address, overriding the config file")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Re-index sessions when project files change")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if cmd.Flags().Changed("watch") {
		cfg.Index.Watch = serveWatch
	}
	log := logger.Slog()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	metrics, err := telemetry.NewMetrics(otel.Meter("codeassist"))
	if err != nil {
		log.Warn("transport metrics disabled", slog.String("error", err.Error()))
		metrics = nil
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := handlers.NewServer(a.handler, a.sessions, handlers.Options{
		NotificationBuffer: cfg.Server.NotificationBuffer,
		ReadLimit:          cfg.Server.ReadLimit,
		WriteTimeout:       10 * time.Second,
		AllowedOrigins:     cfg.Server.AllowedOrigins,
		Metrics:            metrics,
		Logger:             log,
	})
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting codeassist server",
			slog.String("address", cfg.Server.Addr),
			slog.String("project_root", a.root))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("Failed to start server", slog.String("error", err.Error()))
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down codeassist server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown incomplete", slog.String("error", err.Error()))
	}
	// Hijacked WebSocket connections are not tracked by Shutdown.
	if err := srv.Wait(shutdownCtx); err != nil {
		log.Warn("sessions still running at shutdown", slog.String("error", err.Error()))
	}
	return nil
}
