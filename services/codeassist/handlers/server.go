// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers exposes code assistant sessions over a websocket.
//
// Each connection gets its own session. Client frames carry one raw input
// line (or a JSON object with a "prompt" field); the server pushes typed
// notifications as JSON objects {"type": ..., "data": ...}.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/mracul/code-assistant/services/codeassist/command"
	"github.com/mracul/code-assistant/services/codeassist/session"
	"github.com/mracul/code-assistant/services/codeassist/telemetry"
)

const (
	// DefaultReadLimit caps one inbound frame.
	DefaultReadLimit = 1 << 20

	// DefaultWriteTimeout bounds one outbound frame.
	DefaultWriteTimeout = 10 * time.Second
)

// Options configures a Server.
type Options struct {
	// NotificationBuffer is the per-session queue length. Zero uses
	// session.DefaultBuffer.
	NotificationBuffer int

	ReadLimit    int64
	WriteTimeout time.Duration

	// AllowedOrigins lists accepted Origin headers. Empty accepts only
	// requests whose Origin matches the Host.
	AllowedOrigins []string

	// Metrics records transport metrics. Optional.
	Metrics *telemetry.Metrics

	Logger *slog.Logger
}

// Server owns the websocket endpoint and the sessions behind it.
//
// Thread Safety: Safe for concurrent use. Each connection runs at most one
// command at a time.
type Server struct {
	handler  *command.Handler
	sessions *SessionFactory
	opts     Options
	upgrader websocket.Upgrader
	logger   *slog.Logger

	// active tracks sessions until their state is closed.
	active sync.WaitGroup
}

// NewServer creates a server dispatching client input to handler.
func NewServer(handler *command.Handler, sessions *SessionFactory, opts Options) *Server {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = DefaultReadLimit
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.NotificationBuffer <= 0 {
		opts.NotificationBuffer = session.DefaultBuffer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		handler:  handler,
		sessions: sessions,
		opts:     opts,
		logger:   opts.Logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
	}
	if len(opts.AllowedOrigins) > 0 {
		s.upgrader.CheckOrigin = func(r *http.Request) bool {
			return slices.Contains(opts.AllowedOrigins, r.Header.Get("Origin"))
		}
	}
	return s
}

// RegisterRoutes adds the server endpoints to rg.
//
// Endpoints:
//
//	GET /api/v1/ping - Liveness check
//	GET /ws          - Session websocket
//	GET /metrics     - Prometheus metrics
func (s *Server) RegisterRoutes(rg gin.IRouter) {
	rg.GET("/api/v1/ping", s.HandlePing)
	rg.GET("/ws", s.HandleWebSocket)
	rg.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))
}

// NewRouter returns a gin engine with recovery, tracing, optional request
// metrics and the server routes.
func (s *Server) NewRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("codeassist"))
	if s.opts.Metrics != nil {
		router.Use(telemetry.GinMiddleware(s.opts.Metrics))
	}
	s.RegisterRoutes(router)
	return router
}

// HandlePing reports liveness.
func (s *Server) HandlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Wait blocks until every session has been closed and persisted.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
