// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mracul/code-assistant/services/codeassist/session"
)

// NotifySessionCreated is the first notification on every connection.
const NotifySessionCreated session.NotificationType = "session_created"

// SessionCreatedData is the payload of NotifySessionCreated.
type SessionCreatedData struct {
	SessionID string `json:"session_id"`
	Resumed   bool   `json:"resumed"`
}

// clientMessage is the JSON form of an inbound frame.
type clientMessage struct {
	Prompt string `json:"prompt"`
}

// decodeInput returns the raw input line carried by a frame.
func decodeInput(data []byte) string {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var msg clientMessage
		if err := json.Unmarshal(trimmed, &msg); err == nil {
			return msg.Prompt
		}
	}
	return string(data)
}

// sessionID returns the requested id when it is a valid UUID, else a new one.
func sessionID(requested string) (string, bool) {
	if requested != "" {
		if id, err := uuid.Parse(requested); err == nil {
			return id.String(), true
		}
	}
	return uuid.NewString(), false
}

// HandleWebSocket runs one client session.
//
// Description:
//
//	Upgrades the connection, creates a session (resuming the conversation
//	named by the "session" query parameter when it is a UUID) and reads
//	input frames. Each input runs in its own goroutine; input arriving
//	while a command runs is refused with a log notification. A single
//	writer goroutine drains the session's notification channel.
//
//	On disconnect the notifier is closed, so later pushes are dropped. A
//	command still running is allowed to finish; the session is closed and
//	its conversation persisted afterwards.
func (s *Server) HandleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(s.opts.ReadLimit)

	id, resumed := sessionID(c.Query("session"))
	logger := s.logger.With(slog.String("session_id", id))

	// Sessions outlive the request so a running command can finish.
	sessCtx, cancelSession := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	notifier := session.NewChannelNotifier(s.opts.NotificationBuffer, logger)

	sess, err := s.sessions.open(sessCtx, id, notifier)
	if err != nil {
		cancelSession()
		logger.Error("failed to open session", slog.String("error", err.Error()))
		_ = conn.WriteJSON(session.Notification{
			Type: session.NotifyError,
			Data: session.LogData{Message: "Error: Could not start a session."},
		})
		return
	}
	s.active.Add(1)
	s.sessionsGauge(sessCtx, 1)
	logger.Info("session opened", slog.Bool("resumed", resumed))

	notifier.Send(session.Notification{
		Type: NotifySessionCreated,
		Data: SessionCreatedData{SessionID: id, Resumed: resumed},
	})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(sessCtx, conn, notifier, logger)
	}()

	var running atomic.Bool
	var commands sync.WaitGroup
	s.readLoop(sessCtx, conn, sess.state, notifier, &running, &commands, logger)

	notifier.Close()
	<-writerDone

	go func() {
		defer s.active.Done()
		commands.Wait()
		sess.close(context.Background())
		cancelSession()
		s.sessionsGauge(context.Background(), -1)
		logger.Info("session closed")
	}()
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, state *session.State,
	notifier *session.ChannelNotifier, running *atomic.Bool, commands *sync.WaitGroup, logger *slog.Logger) {

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("websocket read failed", slog.String("error", err.Error()))
			} else {
				logger.Info("client disconnected")
			}
			return
		}

		if !running.CompareAndSwap(false, true) {
			s.countMessage(ctx, "busy")
			notifier.Log("Error: A command is already running. Please wait for it to finish.")
			continue
		}
		s.countMessage(ctx, "accepted")

		input := decodeInput(data)
		commands.Add(1)
		go func() {
			defer commands.Done()
			defer running.Store(false)
			s.handler.Handle(ctx, state, input)
		}()
	}
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, notifier *session.ChannelNotifier, logger *slog.Logger) {
	failed := false
	for msg := range notifier.C() {
		// Keep draining after a failure so the channel can be closed.
		if failed {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			logger.Warn("failed to write notification",
				slog.String("type", string(msg.Type)),
				slog.String("error", err.Error()))
			failed = true
			continue
		}
		if s.opts.Metrics != nil {
			s.opts.Metrics.NotificationsTotal.Add(ctx, 1,
				metric.WithAttributes(attribute.String("type", string(msg.Type))))
		}
	}
}

func (s *Server) countMessage(ctx context.Context, outcome string) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.MessagesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func (s *Server) sessionsGauge(ctx context.Context, delta int64) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.SessionsActive.Add(ctx, delta)
	}
}
