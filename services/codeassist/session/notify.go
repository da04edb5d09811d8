// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"log/slog"
	"maps"
	"sync"
)

// NotificationType names an outbound message.
type NotificationType string

const (
	NotifyLog            NotificationType = "log"
	NotifyDiff           NotificationType = "diff"
	NotifyFileContext    NotificationType = "file_context"
	NotifyImpactAnalysis NotificationType = "impact_analysis"
	NotifyFinalCommands  NotificationType = "final_commands"
	NotifyResult         NotificationType = "result"
	NotifyError          NotificationType = "error"
)

// Notification is one push message to the client.
type Notification struct {
	Type NotificationType `json:"type"`
	Data any              `json:"data"`
}

// LogData is the payload of a log notification.
type LogData struct {
	Message string `json:"message"`
}

// ImpactData is the payload of an impact_analysis notification.
type ImpactData struct {
	Target            string   `json:"target"`
	ImpactedFunctions []string `json:"impacted_functions"`
}

// FinalCommandsData is the payload of a final_commands notification.
type FinalCommandsData struct {
	CommitMessage string   `json:"commit_message"`
	Commands      []string `json:"commands"`
}

// Notifier pushes typed messages to the client. Delivery is best effort:
// implementations never block the caller on a slow or gone client and
// never report failure.
type Notifier interface {
	Log(text string)
	Diff(path, diff string)
	FileContext(files map[string]string)
	ImpactAnalysis(target string, impacted []string)
	FinalCommands(commitMessage string, commands []string)
	Result(summary string)
}

// DefaultBuffer is the ChannelNotifier queue length.
const DefaultBuffer = 256

// ChannelNotifier queues notifications on a channel drained by the
// transport. A full queue drops the message; after Close every send is a
// no-op.
//
// Thread Safety: Safe for concurrent use.
type ChannelNotifier struct {
	ch     chan Notification
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewChannelNotifier creates a notifier with the given buffer size.
func NewChannelNotifier(buffer int, logger *slog.Logger) *ChannelNotifier {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChannelNotifier{ch: make(chan Notification, buffer), logger: logger}
}

// C returns the receive side. It is closed by Close.
func (n *ChannelNotifier) C() <-chan Notification {
	return n.ch
}

// Send queues an arbitrary notification.
func (n *ChannelNotifier) Send(msg Notification) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	select {
	case n.ch <- msg:
	default:
		n.logger.Warn("notification dropped, client not keeping up",
			slog.String("type", string(msg.Type)))
	}
}

// Close stops delivery and closes the channel. Safe to call more than once.
func (n *ChannelNotifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	close(n.ch)
}

func (n *ChannelNotifier) Log(text string) {
	n.Send(Notification{Type: NotifyLog, Data: LogData{Message: text}})
}

func (n *ChannelNotifier) Diff(path, diff string) {
	n.Send(Notification{Type: NotifyDiff, Data: ProposedChange{FilePath: path, Diff: diff}})
}

// FileContext sends a snapshot copy of files.
func (n *ChannelNotifier) FileContext(files map[string]string) {
	n.Send(Notification{Type: NotifyFileContext, Data: maps.Clone(files)})
}

func (n *ChannelNotifier) ImpactAnalysis(target string, impacted []string) {
	n.Send(Notification{Type: NotifyImpactAnalysis, Data: ImpactData{Target: target, ImpactedFunctions: impacted}})
}

func (n *ChannelNotifier) FinalCommands(commitMessage string, commands []string) {
	n.Send(Notification{Type: NotifyFinalCommands, Data: FinalCommandsData{CommitMessage: commitMessage, Commands: commands}})
}

func (n *ChannelNotifier) Result(summary string) {
	n.Send(Notification{Type: NotifyResult, Data: Summary{Summary: summary}})
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Log(string) {}
func (Discard) Diff(string, string) {}
func (Discard) FileContext(map[string]string) {}
func (Discard) ImpactAnalysis(string, []string) {}
func (Discard) FinalCommands(string, []string) {}
func (Discard) Result(string) {}

// Recorder keeps every notification in memory.
//
// Thread Safety: Safe for concurrent use.
type Recorder struct {
	mu   sync.Mutex
	msgs []Notification
}

func (r *Recorder) add(msg Notification) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *Recorder) Log(text string) {
	r.add(Notification{Type: NotifyLog, Data: LogData{Message: text}})
}

func (r *Recorder) Diff(path, diff string) {
	r.add(Notification{Type: NotifyDiff, Data: ProposedChange{FilePath: path, Diff: diff}})
}

func (r *Recorder) FileContext(files map[string]string) {
	r.add(Notification{Type: NotifyFileContext, Data: maps.Clone(files)})
}

func (r *Recorder) ImpactAnalysis(target string, impacted []string) {
	r.add(Notification{Type: NotifyImpactAnalysis, Data: ImpactData{Target: target, ImpactedFunctions: impacted}})
}

func (r *Recorder) FinalCommands(commitMessage string, commands []string) {
	r.add(Notification{Type: NotifyFinalCommands, Data: FinalCommandsData{CommitMessage: commitMessage, Commands: commands}})
}

func (r *Recorder) Result(summary string) {
	r.add(Notification{Type: NotifyResult, Data: Summary{Summary: summary}})
}

// All returns a copy of the recorded notifications.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.msgs...)
}

// OfType returns the recorded notifications of type t.
func (r *Recorder) OfType(t NotificationType) []Notification {
	var out []Notification
	for _, m := range r.All() {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// Logs returns the recorded log lines in order.
func (r *Recorder) Logs() []string {
	var out []string
	for _, m := range r.OfType(NotifyLog) {
		out = append(out, m.Data.(LogData).Message)
	}
	return out
}

var (
	_ Notifier = (*ChannelNotifier)(nil)
	_ Notifier = Discard{}
	_ Notifier = (*Recorder)(nil)
)
