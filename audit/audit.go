// Package audit records security and lifecycle events produced by the
// realtime gateway.
//
// Entries are write-once and fire-and-forget: a Sink must never block the
// caller for long and must never report failure back to it. Sinks that talk
// to the network (RedisSink) buffer internally and drop on overflow.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Kind identifies what happened.
type Kind string

const (
	KindUnauthorizedConnection Kind = "unauthorized-connection"
	KindConnectionSuccess      Kind = "connection-success"
	KindDisconnection          Kind = "disconnection"
	KindUnauthorizedRoomAccess Kind = "unauthorized-room-access"
	KindUnauthorizedUpdate     Kind = "unauthorized-update"
)

// Severity grades an entry for alerting.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Entry is a single audit record.
type Entry struct {
	Kind         Kind           `json:"kind"`
	ConnectionID string         `json:"connectionId"`
	UserID       string         `json:"userId,omitempty"`
	RemoteAddr   string         `json:"remoteAddr"`
	UserAgent    string         `json:"userAgent"`
	Timestamp    time.Time      `json:"timestamp"`
	Severity     Severity       `json:"severity"`
	Context      map[string]any `json:"context,omitempty"`
}

// Sink accepts audit entries.
type Sink interface {
	Record(e Entry)
}

// LogSink writes entries to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink that logs through logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "audit")}
}

// Record logs e at a level derived from its severity.
func (s *LogSink) Record(e Entry) {
	attrs := []any{
		"kind", string(e.Kind),
		"severity", string(e.Severity),
		"conn_id", e.ConnectionID,
		"remote_addr", e.RemoteAddr,
		"user_agent", e.UserAgent,
		"at", e.Timestamp,
	}
	if e.UserID != "" {
		attrs = append(attrs, "user_id", e.UserID)
	}
	if len(e.Context) > 0 {
		attrs = append(attrs, "context", e.Context)
	}
	s.logger.Log(context.Background(), levelFor(e.Severity), "audit", attrs...)
}

func levelFor(sev Severity) slog.Level {
	switch sev {
	case SeverityLow:
		return slog.LevelInfo
	case SeverityMedium:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// Multi fans an entry out to several sinks in order.
type Multi []Sink

// Record forwards e to every sink.
func (m Multi) Record(e Entry) {
	for _, s := range m {
		s.Record(e)
	}
}

// Discard drops every entry.
type Discard struct{}

func (Discard) Record(Entry) {}

// Recorder keeps entries in memory. Used by tests and the dev server.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

// Record appends e.
func (r *Recorder) Record(e Entry) {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
}

// Entries returns a copy of everything recorded so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Count returns how many entries of kind k were recorded.
func (r *Recorder) Count(k Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.Kind == k {
			n++
		}
	}
	return n
}
