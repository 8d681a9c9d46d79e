package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Event is one audit record. Origin distinguishes client-side transitions
// from authoritative backend decisions.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	Origin    string            `json:"origin"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Reason    string            `json:"reason,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink receives events from a [Dispatcher] worker. Implementations must not
// retain ev.Metadata past the call.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// NoOpSink discards.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink hands events to a reader over a buffered channel. Emit blocks
// while the buffer is full unless ctx ends first.
type ChannelSink struct {
	ch chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan Event, max(buffer, 1))}
}

func (s *ChannelSink) Emit(ctx context.Context, ev Event) {
	select {
	case s.ch <- ev:
	case <-ctx.Done():
	}
}

// Events is the receive side.
func (s *ChannelSink) Events() <-chan Event { return s.ch }

// JSONWriterSink writes newline-delimited JSON. Write errors are ignored.
type JSONWriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	if w == nil {
		w = io.Discard
	}
	return &JSONWriterSink{enc: json.NewEncoder(w)}
}

func (s *JSONWriterSink) Emit(_ context.Context, ev Event) {
	if s == nil {
		return
	}
	s.mu.Lock()
	_ = s.enc.Encode(ev)
	s.mu.Unlock()
}

// SlogSink logs each event as one "audit" record. Failed outcomes log at
// warn.
type SlogSink struct {
	logger *slog.Logger
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Emit(ctx context.Context, ev Event) {
	if s == nil || s.logger == nil {
		return
	}
	level := slog.LevelWarn
	if ev.Success {
		level = slog.LevelInfo
	}
	s.logger.LogAttrs(ctx, level, "audit", ev.attrs()...)
}

func (ev Event) attrs() []slog.Attr {
	out := make([]slog.Attr, 0, 8)
	out = append(out,
		slog.String("origin", ev.Origin),
		slog.String("event", ev.EventType),
		slog.Bool("success", ev.Success),
	)
	for _, kv := range [...]struct{ k, v string }{
		{"user_id", ev.UserID},
		{"session_id", ev.SessionID},
		{"ip", ev.IP},
		{"reason", ev.Reason},
	} {
		if kv.v != "" {
			out = append(out, slog.String(kv.k, kv.v))
		}
	}
	if len(ev.Metadata) > 0 {
		meta := make([]any, 0, len(ev.Metadata))
		for k, v := range ev.Metadata {
			meta = append(meta, slog.String(k, v))
		}
		out = append(out, slog.Group("meta", meta...))
	}
	return out
}
