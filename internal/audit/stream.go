package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// StreamSink appends events to a Redis stream, trimmed to roughly MaxLen
// entries. Each entry carries the JSON event under "event" plus the type and
// user for XRANGE-side filtering.
type StreamSink struct {
	rdb     redis.UniversalClient
	stream  string
	maxLen  int64
	timeout time.Duration
	logger  *slog.Logger
}

// NewStreamSink writes to stream. A maxLen of zero keeps every entry.
func NewStreamSink(rdb redis.UniversalClient, stream string, maxLen int64, logger *slog.Logger) *StreamSink {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &StreamSink{rdb: rdb, stream: stream, maxLen: maxLen, timeout: 2 * time.Second, logger: logger}
}

func (s *StreamSink) Emit(ctx context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err = s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: s.maxLen > 0,
		Values: map[string]any{
			"type":  ev.EventType,
			"user":  ev.UserID,
			"event": data,
		},
	}).Err()
	if err != nil {
		s.logger.Warn("audit stream append failed", "stream", s.stream, "event", ev.EventType, "error", err)
	}
}

// Recent returns up to n of the newest events, newest first.
func (s *StreamSink) Recent(ctx context.Context, n int64) ([]Event, error) {
	msgs, err := s.rdb.XRevRangeN(ctx, s.stream, "+", "-", n).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(msgs))
	for _, m := range msgs {
		raw, _ := m.Values["event"].(string)
		var ev Event
		if json.Unmarshal([]byte(raw), &ev) == nil {
			out = append(out, ev)
		}
	}
	return out, nil
}
