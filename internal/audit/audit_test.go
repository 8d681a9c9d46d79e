package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, Event) { s.count.Add(1) }

type gateSink struct {
	gate chan struct{}
}

func (s *gateSink) Emit(context.Context, Event) { <-s.gate }

func TestDispatcherDisabledReturnsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, &countingSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	// nil dispatcher is safe to use
	d.Emit(context.Background(), Event{EventType: "login"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("expected no drops on nil dispatcher")
	}
}

func TestDispatcherDeliversAndDrainsOnClose(t *testing.T) {
	sink := &countingSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 16}, sink)
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "login"})
	}
	d.Close()

	if got := sink.count.Load(); got != 10 {
		t.Fatalf("expected 10 delivered events, got %d", got)
	}
	if d.Delivered() != 10 {
		t.Fatalf("Delivered = %d", d.Delivered())
	}

	// intake is shut after Close
	d.Emit(context.Background(), Event{EventType: "late"})
	d.Close()
	if got := sink.count.Load(); got != 10 {
		t.Fatalf("event after Close delivered, count %d", got)
	}
}

func TestDispatcherBlockingEmitHonoursContext(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)

	// one event held by the sink, one queued
	d.Emit(context.Background(), Event{EventType: "a"})
	for len(d.queue) != 0 {
		time.Sleep(time.Millisecond)
	}
	d.Emit(context.Background(), Event{EventType: "b"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		d.Emit(ctx, Event{EventType: "c"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit ignored its context")
	}
	if d.Dropped() != 1 {
		t.Fatalf("Dropped = %d, want 1", d.Dropped())
	}
	close(sink.gate)
	d.Close()
}

func TestDispatcherDropIfFullCountsDrops(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	for i := 0; i < 20; i++ {
		d.Emit(context.Background(), Event{EventType: "login"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected dropped events under backpressure")
	}
	close(sink.gate)
	d.Close()
}

func TestDispatcherStampsTimestamp(t *testing.T) {
	sink := NewChannelSink(1)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)
	defer d.Close()

	d.Emit(context.Background(), Event{EventType: "elevate"})
	select {
	case ev := <-sink.Events():
		if ev.Timestamp.IsZero() {
			t.Fatal("expected timestamp to be stamped")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestJSONWriterSinkOneObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), Event{Origin: "backend", EventType: "login", UserID: "u1", Success: true})
	sink.Emit(context.Background(), Event{Origin: "backend", EventType: "login", UserID: "u1"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var ev Event
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if ev.UserID != "u1" || !ev.Success || ev.Origin != "backend" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestSlogSinkWritesAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	NewSlogSink(logger).Emit(context.Background(), Event{
		Origin:    "client",
		EventType: "two_factor_submit",
		UserID:    "u1",
		Reason:    "invalid_code",
	})

	out := buf.String()
	for _, want := range []string{`"level":"WARN"`, `"event":"two_factor_submit"`, `"reason":"invalid_code"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in %s", want, out)
		}
	}
}

func TestStreamSinkAppendsAndTrims(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	sink := NewStreamSink(rdb, "audit:test", 3, nil)
	ctx := context.Background()
	for i, typ := range []string{"login_failure", "login_success", "two_factor_failed", "two_factor_verified", "logout"} {
		sink.Emit(ctx, Event{
			Timestamp: time.Unix(int64(1_700_000_000+i), 0).UTC(),
			Origin:    "backend",
			EventType: typ,
			UserID:    "42",
			Success:   typ != "login_failure" && typ != "two_factor_failed",
		})
	}

	got, err := sink.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) == 0 || len(got) > 5 {
		t.Fatalf("unexpected entry count %d", len(got))
	}
	if got[0].EventType != "logout" || got[0].UserID != "42" || !got[0].Success {
		t.Fatalf("newest entry = %+v", got[0])
	}

	n, err := rdb.XLen(ctx, "audit:test").Result()
	if err != nil {
		t.Fatalf("XLen: %v", err)
	}
	if n != int64(len(got)) {
		t.Fatalf("XLen = %d, Recent returned %d", n, len(got))
	}
}

func TestStreamSinkSurvivesRedisOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	NewStreamSink(rdb, "audit:test", 0, logger).Emit(context.Background(), Event{EventType: "login_success"})
	if !strings.Contains(buf.String(), "audit stream append failed") {
		t.Fatalf("expected a warning, got %q", buf.String())
	}
}
