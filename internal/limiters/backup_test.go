package limiters

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func TestFailureLimiterBlocksAtMax(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := NewBackupCodeLimiter(rdb, Config{MaxAttempts: 3, Cooldown: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.RecordFailure(ctx, "u1"); err != nil {
			t.Fatalf("failure %d: unexpected error %v", i, err)
		}
	}
	if err := l.RecordFailure(ctx, "u1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	err := l.Check(ctx, "u1")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected Check to block, got %v", err)
	}
	if !strings.Contains(err.Error(), "retry in 1m0s") {
		t.Fatalf("expected remaining window in %q", err)
	}
	if err := l.Check(ctx, "u2"); err != nil {
		t.Fatalf("other user must not be blocked: %v", err)
	}
	if err := l.Reset(ctx, "u1"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if err := l.Check(ctx, "u1"); err != nil {
		t.Fatalf("expected reset to unblock: %v", err)
	}
}

func TestLimitersUseSeparateNamespaces(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()
	_ = NewBackupCodeLimiter(rdb, Config{}).RecordFailure(ctx, "u1")
	_ = NewTOTPLimiter(rdb, Config{}).RecordFailure(ctx, "u1")

	if !mr.Exists("ebk:u1") || !mr.Exists("etp:u1") {
		t.Fatalf("expected both keys, got %v", mr.Keys())
	}
	if ttl := mr.TTL("ebk:u1"); ttl != time.Minute {
		t.Fatalf("expected default cooldown, got %v", ttl)
	}
}

func TestWindowClosesAfterCooldown(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := NewTOTPLimiter(rdb, Config{MaxAttempts: 2, Cooldown: time.Minute})
	ctx := context.Background()

	_ = l.RecordFailure(ctx, "u1")
	mr.FastForward(30 * time.Second)
	if err := l.RecordFailure(ctx, "u1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second failure in window: %v", err)
	}
	// the second failure must not extend the window
	mr.FastForward(31 * time.Second)
	if err := l.Check(ctx, "u1"); err != nil {
		t.Fatalf("expected window closed: %v", err)
	}
}

func TestNilLimiterIsNoop(t *testing.T) {
	var l *FailureLimiter
	if err := l.Check(context.Background(), "u1"); err != nil {
		t.Fatalf("nil limiter Check: %v", err)
	}
	if err := l.RecordFailure(context.Background(), "u1"); err != nil {
		t.Fatalf("nil limiter RecordFailure: %v", err)
	}
}
