package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRateLimited = errors.New("second factor rate limited")
	ErrUnavailable = errors.New("second factor limiter unavailable")
)

// Config holds the failure budget for one limiter. Zero fields mean five
// failures per minute.
type Config struct {
	MaxAttempts int
	Cooldown    time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = time.Minute
	}
	return c
}

// FailureLimiter counts failed submissions per user. The window opens on the
// first failure and lasts Cooldown; reaching MaxAttempts inside it blocks the
// user until it closes.
type FailureLimiter struct {
	rdb    redis.UniversalClient
	prefix string
	cfg    Config
}

// NewBackupCodeLimiter limits backup code guesses.
func NewBackupCodeLimiter(rdb redis.UniversalClient, cfg Config) *FailureLimiter {
	return &FailureLimiter{rdb: rdb, prefix: "ebk:", cfg: cfg.withDefaults()}
}

// NewTOTPLimiter limits TOTP guesses outside the login challenge, where the
// challenge has no attempt counter of its own.
func NewTOTPLimiter(rdb redis.UniversalClient, cfg Config) *FailureLimiter {
	return &FailureLimiter{rdb: rdb, prefix: "etp:", cfg: cfg.withDefaults()}
}

func (l *FailureLimiter) off() bool { return l == nil || l.rdb == nil }

// blocked wraps ErrRateLimited with the time left in the window.
func blocked(left time.Duration) error {
	if left <= 0 {
		return ErrRateLimited
	}
	return fmt.Errorf("%w: retry in %s", ErrRateLimited, left.Round(time.Second))
}

// Check returns ErrRateLimited while the user's budget is spent.
func (l *FailureLimiter) Check(ctx context.Context, userID string) error {
	if l.off() {
		return nil
	}
	key := l.prefix + userID
	var (
		get  *redis.StringCmd
		pttl *redis.DurationCmd
	)
	_, err := l.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.Get(ctx, key)
		pttl = pipe.PTTL(ctx, key)
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	n, err := get.Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n >= l.cfg.MaxAttempts {
		return blocked(pttl.Val())
	}
	return nil
}

// RecordFailure spends one attempt. It returns ErrRateLimited on the
// failure that exhausts the budget.
func (l *FailureLimiter) RecordFailure(ctx context.Context, userID string) error {
	if l.off() {
		return nil
	}
	key := l.prefix + userID
	var incr *redis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetArgs(ctx, key, 0, redis.SetArgs{Mode: "NX", TTL: l.cfg.Cooldown})
		incr = pipe.Incr(ctx, key)
		return nil
	})
	// SET NX answers nil when the window is already open
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if int(incr.Val()) >= l.cfg.MaxAttempts {
		return ErrRateLimited
	}
	return nil
}

// Reset clears the user's window after a success.
func (l *FailureLimiter) Reset(ctx context.Context, userID string) error {
	if l.off() {
		return nil
	}
	if err := l.rdb.Del(ctx, l.prefix+userID).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
