package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRateLimited is returned when a counter has reached the ban threshold.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps any Redis failure.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// Config holds login escalation thresholds. A zero threshold disables that
// stage.
type Config struct {
	EnableIPThrottle bool
	CaptchaThreshold int
	BanThreshold     int
	Window           time.Duration
}

// Decision summarizes the counters for one username/IP pair. Failures is the
// larger of the two counters; RetryAfter is the longest remaining ban.
type Decision struct {
	Failures        int
	CaptchaRequired bool
	Banned          bool
	RetryAfter      time.Duration
}

// Limiter tracks failed logins per username and per IP.
type Limiter struct {
	rdb redis.UniversalClient
	cfg Config
}

func New(rdb redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{rdb: rdb, cfg: cfg}
}

// counter is one key's state read in a single round trip.
type counter struct {
	hits int
	ttl  time.Duration
}

// Check reads the current counters without mutating them.
func (l *Limiter) Check(ctx context.Context, username, ip string) (Decision, error) {
	keys := l.keys(username, ip)
	gets := make([]*redis.StringCmd, len(keys))
	ttls := make([]*redis.DurationCmd, len(keys))
	_, err := l.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			gets[i] = pipe.Get(ctx, k)
			ttls[i] = pipe.PTTL(ctx, k)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	counters := make([]counter, 0, len(keys))
	for i := range keys {
		n, err := gets[i].Int()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		counters = append(counters, counter{hits: n, ttl: ttls[i].Val()})
	}
	return l.decide(counters), nil
}

// RecordFailure counts one failure against both keys. The error is
// ErrRateLimited once either counter reaches the ban threshold.
func (l *Limiter) RecordFailure(ctx context.Context, username, ip string) (Decision, error) {
	keys := l.keys(username, ip)
	counters := make([]counter, 0, len(keys))
	for _, k := range keys {
		c, err := hit(ctx, l.rdb, k, l.cfg.Window)
		if err != nil {
			return Decision{}, err
		}
		counters = append(counters, c)
	}
	d := l.decide(counters)
	if d.Banned {
		return d, ErrRateLimited
	}
	return d, nil
}

// Reset clears both counters after a successful login.
func (l *Limiter) Reset(ctx context.Context, username, ip string) error {
	if err := l.rdb.Del(ctx, l.keys(username, ip)...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Limiter) decide(counters []counter) Decision {
	var d Decision
	for _, c := range counters {
		d.Failures = max(d.Failures, c.hits)
		if l.cfg.CaptchaThreshold > 0 && c.hits >= l.cfg.CaptchaThreshold {
			d.CaptchaRequired = true
		}
		if l.cfg.BanThreshold > 0 && c.hits >= l.cfg.BanThreshold {
			d.Banned = true
			d.RetryAfter = max(d.RetryAfter, c.ttl)
		}
	}
	return d
}

func (l *Limiter) keys(username, ip string) []string {
	keys := []string{"gl:u:" + strings.ToLower(strings.TrimSpace(username))}
	if l.cfg.EnableIPThrottle && ip != "" {
		keys = append(keys, "gl:i:"+ip)
	}
	return keys
}

// hit increments key inside a fixed window. The window starts at the first
// hit: the TTL is only set when the key has none.
func hit(ctx context.Context, rdb redis.UniversalClient, key string, window time.Duration) (counter, error) {
	var (
		incr *redis.IntCmd
		pttl *redis.DurationCmd
	)
	_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pttl = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return counter{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	c := counter{hits: int(incr.Val()), ttl: pttl.Val()}
	if c.ttl < 0 {
		if err := rdb.PExpire(ctx, key, window).Err(); err != nil {
			return counter{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		c.ttl = window
	}
	return c, nil
}
