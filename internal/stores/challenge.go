package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrChallengeNotFound = errors.New("two-factor challenge not found")
	ErrChallengeBackend  = errors.New("two-factor challenge backend unavailable")
)

// Challenge is the pending second-factor step of one login. It is keyed by
// user so a new login replaces any earlier pending challenge, and it is bound
// to the session that the login issued.
type Challenge struct {
	UserID    string
	SessionID string
	Attempts  int
	ExpiresAt time.Time
}

// failScript counts a failed submission and removes the challenge once the
// cap is reached. HINCRBY keeps the key's TTL. Returns -1 when absent.
var failScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local n = redis.call('HINCRBY', KEYS[1], 'att', 1)
if n >= tonumber(ARGV[1]) then
  redis.call('DEL', KEYS[1])
end
return n
`)

// ChallengeStore keeps challenges as Redis hashes (prefix:uid) whose TTL is
// the challenge lifetime.
type ChallengeStore struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewChallengeStore(rdb redis.UniversalClient, prefix string) *ChallengeStore {
	if prefix == "" {
		prefix = "gtc"
	}
	return &ChallengeStore{rdb: rdb, prefix: prefix}
}

func (s *ChallengeStore) key(userID string) string {
	return s.prefix + ":" + userID
}

// Open starts a challenge for userID bound to sessionID, replacing any
// previous one and resetting its attempt count.
func (s *ChallengeStore) Open(ctx context.Context, userID, sessionID string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("%w: non-positive ttl", ErrChallengeBackend)
	}
	key := s.key(userID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, "sid", sessionID, "att", 0)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return nil
}

func (s *ChallengeStore) Get(ctx context.Context, userID string) (*Challenge, error) {
	key := s.key(userID)
	var (
		fields *redis.MapStringStringCmd
		ttl    *redis.DurationCmd
	)
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		fields = pipe.HGetAll(ctx, key)
		ttl = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	m := fields.Val()
	if len(m) == 0 {
		return nil, ErrChallengeNotFound
	}
	attempts, err := strconv.Atoi(m["att"])
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt attempt count %q", ErrChallengeBackend, m["att"])
	}
	c := &Challenge{UserID: userID, SessionID: m["sid"], Attempts: attempts}
	if d := ttl.Val(); d > 0 {
		c.ExpiresAt = time.Now().Add(d)
	}
	return c, nil
}

// Delete removes the challenge and reports whether this call was the one
// that removed it.
func (s *ChallengeStore) Delete(ctx context.Context, userID string) (bool, error) {
	n, err := s.rdb.Del(ctx, s.key(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return n > 0, nil
}

// RecordFailure increments the attempt counter and returns the new count.
// exceeded is true when the count reached maxAttempts, in which case the
// challenge is gone.
func (s *ChallengeStore) RecordFailure(ctx context.Context, userID string, maxAttempts int) (attempts int, exceeded bool, err error) {
	n, err := failScript.Run(ctx, s.rdb, []string{s.key(userID)}, maxAttempts).Int()
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	if n < 0 {
		return 0, false, ErrChallengeNotFound
	}
	return n, n >= maxAttempts, nil
}
