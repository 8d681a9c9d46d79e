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
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionBackend  = errors.New("session backend unavailable")
)

// SessionState is the server-side record behind a session token.
type SessionState struct {
	SessionID          string
	UserID             string
	SecondFactorPassed bool
	CreatedAt          time.Time
}

// SessionStore keeps sessions as Redis hashes (prefix:sid) with a per-user
// index set (prefix:u:uid).
type SessionStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewSessionStore(redisClient redis.UniversalClient, prefix string) *SessionStore {
	if prefix == "" {
		prefix = "gss"
	}
	return &SessionStore{redis: redisClient, prefix: prefix}
}

func (s *SessionStore) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *SessionStore) userKey(userID string) string {
	return s.prefix + ":u:" + userID
}

func (s *SessionStore) Create(ctx context.Context, state SessionState, ttl time.Duration) error {
	key := s.key(state.SessionID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"uid", state.UserID,
			"tf", boolField(state.SecondFactorPassed),
			"iat", state.CreatedAt.Unix(),
		)
		pipe.Expire(ctx, key, ttl)
		pipe.SAdd(ctx, s.userKey(state.UserID), state.SessionID)
		pipe.Expire(ctx, s.userKey(state.UserID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, sessionID string) (*SessionState, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	if len(fields) == 0 || fields["uid"] == "" {
		return nil, ErrSessionNotFound
	}
	iat, _ := strconv.ParseInt(fields["iat"], 10, 64)
	return &SessionState{
		SessionID:          sessionID,
		UserID:             fields["uid"],
		SecondFactorPassed: fields["tf"] == "1",
		CreatedAt:          time.Unix(iat, 0).UTC(),
	}, nil
}

// MarkSecondFactor flags the session as having passed its second factor. It
// fails with ErrSessionNotFound when the session expired in the meantime.
func (s *SessionStore) MarkSecondFactor(ctx context.Context, sessionID string) error {
	key := s.key(sessionID)
	n, err := s.redis.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	if err := s.redis.HSet(ctx, key, "tf", "1").Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	state, err := s.Get(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(sessionID))
		pipe.SRem(ctx, s.userKey(state.UserID), sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	return nil
}

// DeleteAllForUser removes every session of userID and returns how many
// session ids were indexed.
func (s *SessionStore) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.key(id))
	}
	keys = append(keys, s.userKey(userID))
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	return len(ids), nil
}

func boolField(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
