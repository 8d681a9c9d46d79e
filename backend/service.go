package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/goElevate/internal"
	"github.com/MrEthical07/goElevate/internal/audit"
	"github.com/MrEthical07/goElevate/internal/limiters"
	"github.com/MrEthical07/goElevate/internal/rate"
	"github.com/MrEthical07/goElevate/internal/stores"
	"github.com/MrEthical07/goElevate/jwt"
	"github.com/MrEthical07/goElevate/metrics"
	"github.com/MrEthical07/goElevate/password"
)

// Service is the reference authentication backend. It is safe for
// concurrent use.
type Service struct {
	config        Config
	users         UserProvider
	captcha       CaptchaVerifier
	publisher     Publisher
	logger        *slog.Logger
	jwt           *jwt.Signer
	passwordHash  *password.Hasher
	totp          *totp
	sessions      *stores.SessionStore
	challenges    *stores.ChallengeStore
	loginLimiter  *rate.Limiter
	backupLimiter *limiters.FailureLimiter
	totpLimiter   *limiters.FailureLimiter
	audit         *audit.Dispatcher
	metrics       *metrics.Set
}

// Close flushes pending audit events.
func (s *Service) Close() {
	if s == nil {
		return
	}
	s.audit.Close()
}

// Config returns a copy of the active configuration.
func (s *Service) Config() Config {
	return cloneConfig(s.config)
}

// HashPassword hashes a password with the configured Argon2id parameters.
// Providers use it when provisioning users.
func (s *Service) HashPassword(pw string) (string, error) {
	return s.passwordHash.Hash(pw)
}

// authSession is a resolved session token.
type authSession struct {
	state *stores.SessionState
	user  UserRecord
}

func (a authSession) elevated() bool {
	return !a.user.TwoFactorEnabled || a.state.SecondFactorPassed
}

// resolve maps a token to its live session and user. Any token or session
// problem is ErrUnauthenticated; only storage failures are ErrBackend.
func (s *Service) resolve(ctx context.Context, token string) (authSession, error) {
	if token == "" {
		return authSession{}, ErrUnauthenticated
	}
	claims, err := s.jwt.Parse(token)
	if err != nil {
		return authSession{}, ErrUnauthenticated
	}
	state, err := s.sessions.Get(ctx, claims.SID)
	if err != nil {
		if errors.Is(err, stores.ErrSessionNotFound) {
			return authSession{}, ErrUnauthenticated
		}
		return authSession{}, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if state.UserID != claims.UID {
		return authSession{}, ErrUnauthenticated
	}
	user, err := s.users.GetUserByID(ctx, state.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			_ = s.sessions.Delete(ctx, state.SessionID)
			return authSession{}, ErrUnauthenticated
		}
		return authSession{}, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return authSession{state: state, user: user}, nil
}

func (s *Service) emitAudit(ctx context.Context, eventType string, success bool, userID, sessionID, ip string, reason error, metadata map[string]string) {
	ev := audit.Event{
		Origin:    "backend",
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        ip,
		Success:   success,
		Metadata:  metadata,
	}
	if reason != nil {
		ev.Reason = reason.Error()
	}
	s.audit.Emit(ctx, ev)
}

func (s *Service) publish(ctx context.Context, topic, userID string, data []byte) error {
	ev := Event{
		ID:     internal.NewEventID(),
		Topic:  topic,
		UserID: userID,
		At:     time.Now().UTC(),
		Data:   data,
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Error("publish event failed", "topic", topic, "user_id", userID, "error", err)
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	s.metrics.Inc(MetricEventsPublished)
	return nil
}
