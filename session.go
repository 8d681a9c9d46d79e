package goElevate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrEthical07/goElevate/internal/flows"
	"github.com/MrEthical07/goElevate/metrics"
)

// SessionService is the single writer of the local session mirror. Every
// change goes through [SessionService.Refresh] or [SessionService.Elevate];
// readers call [SessionService.View] or [SessionService.IsElevated].
//
// Reads are ordered by sequence number: a response is applied only if no
// newer read has been applied, and only if the token it was issued for is
// still current. Network and server failures leave the view untouched.
type SessionService struct {
	backend Backend
	store   DeviceStore
	cfg     SessionConfig
	metrics *metrics.Set
	audit   emitter
	logger  *slog.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	token    string
	tokenGen uint64
	view     SessionView
	issued   uint64
	applied  uint64

	onInvalidated func()
}

func newSessionService(b Backend, store DeviceStore, cfg SessionConfig, m *metrics.Set, a emitter, logger *slog.Logger) *SessionService {
	return &SessionService{
		backend: b,
		store:   store,
		cfg:     cfg,
		metrics: m,
		audit:   a,
		logger:  logger,
		now:     time.Now,
	}
}

// View returns a copy of the last applied session view.
func (s *SessionService) View() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyView(s.view)
}

// IsElevated is derived from the current view on every call.
func (s *SessionService) IsElevated() bool {
	return s.View().IsElevated()
}

// HasToken reports whether a session token is held.
func (s *SessionService) HasToken() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token != ""
}

// Refresh reads the authoritative session. It is safe to call repeatedly and
// concurrently. On a network or server failure it returns the unchanged
// view together with the error.
func (s *SessionService) Refresh(ctx context.Context) (SessionView, error) {
	s.mu.Lock()
	token := s.token
	gen := s.tokenGen
	s.issued++
	seq := s.issued
	s.mu.Unlock()

	if token == "" {
		return s.View(), nil
	}

	start := s.now()
	v, err := s.backend.Session(WithSessionToken(ctx, token))
	s.metrics.Observe(MetricRefreshLatency, s.now().Sub(start))
	if err != nil {
		if !errors.Is(err, ErrSessionInvalidated) {
			s.metrics.Inc(MetricRefreshFailure)
			s.logger.Debug("session refresh failed", "error", err)
			return s.View(), err
		}
		v = SessionView{}
	}
	if !v.Authenticated {
		v = SessionView{}
	}
	v.FetchedAt = s.now()

	return s.apply(ctx, seq, gen, v), nil
}

func (s *SessionService) apply(ctx context.Context, seq, gen uint64, v SessionView) SessionView {
	s.mu.Lock()
	if gen != s.tokenGen || seq < s.applied {
		cur := copyView(s.view)
		s.mu.Unlock()
		s.metrics.Inc(MetricRefreshStale)
		return cur
	}
	s.applied = seq
	lost := s.view.Authenticated && !v.Authenticated
	var userID string
	if lost {
		if s.view.Identity != nil {
			userID = s.view.Identity.ID
		}
		s.token = ""
		s.tokenGen++
	}
	s.view = copyView(v)
	cb := s.onInvalidated
	s.mu.Unlock()

	s.metrics.Inc(MetricRefreshSuccess)
	if lost {
		s.clearStore(ctx)
		s.lost(ctx, userID, cb)
	} else if err := s.store.SaveSessionView(ctx, v); err != nil {
		s.logger.Warn("caching session view failed", "error", err)
	}
	return v
}

// Elevate completes a verified challenge: it asks the server to mark the
// session verified, then confirms with at least one refresh. A refresh that
// shows an elevated session is success even if the elevate call failed.
func (s *SessionService) Elevate(ctx context.Context, result ChallengeResult) (SessionView, error) {
	if !result.valid() {
		return s.View(), ErrSecondFactorRequired
	}
	if !s.HasToken() {
		return s.View(), ErrSessionInvalidated
	}

	err := flows.RunElevate(ctx, flows.ElevateDeps{
		Elevate: func(ctx context.Context) error {
			return s.backend.ElevateSession(s.withToken(ctx), result.userID)
		},
		Refresh: func(ctx context.Context) (flows.RefreshState, error) {
			v, err := s.Refresh(ctx)
			if err != nil {
				return flows.RefreshState{}, err
			}
			return flows.RefreshState{Authenticated: v.Authenticated, Elevated: v.IsElevated()}, nil
		},
		IsInvalidated: func(err error) bool {
			return errors.Is(err, ErrSessionInvalidated)
		},
		Invalidate:      s.Invalidate,
		ConfirmAttempts: s.cfg.ElevateConfirmAttempts,
		ConfirmDelay:    s.cfg.ElevateConfirmDelay,
		Sleep:           s.sleep,
		Errors: flows.ElevateErrors{
			SessionInvalidated: ErrSessionInvalidated,
			Unconfirmed:        ErrElevationUnconfirmed,
		},
	})

	view := s.View()
	if err != nil {
		s.metrics.Inc(MetricElevateFailure)
		s.audit.emit(ctx, auditElevated, false, result.userID, err, nil)
		return view, err
	}
	s.metrics.Inc(MetricElevateSuccess)
	s.audit.emit(ctx, auditElevated, true, result.userID, nil, map[string]string{"method": result.method})
	return view, nil
}

// Invalidate drops the token and view after an explicit requires-login
// answer. The invalidation callback fires if the view was authenticated.
func (s *SessionService) Invalidate(ctx context.Context) {
	s.mu.Lock()
	lost := s.view.Authenticated
	var userID string
	if s.view.Identity != nil {
		userID = s.view.Identity.ID
	}
	s.token = ""
	s.tokenGen++
	s.applied = s.issued
	s.view = SessionView{FetchedAt: s.now()}
	cb := s.onInvalidated
	s.mu.Unlock()

	s.clearStore(ctx)
	if lost {
		s.lost(ctx, userID, cb)
	}
}

// Logout ends the session on the server and clears local state. Local state
// is cleared even when the server call fails; the invalidation callback does
// not fire for a user-initiated logout.
func (s *SessionService) Logout(ctx context.Context) error {
	s.mu.Lock()
	token := s.token
	s.token = ""
	s.tokenGen++
	s.applied = s.issued
	s.view = SessionView{FetchedAt: s.now()}
	s.mu.Unlock()

	s.clearStore(ctx)
	if token == "" {
		return nil
	}
	if err := s.backend.Logout(WithSessionToken(ctx, token)); err != nil && !errors.Is(err, ErrSessionInvalidated) {
		s.logger.Warn("server logout failed", "error", err)
		return err
	}
	return nil
}

// adopt installs the token issued by a login and forgets any previous
// session without firing the invalidation callback. Reads issued under the
// old token are dropped.
func (s *SessionService) adopt(ctx context.Context, token string) {
	s.mu.Lock()
	s.token = token
	s.tokenGen++
	s.applied = s.issued
	s.view = SessionView{FetchedAt: s.now()}
	s.mu.Unlock()

	if err := s.store.ClearSessionView(ctx); err != nil {
		s.logger.Warn("clearing session view failed", "error", err)
	}
	if err := s.store.SaveToken(ctx, token); err != nil {
		s.logger.Warn("persisting session token failed", "error", err)
	}
}

// restore loads the persisted token and cached view. It reports whether a
// token was found.
func (s *SessionService) restore(ctx context.Context) (bool, error) {
	token, err := s.store.LoadToken(ctx)
	if err != nil {
		return false, err
	}
	if token == "" {
		return false, nil
	}
	view, ok, err := s.store.LoadSessionView(ctx)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.tokenGen++
	if ok {
		s.view = view
	}
	return true, nil
}

func (s *SessionService) withToken(ctx context.Context) context.Context {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	return WithSessionToken(ctx, token)
}

func (s *SessionService) lost(ctx context.Context, userID string, cb func()) {
	s.metrics.Inc(MetricSessionInvalidated)
	s.audit.emit(ctx, auditSessionLost, true, userID, nil, nil)
	s.logger.Info("session invalidated", "user_id", userID)
	if cb != nil {
		cb()
	}
}

func (s *SessionService) clearStore(ctx context.Context) {
	if err := s.store.ClearToken(ctx); err != nil {
		s.logger.Warn("clearing session token failed", "error", err)
	}
	if err := s.store.ClearSessionView(ctx); err != nil {
		s.logger.Warn("clearing session view failed", "error", err)
	}
}
