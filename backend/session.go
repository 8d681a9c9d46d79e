package backend

import (
	"context"
	"errors"
)

// SessionView reports the authoritative state of the session behind token.
// Missing, malformed and expired tokens yield an unauthenticated view rather
// than an error; only storage failures return ErrBackend.
func (s *Service) SessionView(ctx context.Context, token string) (SessionView, error) {
	sess, err := s.resolve(ctx, token)
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			return SessionView{}, nil
		}
		return SessionView{}, err
	}
	return viewOf(sess), nil
}

// ElevateSession grants elevated access when the session's second factor
// passed, or immediately for users without two factor.
func (s *Service) ElevateSession(ctx context.Context, token string) (SessionView, error) {
	sess, err := s.resolve(ctx, token)
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			s.metrics.Inc(MetricElevateDenied)
		}
		return SessionView{}, err
	}
	if !sess.elevated() {
		s.metrics.Inc(MetricElevateDenied)
		s.emitAudit(ctx, "elevate_denied", false, sess.user.UserID, sess.state.SessionID, "", ErrSecondFactorRequired, nil)
		return viewOf(sess), ErrSecondFactorRequired
	}
	s.metrics.Inc(MetricElevateSuccess)
	s.emitAudit(ctx, "elevate_success", true, sess.user.UserID, sess.state.SessionID, "", nil, nil)
	return viewOf(sess), nil
}

func viewOf(sess authSession) SessionView {
	return SessionView{
		Authenticated:     true,
		TwoFactorEnabled:  sess.user.TwoFactorEnabled,
		TwoFactorVerified: sess.user.TwoFactorEnabled && sess.state.SecondFactorPassed,
		User:              identityFromUser(sess.user),
	}
}
