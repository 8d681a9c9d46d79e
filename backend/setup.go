package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goElevate/internal/limiters"
)

// BeginSetup stores a fresh pending secret for the session's user and
// returns it with its otpauth:// provisioning payload. Calling it again
// replaces the pending secret.
func (s *Service) BeginSetup(ctx context.Context, token string) (SetupResult, error) {
	sess, err := s.resolve(ctx, token)
	if err != nil {
		return SetupResult{}, err
	}
	if sess.user.TwoFactorEnabled {
		return SetupResult{}, ErrTwoFactorAlreadyEnabled
	}

	raw, encoded, err := s.totp.NewSecret()
	if err != nil {
		return SetupResult{}, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if err := s.users.SetPendingTOTP(ctx, sess.user.UserID, raw); err != nil {
		return SetupResult{}, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	s.emitAudit(ctx, "two_factor_setup_started", true, sess.user.UserID, sess.state.SessionID, "", nil, nil)
	return SetupResult{
		Secret:    encoded,
		QRPayload: s.totp.URI(encoded, sess.user.Username),
	}, nil
}

// ConfirmSetup enables two factor once code matches the pending secret,
// issues a backup code set and marks the current session verified so it
// stays elevated.
func (s *Service) ConfirmSetup(ctx context.Context, token, code string) ([]string, error) {
	sess, err := s.resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	userID := sess.user.UserID
	if sess.user.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	rec, err := s.users.GetTOTP(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if len(rec.PendingSecret) == 0 {
		return nil, ErrSetupNotStarted
	}

	counter, err := s.checkLimitedTOTP(ctx, userID, rec.PendingSecret, code)
	if err != nil {
		return nil, err
	}

	codes, records, err := s.newBackupCodeSet(userID)
	if err != nil {
		return nil, err
	}
	if err := s.users.EnableTOTP(ctx, userID, rec.PendingSecret, counter); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if err := s.users.ReplaceBackupCodes(ctx, userID, records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if err := s.sessions.MarkSecondFactor(ctx, sess.state.SessionID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	s.metrics.Inc(MetricSetupConfirmed)
	s.emitAudit(ctx, "two_factor_enabled", true, userID, sess.state.SessionID, "", nil, nil)
	return codes, nil
}

// DisableTwoFactor removes two factor for the session's user. The session
// must be elevated and code must be a valid TOTP code, or a backup code when
// useBackup is set.
func (s *Service) DisableTwoFactor(ctx context.Context, token, code string, useBackup bool) error {
	sess, err := s.elevatedSession(ctx, token)
	if err != nil {
		return err
	}
	userID := sess.user.UserID
	if !sess.user.TwoFactorEnabled {
		return ErrTwoFactorNotEnabled
	}

	if useBackup {
		if err := s.consumeBackupCode(ctx, userID, code); err != nil {
			return err
		}
	} else {
		rec, err := s.users.GetTOTP(ctx, userID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBackend, err)
		}
		if _, err := s.checkLimitedTOTP(ctx, userID, rec.Secret, code); err != nil {
			return err
		}
	}

	if err := s.users.DisableTOTP(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if err := s.users.ReplaceBackupCodes(ctx, userID, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	s.metrics.Inc(MetricTwoFactorDisabled)
	s.emitAudit(ctx, "two_factor_disabled", true, userID, sess.state.SessionID, "", nil, nil)
	return nil
}

// RegenerateBackupCodes atomically replaces the user's backup code set.
func (s *Service) RegenerateBackupCodes(ctx context.Context, token string) ([]string, error) {
	sess, err := s.elevatedSession(ctx, token)
	if err != nil {
		return nil, err
	}
	userID := sess.user.UserID
	if !sess.user.TwoFactorEnabled {
		return nil, ErrTwoFactorNotEnabled
	}
	codes, records, err := s.newBackupCodeSet(userID)
	if err != nil {
		return nil, err
	}
	if err := s.users.ReplaceBackupCodes(ctx, userID, records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	s.metrics.Inc(MetricBackupCodesRegenerated)
	s.emitAudit(ctx, "backup_codes_regenerated", true, userID, sess.state.SessionID, "", nil, nil)
	return codes, nil
}

func (s *Service) elevatedSession(ctx context.Context, token string) (authSession, error) {
	sess, err := s.resolve(ctx, token)
	if err != nil {
		return authSession{}, err
	}
	if !sess.elevated() {
		return authSession{}, ErrNotElevated
	}
	return sess, nil
}

// checkLimitedTOTP verifies code against secret behind the per-user TOTP
// limiter used outside the login challenge.
func (s *Service) checkLimitedTOTP(ctx context.Context, userID string, secret []byte, code string) (int64, error) {
	if err := s.totpLimiter.Check(ctx, userID); err != nil {
		if errors.Is(err, limiters.ErrRateLimited) {
			return 0, ErrTOTPRateLimited
		}
		return 0, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	counter, ok, err := s.totp.Match(secret, code, time.Now())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if !ok {
		if err := s.totpLimiter.RecordFailure(ctx, userID); errors.Is(err, limiters.ErrRateLimited) {
			return 0, ErrTOTPRateLimited
		}
		return 0, ErrInvalidCode
	}
	_ = s.totpLimiter.Reset(ctx, userID)
	return counter, nil
}
