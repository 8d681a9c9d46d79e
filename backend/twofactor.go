package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goElevate/internal"
	"github.com/MrEthical07/goElevate/internal/limiters"
	"github.com/MrEthical07/goElevate/internal/stores"
)

// VerifyTwoFactor completes the pending challenge of the session behind
// token with a TOTP code or a backup code.
//
// Failures count against the challenge. The submission that reaches
// TwoFactor.MaxAttempts returns ErrAttemptsExceeded and the challenge is
// gone; later submissions see ErrChallengeExpired. A session that already
// passed its second factor succeeds without consuming anything.
func (s *Service) VerifyTwoFactor(ctx context.Context, token, method, code string) (VerifyResult, error) {
	start := time.Now()
	defer func() { s.metrics.Observe(MetricVerifyLatency, time.Since(start)) }()

	sess, err := s.resolve(ctx, token)
	if err != nil {
		return VerifyResult{}, err
	}
	if sess.state.SecondFactorPassed {
		return VerifyResult{}, nil
	}
	userID := sess.user.UserID

	challenge, err := s.challenges.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, stores.ErrChallengeNotFound) {
			return VerifyResult{}, ErrChallengeExpired
		}
		return VerifyResult{}, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if challenge.SessionID != sess.state.SessionID {
		// a newer login replaced this session's challenge
		return VerifyResult{}, ErrChallengeExpired
	}

	var verr error
	switch method {
	case MethodTOTP:
		verr = s.checkLoginTOTP(ctx, userID, code)
	case MethodBackup:
		verr = s.consumeBackupCode(ctx, userID, code)
	default:
		return VerifyResult{}, ErrUnsupportedMethod
	}
	if verr != nil {
		if errors.Is(verr, ErrBackend) || errors.Is(verr, ErrBackupCodeRateLimited) {
			return VerifyResult{}, verr
		}
		return s.recordChallengeFailure(ctx, sess, verr)
	}

	removed, err := s.challenges.Delete(ctx, userID)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if !removed {
		// a concurrent submission won or the challenge expired in between
		return VerifyResult{}, ErrChallengeExpired
	}
	if err := s.sessions.MarkSecondFactor(ctx, sess.state.SessionID); err != nil {
		if errors.Is(err, stores.ErrSessionNotFound) {
			return VerifyResult{}, ErrUnauthenticated
		}
		return VerifyResult{}, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	s.metrics.Inc(MetricTwoFactorSuccess)
	s.emitAudit(ctx, "two_factor_success", true, userID, sess.state.SessionID, "", nil, map[string]string{"method": method})
	return VerifyResult{}, nil
}

func (s *Service) recordChallengeFailure(ctx context.Context, sess authSession, cause error) (VerifyResult, error) {
	userID := sess.user.UserID
	s.metrics.Inc(MetricTwoFactorFailure)
	attempts, exceeded, err := s.challenges.RecordFailure(ctx, userID, s.config.TwoFactor.MaxAttempts)
	if err != nil {
		if errors.Is(err, stores.ErrChallengeNotFound) {
			return VerifyResult{}, ErrChallengeExpired
		}
		return VerifyResult{}, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	s.emitAudit(ctx, "two_factor_failure", false, userID, sess.state.SessionID, "", cause, nil)
	if exceeded {
		s.metrics.Inc(MetricTwoFactorAttemptsExceeded)
		return VerifyResult{}, ErrAttemptsExceeded
	}
	return VerifyResult{AttemptsRemaining: s.config.TwoFactor.MaxAttempts - attempts}, cause
}

// checkLoginTOTP verifies code against the enabled secret and advances the
// replay counter.
func (s *Service) checkLoginTOTP(ctx context.Context, userID, code string) error {
	rec, err := s.users.GetTOTP(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if !rec.Enabled || len(rec.Secret) == 0 {
		return ErrTwoFactorNotEnabled
	}
	counter, ok, err := s.totp.Match(rec.Secret, code, time.Now())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if !ok {
		return ErrInvalidCode
	}
	if s.config.TwoFactor.EnforceReplayProtection && counter <= rec.LastUsedCounter {
		s.metrics.Inc(MetricTwoFactorReplay)
		return ErrCodeReplay
	}
	if err := s.users.UpdateTOTPLastUsedCounter(ctx, userID, counter); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// consumeBackupCode spends one backup code. Every failure feeds the per-user
// backup limiter independently of any challenge.
func (s *Service) consumeBackupCode(ctx context.Context, userID, code string) error {
	if err := s.backupLimiter.Check(ctx, userID); err != nil {
		if errors.Is(err, limiters.ErrRateLimited) {
			return ErrBackupCodeRateLimited
		}
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}

	canonical := internal.CanonicalizeBackupCode(code)
	ok := false
	if len(canonical) == s.config.TwoFactor.BackupCodeLength {
		var err error
		ok, err = s.users.ConsumeBackupCode(ctx, userID, internal.BackupCodeHash(userID, canonical))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBackend, err)
		}
	}
	if !ok {
		s.metrics.Inc(MetricBackupCodeFailed)
		if err := s.backupLimiter.RecordFailure(ctx, userID); err != nil && !errors.Is(err, limiters.ErrRateLimited) {
			return fmt.Errorf("%w: %v", ErrBackend, err)
		}
		return ErrInvalidCode
	}

	_ = s.backupLimiter.Reset(ctx, userID)
	s.metrics.Inc(MetricBackupCodeUsed)
	return nil
}

// newBackupCodeSet returns the formatted codes shown to the user and the
// records to persist.
func (s *Service) newBackupCodeSet(userID string) ([]string, []BackupCodeRecord, error) {
	issued, err := internal.NewBackupCodes(userID, s.config.TwoFactor.BackupCodeCount, s.config.TwoFactor.BackupCodeLength)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	codes := make([]string, len(issued))
	records := make([]BackupCodeRecord, len(issued))
	for i, c := range issued {
		codes[i] = c.Display
		records[i] = BackupCodeRecord{Hash: c.Hash}
	}
	return codes, records, nil
}
