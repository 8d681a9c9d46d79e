package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MrEthical07/goElevate/internal"
	"github.com/MrEthical07/goElevate/internal/rate"
	"github.com/MrEthical07/goElevate/internal/stores"
	"github.com/MrEthical07/goElevate/password"
)

// Login verifies credentials and issues a session token.
//
// The returned LoginResult is meaningful on failure too: CaptchaRequired is
// set once the caller crossed the CAPTCHA threshold and RetryAfter accompanies
// ErrRateLimited. Rejections never reveal whether the username exists.
func (s *Service) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	start := time.Now()
	defer func() { s.metrics.Observe(MetricLoginLatency, time.Since(start)) }()

	username := strings.TrimSpace(in.Username)
	if !s.validCredentialShape(username, in.Password) {
		return LoginResult{}, ErrInvalidInput
	}

	decision, err := s.loginLimiter.Check(ctx, username, in.IP)
	if err != nil {
		return LoginResult{}, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if decision.Banned {
		s.metrics.Inc(MetricLoginRateLimited)
		s.emitAudit(ctx, "login_rate_limited", false, "", "", in.IP, ErrRateLimited, nil)
		return LoginResult{CaptchaRequired: true, RetryAfter: decision.RetryAfter}, ErrRateLimited
	}

	// Below the threshold a supplied token is still checked; an absent one
	// is tolerated so degraded clients can log in.
	if decision.CaptchaRequired || in.CaptchaToken != "" {
		if err := s.verifyCaptcha(ctx, in.CaptchaToken, in.IP); err != nil {
			if errors.Is(err, ErrCaptchaRequired) {
				s.metrics.Inc(MetricLoginCaptchaRequired)
			} else {
				s.metrics.Inc(MetricLoginCaptchaInvalid)
			}
			s.emitAudit(ctx, "login_captcha_rejected", false, "", "", in.IP, err, nil)
			return LoginResult{CaptchaRequired: true}, err
		}
	}

	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return LoginResult{}, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	var check password.Result
	if err == nil {
		check, err = s.passwordHash.Check(in.Password, user.PasswordHash)
		if err != nil {
			s.logger.Error("stored password hash unusable", "user_id", user.UserID, "error", err)
		}
	} else {
		s.passwordHash.Burn(in.Password)
	}
	if !check.Match {
		return s.recordLoginFailure(ctx, username, in.IP, user.UserID)
	}

	if err := s.loginLimiter.Reset(ctx, username, in.IP); err != nil {
		s.logger.Warn("login limiter reset failed", "error", err)
	}
	if check.Rehash {
		s.upgradePassword(ctx, user.UserID, in.Password)
	}

	token, sid, err := s.issueSession(ctx, user.UserID, !user.TwoFactorEnabled)
	if err != nil {
		return LoginResult{}, err
	}

	s.metrics.Inc(MetricLoginSuccess)
	result := LoginResult{Token: token, UserID: user.UserID}
	if user.TwoFactorEnabled {
		if err := s.challenges.Open(ctx, user.UserID, sid, s.config.TwoFactor.ChallengeTTL); err != nil {
			_ = s.sessions.Delete(ctx, sid)
			return LoginResult{}, fmt.Errorf("%w: %v", ErrBackend, err)
		}
		s.metrics.Inc(MetricTwoFactorRequired)
		result.RequiresTwoFactor = true
		s.emitAudit(ctx, "login_two_factor_required", true, user.UserID, sid, in.IP, nil, nil)
		return result, nil
	}

	result.User = identityFromUser(user)
	s.emitAudit(ctx, "login_success", true, user.UserID, sid, in.IP, nil, nil)
	return result, nil
}

// Logout deletes the session behind token. Unknown tokens are not an error.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := s.jwt.Parse(token)
	if err != nil {
		return nil
	}
	if err := s.sessions.Delete(ctx, claims.SID); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if ok, _ := s.challenges.Delete(ctx, claims.UID); ok {
		s.logger.Debug("pending challenge dropped on logout", "user_id", claims.UID)
	}
	s.emitAudit(ctx, "logout", true, claims.UID, claims.SID, "", nil, nil)
	return nil
}

func (s *Service) recordLoginFailure(ctx context.Context, username, ip, userID string) (LoginResult, error) {
	decision, err := s.loginLimiter.RecordFailure(ctx, username, ip)
	if err != nil && !errors.Is(err, rate.ErrRateLimited) {
		return LoginResult{}, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	s.metrics.Inc(MetricLoginFailure)
	s.emitAudit(ctx, "login_failure", false, userID, "", ip, ErrInvalidCredentials, nil)
	if decision.Banned {
		s.metrics.Inc(MetricLoginRateLimited)
		return LoginResult{CaptchaRequired: true, RetryAfter: decision.RetryAfter}, ErrRateLimited
	}
	return LoginResult{CaptchaRequired: decision.CaptchaRequired}, ErrInvalidCredentials
}

func (s *Service) issueSession(ctx context.Context, userID string, secondFactorPassed bool) (string, string, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrBackend, err)
	}
	state := stores.SessionState{
		SessionID:          sid.String(),
		UserID:             userID,
		SecondFactorPassed: secondFactorPassed,
		CreatedAt:          time.Now().UTC(),
	}
	if err := s.sessions.Create(ctx, state, s.config.Session.TTL); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrBackend, err)
	}
	token, err := s.jwt.Issue(userID, state.SessionID)
	if err != nil {
		_ = s.sessions.Delete(ctx, state.SessionID)
		return "", "", fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return token, state.SessionID, nil
}

func (s *Service) upgradePassword(ctx context.Context, userID, pw string) {
	hash, err := s.passwordHash.Hash(pw)
	if err != nil {
		return
	}
	if err := s.users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		s.logger.Warn("password rehash failed", "user_id", userID, "error", err)
	}
}

func (s *Service) validCredentialShape(username, pw string) bool {
	l := s.config.Login
	u := utf8.RuneCountInString(username)
	p := utf8.RuneCountInString(pw)
	return u >= l.MinUsernameLength && u <= l.MaxUsernameLength &&
		p >= l.MinPasswordLength && p <= l.MaxPasswordLength
}
