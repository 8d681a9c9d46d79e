package goElevate

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/MrEthical07/goElevate/internal/flows"
	"github.com/MrEthical07/goElevate/metrics"
)

// User-facing rejection texts. Credential failures never say which field
// was wrong.
const (
	msgInvalidInput       = "Enter a valid username and password."
	msgInvalidCredentials = "Incorrect username or password."
	msgCaptcha            = "Complete the security check and try again."
	msgRejected           = "Sign-in was rejected."
)

// CredentialVerifier submits credentials and tracks local failures per
// username.
type CredentialVerifier struct {
	backend Backend
	gate    *BotGate
	cfg     Config
	metrics *metrics.Set
	audit   emitter
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	attempts map[string]*LoginAttempt
}

func newCredentialVerifier(b Backend, gate *BotGate, cfg Config, m *metrics.Set, a emitter, logger *slog.Logger) *CredentialVerifier {
	return &CredentialVerifier{
		backend:  b,
		gate:     gate,
		cfg:      cfg,
		metrics:  m,
		audit:    a,
		logger:   logger,
		now:      time.Now,
		attempts: make(map[string]*LoginAttempt),
	}
}

// Attempt returns the local failure record for username.
func (v *CredentialVerifier) Attempt(username string) (LoginAttempt, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	a, ok := v.attempts[attemptKey(username)]
	if !ok {
		return LoginAttempt{}, false
	}
	return *a, true
}

// Verify submits one credential pair. Rejections and rate limits are
// outcomes, not errors; the error return carries network and server
// failures and [ErrBotMitigationFailed].
func (v *CredentialVerifier) Verify(ctx context.Context, username, password string) (LoginOutcome, error) {
	username = strings.TrimSpace(username)
	if !v.validLengths(username, password) {
		v.metrics.Inc(MetricLoginRejected)
		return LoginOutcome{Kind: OutcomeRejected, Reason: ReasonInvalidInput, Message: msgInvalidInput}, nil
	}

	key := attemptKey(username)
	v.mu.Lock()
	attempt := v.recordLocked(key, username)
	attempt.LastAttemptAt = v.now()
	captchaRequired := attempt.CaptchaRequired
	v.mu.Unlock()

	var resp LoginResponse
	deps := flows.CredentialDeps{
		Login: func(ctx context.Context, token string) error {
			r, err := v.backend.Login(ctx, LoginRequest{
				Username:       username,
				Password:       password,
				ChallengeToken: token,
			})
			resp = r
			return err
		},
		Escalate: v.gate.Escalate,
		IsCaptchaRejection: func(err error) bool {
			rej, ok := AsRejection(err)
			return ok && rej.Reason.IsCaptcha()
		},
		AllowWithoutToken: v.cfg.degradedAllowed(),
		OnCaptchaRetry:    func() { v.metrics.Inc(MetricLoginCaptchaRetry) },
		Errors:            flows.CredentialErrors{BotMitigationFailed: ErrBotMitigationFailed},
	}
	if v.gate.Configured() {
		deps.AcquireToken = func(ctx context.Context, visible bool) (string, bool) {
			res := v.gate.AcquireToken(ctx, v.cfg.BotMitigation.Timeout)
			if !res.OK() {
				return "", false
			}
			return res.Token.Value, true
		}
	}

	start := v.now()
	_, err := flows.RunCredentialLogin(ctx, deps, flows.CredentialInput{CaptchaRequired: captchaRequired})
	v.metrics.Observe(MetricLoginLatency, v.now().Sub(start))

	if err != nil {
		out, handled := v.rejected(key, username, err)
		if !handled {
			v.logger.Warn("login failed", "error", err)
			return LoginOutcome{}, err
		}
		v.audit.emit(ctx, auditLoginOutcome, false, "", err, map[string]string{"outcome": out.Kind.String()})
		return out, nil
	}

	v.mu.Lock()
	delete(v.attempts, key)
	v.mu.Unlock()
	v.gate.Reset()

	if resp.RequiresTwoFactor {
		v.metrics.Inc(MetricLoginTwoFactorRequired)
		v.audit.emit(ctx, auditLoginOutcome, true, resp.UserID, nil, map[string]string{"outcome": OutcomeTwoFactorRequired.String()})
		return LoginOutcome{Kind: OutcomeTwoFactorRequired, UserID: resp.UserID, Message: resp.Message, token: resp.Token}, nil
	}

	id := resp.Identity
	if id.ID == "" {
		id.ID = resp.UserID
	}
	v.metrics.Inc(MetricLoginElevated)
	v.audit.emit(ctx, auditLoginOutcome, true, id.ID, nil, map[string]string{"outcome": OutcomeElevated.String()})
	return LoginOutcome{Kind: OutcomeElevated, Identity: &id, UserID: id.ID, Message: resp.Message, token: resp.Token}, nil
}

// rejected maps a server rejection to an outcome and updates the local
// attempt record.
func (v *CredentialVerifier) rejected(key, username string, err error) (LoginOutcome, bool) {
	rej, ok := AsRejection(err)
	if !ok {
		return LoginOutcome{}, false
	}

	switch {
	case rej.Reason == ReasonRateLimited:
		v.metrics.Inc(MetricLoginRateLimited)
		return LoginOutcome{
			Kind:       OutcomeRateLimited,
			Reason:     rej.Reason,
			Message:    rej.Message,
			RetryAfter: rej.RetryAfter,
		}, true

	case rej.Reason == ReasonInvalidCredentials:
		v.mu.Lock()
		a := v.recordLocked(key, username)
		a.Failures++
		if rej.CaptchaRequired || a.Failures >= v.cfg.Credentials.CaptchaThreshold {
			a.CaptchaRequired = true
		}
		captcha := a.CaptchaRequired
		v.mu.Unlock()
		if captcha {
			v.gate.Escalate()
		}
		v.metrics.Inc(MetricLoginRejected)
		return LoginOutcome{
			Kind:            OutcomeRejected,
			Reason:          ReasonInvalidCredentials,
			Message:         msgInvalidCredentials,
			CaptchaRequired: captcha,
		}, true

	case rej.Reason.IsCaptcha():
		v.mu.Lock()
		v.recordLocked(key, username).CaptchaRequired = true
		v.mu.Unlock()
		v.gate.Escalate()
		v.metrics.Inc(MetricLoginRejected)
		return LoginOutcome{
			Kind:            OutcomeRejected,
			Reason:          rej.Reason,
			Message:         msgCaptcha,
			CaptchaRequired: true,
		}, true

	case rej.Reason == ReasonInvalidInput:
		v.metrics.Inc(MetricLoginRejected)
		return LoginOutcome{Kind: OutcomeRejected, Reason: rej.Reason, Message: msgInvalidInput}, true

	case errors.Is(rej, ErrServerUnavailable):
		return LoginOutcome{}, false

	default:
		v.metrics.Inc(MetricLoginRejected)
		msg := rej.Message
		if msg == "" {
			msg = msgRejected
		}
		return LoginOutcome{Kind: OutcomeRejected, Reason: rej.Reason, Message: msg, CaptchaRequired: rej.CaptchaRequired}, true
	}
}

// recordLocked returns the attempt record for key, creating it when absent.
// A concurrent successful login may have removed it. v.mu must be held.
func (v *CredentialVerifier) recordLocked(key, username string) *LoginAttempt {
	a, ok := v.attempts[key]
	if !ok {
		a = &LoginAttempt{Username: username}
		v.attempts[key] = a
	}
	return a
}

func (v *CredentialVerifier) validLengths(username, password string) bool {
	c := v.cfg.Credentials
	u := utf8.RuneCountInString(username)
	p := utf8.RuneCountInString(password)
	return u >= c.MinUsernameLength && u <= c.MaxUsernameLength &&
		p >= c.MinPasswordLength && p <= c.MaxPasswordLength
}

func attemptKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
