package goElevate

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrChallengeExpired    = errors.New("two-factor challenge expired")
	ErrRateLimited         = errors.New("rate limited")
	ErrBotMitigationFailed = errors.New("bot mitigation failed")
	ErrSessionInvalidated  = errors.New("session invalidated")
	ErrNetworkUnavailable  = errors.New("network unavailable")
	ErrServerUnavailable   = errors.New("server unavailable")

	ErrInvalidInput            = errors.New("invalid input")
	ErrCaptchaRequired         = errors.New("captcha required")
	ErrInvalidCodeFormat       = errors.New("code must be 6 digits")
	ErrInvalidCode             = errors.New("invalid code")
	ErrNoChallenge             = errors.New("no pending two-factor challenge")
	ErrChallengeAbandoned      = errors.New("two-factor challenge abandoned")
	ErrSecondFactorRequired    = errors.New("second factor required")
	ErrElevationUnconfirmed    = errors.New("elevation not confirmed by server")
	ErrNotElevated             = errors.New("session not elevated")
	ErrSetupNotStarted         = errors.New("two-factor setup not started")
	ErrTwoFactorNotEnabled     = errors.New("two-factor not enabled")
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor already enabled")
	ErrBiometricNotEnrolled    = errors.New("biometric not enrolled")
	ErrBiometricUnavailable    = errors.New("biometric authenticator unavailable")
	ErrNotReady                = errors.New("client not ready")
)

// Reason is the server's machine-readable rejection cause.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonInvalidInput         Reason = "invalid_input"
	ReasonInvalidCredentials   Reason = "invalid_credentials"
	ReasonCaptchaRequired      Reason = "captcha_required"
	ReasonCaptchaInvalid       Reason = "captcha_invalid"
	ReasonRateLimited          Reason = "rate_limited"
	ReasonRequiresLogin        Reason = "requires_login"
	ReasonChallengeExpired     Reason = "challenge_expired"
	ReasonAttemptsExceeded     Reason = "attempts_exceeded"
	ReasonInvalidCode          Reason = "invalid_code"
	ReasonCodeReplayed         Reason = "code_replayed"
	ReasonSecondFactorRequired Reason = "second_factor_required"
	ReasonNotElevated          Reason = "not_elevated"
	ReasonTwoFactorNotEnabled  Reason = "two_factor_not_enabled"
	ReasonTwoFactorEnabled     Reason = "two_factor_already_enabled"
	ReasonSetupNotStarted      Reason = "setup_not_started"
	ReasonBotMitigation        Reason = "bot_mitigation_failed"
	ReasonUnknown              Reason = "unknown"
)

// IsCaptcha reports whether the rejection asks for a fresh CAPTCHA token.
func (r Reason) IsCaptcha() bool {
	return r == ReasonCaptchaRequired || r == ReasonCaptchaInvalid
}

var reasonErrors = map[Reason]error{
	ReasonInvalidInput:         ErrInvalidInput,
	ReasonInvalidCredentials:   ErrInvalidCredentials,
	ReasonCaptchaRequired:      ErrCaptchaRequired,
	ReasonCaptchaInvalid:       ErrCaptchaRequired,
	ReasonRateLimited:          ErrRateLimited,
	ReasonRequiresLogin:        ErrSessionInvalidated,
	ReasonChallengeExpired:     ErrChallengeExpired,
	ReasonAttemptsExceeded:     ErrChallengeExpired,
	ReasonInvalidCode:          ErrInvalidCode,
	ReasonCodeReplayed:         ErrInvalidCode,
	ReasonSecondFactorRequired: ErrSecondFactorRequired,
	ReasonNotElevated:          ErrNotElevated,
	ReasonTwoFactorNotEnabled:  ErrTwoFactorNotEnabled,
	ReasonTwoFactorEnabled:     ErrTwoFactorAlreadyEnabled,
	ReasonSetupNotStarted:      ErrSetupNotStarted,
	ReasonBotMitigation:        ErrBotMitigationFailed,
}

// RejectionError is a server rejection decoded by a [Backend] adapter.
// It unwraps to the sentinel matching Reason, so callers test it with
// errors.Is.
type RejectionError struct {
	Reason            Reason
	Message           string
	RetryAfter        time.Duration
	CaptchaRequired   bool
	AttemptsRemaining int // -1 when the server did not say
}

func (e *RejectionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.Message)
	}
	return string(e.Reason)
}

func (e *RejectionError) Unwrap() error {
	if err, ok := reasonErrors[e.Reason]; ok {
		return err
	}
	return ErrServerUnavailable
}

// AsRejection extracts a RejectionError from err.
func AsRejection(err error) (*RejectionError, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// isTransient reports whether err means "no fresh answer" rather than an
// authoritative server decision.
func isTransient(err error) bool {
	return errors.Is(err, ErrNetworkUnavailable) || errors.Is(err, ErrServerUnavailable)
}
