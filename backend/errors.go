package backend

import "errors"

var (
	ErrEngineNotReady     = errors.New("backend not initialized")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrCaptchaRequired    = errors.New("captcha required")
	ErrCaptchaInvalid     = errors.New("captcha invalid")
	ErrRateLimited        = errors.New("rate limited")
	ErrUserNotFound       = errors.New("user not found")

	// ErrUnauthenticated means the session token is missing, invalid or its
	// session is gone. Clients must restart at login.
	ErrUnauthenticated = errors.New("unauthenticated")

	ErrChallengeExpired     = errors.New("two-factor challenge expired")
	ErrAttemptsExceeded     = errors.New("two-factor attempts exceeded")
	ErrInvalidCode          = errors.New("invalid two-factor code")
	ErrCodeReplay           = errors.New("two-factor code already used")
	ErrSecondFactorRequired = errors.New("second factor required")
	ErrNotElevated          = errors.New("session not elevated")

	ErrTwoFactorNotEnabled     = errors.New("two-factor not enabled")
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor already enabled")
	ErrSetupNotStarted         = errors.New("two-factor setup not started")
	ErrBackupCodeRateLimited   = errors.New("backup code rate limited")
	ErrTOTPRateLimited         = errors.New("totp rate limited")
	ErrUnsupportedMethod       = errors.New("unsupported two-factor method")

	ErrBackend = errors.New("backend unavailable")
)
