package httpapi

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/MrEthical07/goElevate/backend"
)

// Reason values carried in rejection bodies.
const (
	ReasonInvalidInput         = "invalid_input"
	ReasonInvalidCredentials   = "invalid_credentials"
	ReasonCaptchaRequired      = "captcha_required"
	ReasonCaptchaInvalid       = "captcha_invalid"
	ReasonRateLimited          = "rate_limited"
	ReasonRequiresLogin        = "requires_login"
	ReasonChallengeExpired     = "challenge_expired"
	ReasonAttemptsExceeded     = "attempts_exceeded"
	ReasonInvalidCode          = "invalid_code"
	ReasonCodeReplayed         = "code_replayed"
	ReasonSecondFactorRequired = "second_factor_required"
	ReasonNotElevated          = "not_elevated"
	ReasonTwoFactorNotEnabled  = "two_factor_not_enabled"
	ReasonTwoFactorEnabled     = "two_factor_already_enabled"
	ReasonSetupNotStarted      = "setup_not_started"
	ReasonNotFound             = "not_found"
	ReasonUnavailable          = "server_unavailable"
)

type errorBody struct {
	Success           bool   `json:"success"`
	Reason            string `json:"reason"`
	Message           string `json:"message"`
	CaptchaRequired   bool   `json:"captchaRequired,omitempty"`
	RetryAfter        int    `json:"retryAfter,omitempty"`
	AttemptsRemaining *int   `json:"attemptsRemaining,omitempty"`
	RequiresLogin     bool   `json:"requiresLogin,omitempty"`
}

type errorMapping struct {
	status  int
	reason  string
	message string
}

var errorTable = []struct {
	err error
	errorMapping
}{
	{backend.ErrInvalidInput, errorMapping{http.StatusBadRequest, ReasonInvalidInput, "The request is malformed"}},
	{backend.ErrUnsupportedMethod, errorMapping{http.StatusBadRequest, ReasonInvalidInput, "Unsupported second factor method"}},
	{backend.ErrInvalidCredentials, errorMapping{http.StatusUnauthorized, ReasonInvalidCredentials, "Invalid username or password"}},
	{backend.ErrCaptchaRequired, errorMapping{http.StatusForbidden, ReasonCaptchaRequired, "Complete the CAPTCHA challenge to continue"}},
	{backend.ErrCaptchaInvalid, errorMapping{http.StatusForbidden, ReasonCaptchaInvalid, "CAPTCHA verification failed"}},
	{backend.ErrRateLimited, errorMapping{http.StatusTooManyRequests, ReasonRateLimited, "Too many failed attempts. Try again later"}},
	{backend.ErrBackupCodeRateLimited, errorMapping{http.StatusTooManyRequests, ReasonRateLimited, "Too many backup code attempts. Try again later"}},
	{backend.ErrTOTPRateLimited, errorMapping{http.StatusTooManyRequests, ReasonRateLimited, "Too many code attempts. Try again later"}},
	{backend.ErrUnauthenticated, errorMapping{http.StatusUnauthorized, ReasonRequiresLogin, "Sign in to continue"}},
	{backend.ErrChallengeExpired, errorMapping{http.StatusGone, ReasonChallengeExpired, "The verification request expired. Sign in again"}},
	{backend.ErrAttemptsExceeded, errorMapping{http.StatusGone, ReasonAttemptsExceeded, "Too many incorrect codes. Sign in again"}},
	{backend.ErrInvalidCode, errorMapping{http.StatusUnprocessableEntity, ReasonInvalidCode, "The code is incorrect"}},
	{backend.ErrCodeReplay, errorMapping{http.StatusUnprocessableEntity, ReasonCodeReplayed, "The code was already used. Wait for the next one"}},
	{backend.ErrSecondFactorRequired, errorMapping{http.StatusForbidden, ReasonSecondFactorRequired, "Second factor verification is required"}},
	{backend.ErrNotElevated, errorMapping{http.StatusForbidden, ReasonNotElevated, "Verify your second factor first"}},
	{backend.ErrTwoFactorNotEnabled, errorMapping{http.StatusConflict, ReasonTwoFactorNotEnabled, "Two-factor authentication is not enabled"}},
	{backend.ErrTwoFactorAlreadyEnabled, errorMapping{http.StatusConflict, ReasonTwoFactorEnabled, "Two-factor authentication is already enabled"}},
	{backend.ErrSetupNotStarted, errorMapping{http.StatusConflict, ReasonSetupNotStarted, "Start two-factor setup first"}},
	{backend.ErrUserNotFound, errorMapping{http.StatusNotFound, ReasonNotFound, "Not found"}},
}

func mapError(err error) errorMapping {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			return e.errorMapping
		}
	}
	return errorMapping{http.StatusServiceUnavailable, ReasonUnavailable, "The service is temporarily unavailable"}
}

// writeError renders err with the optional login and verify context.
func writeError(w http.ResponseWriter, err error, login *backend.LoginResult, verify *backend.VerifyResult) {
	m := mapError(err)
	body := errorBody{
		Reason:        m.reason,
		Message:       m.message,
		RequiresLogin: m.reason == ReasonRequiresLogin,
	}
	if login != nil {
		body.CaptchaRequired = login.CaptchaRequired || m.reason == ReasonCaptchaRequired
		if login.RetryAfter > 0 {
			body.RetryAfter = retrySeconds(login.RetryAfter)
			w.Header().Set("Retry-After", strconv.Itoa(body.RetryAfter))
		}
	}
	if verify != nil && (m.reason == ReasonInvalidCode || m.reason == ReasonCodeReplayed) {
		remaining := verify.AttemptsRemaining
		body.AttemptsRemaining = &remaining
	}
	writeJSON(w, m.status, body)
}

func retrySeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
