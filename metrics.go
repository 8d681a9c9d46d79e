package goElevate

import "github.com/MrEthical07/goElevate/metrics"

const (
	MetricLoginElevated metrics.ID = iota
	MetricLoginTwoFactorRequired
	MetricLoginRejected
	MetricLoginRateLimited
	MetricLoginCaptchaRetry
	MetricCaptchaAcquired
	MetricCaptchaTimedOut
	MetricCaptchaProviderError
	MetricCaptchaSentinel
	MetricTwoFactorVerified
	MetricTwoFactorFailed
	MetricTwoFactorExpired
	MetricTwoFactorAbandoned
	MetricElevateSuccess
	MetricElevateFailure
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshStale
	MetricSessionInvalidated
	MetricBiometricSuccess
	MetricBiometricFailure
	MetricBridgeReconnect
	MetricBridgeEvent
	MetricBridgeDuplicate
	MetricLoginLatency
	MetricRefreshLatency
)

var metricDefs = []metrics.Def{
	{ID: MetricLoginElevated, Name: "goelevate_client_login_elevated_total", Help: "Logins that ended elevated without a second factor."},
	{ID: MetricLoginTwoFactorRequired, Name: "goelevate_client_login_two_factor_required_total", Help: "Logins that required a second factor."},
	{ID: MetricLoginRejected, Name: "goelevate_client_login_rejected_total", Help: "Rejected logins."},
	{ID: MetricLoginRateLimited, Name: "goelevate_client_login_rate_limited_total", Help: "Rate limited logins."},
	{ID: MetricLoginCaptchaRetry, Name: "goelevate_client_login_captcha_retry_total", Help: "Automatic retries after a CAPTCHA rejection."},
	{ID: MetricCaptchaAcquired, Name: "goelevate_client_captcha_acquired_total", Help: "Bot-mitigation tokens acquired from the provider."},
	{ID: MetricCaptchaTimedOut, Name: "goelevate_client_captcha_timed_out_total", Help: "Token acquisitions that timed out."},
	{ID: MetricCaptchaProviderError, Name: "goelevate_client_captcha_provider_error_total", Help: "Token acquisitions that failed."},
	{ID: MetricCaptchaSentinel, Name: "goelevate_client_captcha_sentinel_total", Help: "Sentinel tokens issued outside production."},
	{ID: MetricTwoFactorVerified, Name: "goelevate_client_two_factor_verified_total", Help: "Challenges that reached VERIFIED."},
	{ID: MetricTwoFactorFailed, Name: "goelevate_client_two_factor_failed_total", Help: "Rejected second factor submissions."},
	{ID: MetricTwoFactorExpired, Name: "goelevate_client_two_factor_expired_total", Help: "Challenges that reached EXPIRED."},
	{ID: MetricTwoFactorAbandoned, Name: "goelevate_client_two_factor_abandoned_total", Help: "Challenges abandoned by the user."},
	{ID: MetricElevateSuccess, Name: "goelevate_client_elevate_success_total", Help: "Confirmed elevations."},
	{ID: MetricElevateFailure, Name: "goelevate_client_elevate_failure_total", Help: "Elevations that did not confirm."},
	{ID: MetricRefreshSuccess, Name: "goelevate_client_refresh_success_total", Help: "Session reads applied."},
	{ID: MetricRefreshFailure, Name: "goelevate_client_refresh_failure_total", Help: "Session reads that failed without an answer."},
	{ID: MetricRefreshStale, Name: "goelevate_client_refresh_stale_total", Help: "Session reads discarded as older than the applied one."},
	{ID: MetricSessionInvalidated, Name: "goelevate_client_session_invalidated_total", Help: "Authenticated to unauthenticated transitions."},
	{ID: MetricBiometricSuccess, Name: "goelevate_client_biometric_success_total", Help: "Successful biometric prompts."},
	{ID: MetricBiometricFailure, Name: "goelevate_client_biometric_failure_total", Help: "Failed or cancelled biometric prompts."},
	{ID: MetricBridgeReconnect, Name: "goelevate_client_bridge_reconnect_total", Help: "Push transport reconnects."},
	{ID: MetricBridgeEvent, Name: "goelevate_client_bridge_event_total", Help: "Push events dispatched."},
	{ID: MetricBridgeDuplicate, Name: "goelevate_client_bridge_duplicate_total", Help: "Redelivered push events dropped."},
	{ID: MetricLoginLatency, Name: "goelevate_client_login_latency_seconds", Help: "Credential verification latency.", Histogram: true},
	{ID: MetricRefreshLatency, Name: "goelevate_client_refresh_latency_seconds", Help: "Session refresh latency.", Histogram: true},
}

// MetricsSnapshot returns a point-in-time copy of the client counters.
func (c *Client) MetricsSnapshot() metrics.Snapshot {
	return c.metrics.Snapshot()
}

func (c *Client) MetricDefs() []metrics.Def {
	return c.metrics.Defs()
}

func (c *Client) AuditDropped() uint64 {
	return c.audit.Dropped()
}
