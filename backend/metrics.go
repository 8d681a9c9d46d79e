package backend

import "github.com/MrEthical07/goElevate/metrics"

const (
	MetricLoginSuccess metrics.ID = iota
	MetricLoginFailure
	MetricLoginCaptchaRequired
	MetricLoginCaptchaInvalid
	MetricLoginRateLimited
	MetricTwoFactorRequired
	MetricTwoFactorSuccess
	MetricTwoFactorFailure
	MetricTwoFactorAttemptsExceeded
	MetricTwoFactorReplay
	MetricBackupCodeUsed
	MetricBackupCodeFailed
	MetricElevateSuccess
	MetricElevateDenied
	MetricSetupConfirmed
	MetricTwoFactorDisabled
	MetricBackupCodesRegenerated
	MetricSessionsInvalidated
	MetricEventsPublished
	MetricLoginLatency
	MetricVerifyLatency
)

var metricDefs = []metrics.Def{
	{ID: MetricLoginSuccess, Name: "goelevate_backend_login_success_total", Help: "Logins with correct credentials."},
	{ID: MetricLoginFailure, Name: "goelevate_backend_login_failure_total", Help: "Logins rejected for invalid credentials."},
	{ID: MetricLoginCaptchaRequired, Name: "goelevate_backend_login_captcha_required_total", Help: "Logins rejected for a missing CAPTCHA token."},
	{ID: MetricLoginCaptchaInvalid, Name: "goelevate_backend_login_captcha_invalid_total", Help: "Logins rejected for an invalid CAPTCHA token."},
	{ID: MetricLoginRateLimited, Name: "goelevate_backend_login_rate_limited_total", Help: "Logins rejected by the ban threshold."},
	{ID: MetricTwoFactorRequired, Name: "goelevate_backend_two_factor_required_total", Help: "Logins that issued a two-factor challenge."},
	{ID: MetricTwoFactorSuccess, Name: "goelevate_backend_two_factor_success_total", Help: "Accepted two-factor submissions."},
	{ID: MetricTwoFactorFailure, Name: "goelevate_backend_two_factor_failure_total", Help: "Rejected two-factor submissions."},
	{ID: MetricTwoFactorAttemptsExceeded, Name: "goelevate_backend_two_factor_attempts_exceeded_total", Help: "Challenges expired by the attempt cap."},
	{ID: MetricTwoFactorReplay, Name: "goelevate_backend_two_factor_replay_total", Help: "TOTP codes rejected as replays."},
	{ID: MetricBackupCodeUsed, Name: "goelevate_backend_backup_code_used_total", Help: "Backup codes consumed."},
	{ID: MetricBackupCodeFailed, Name: "goelevate_backend_backup_code_failed_total", Help: "Backup code submissions rejected."},
	{ID: MetricElevateSuccess, Name: "goelevate_backend_elevate_success_total", Help: "Session elevation requests granted."},
	{ID: MetricElevateDenied, Name: "goelevate_backend_elevate_denied_total", Help: "Session elevation requests denied."},
	{ID: MetricSetupConfirmed, Name: "goelevate_backend_setup_confirmed_total", Help: "Two-factor enrollments confirmed."},
	{ID: MetricTwoFactorDisabled, Name: "goelevate_backend_two_factor_disabled_total", Help: "Two-factor removals."},
	{ID: MetricBackupCodesRegenerated, Name: "goelevate_backend_backup_codes_regenerated_total", Help: "Backup code set regenerations."},
	{ID: MetricSessionsInvalidated, Name: "goelevate_backend_sessions_invalidated_total", Help: "Sessions removed by invalidation."},
	{ID: MetricEventsPublished, Name: "goelevate_backend_events_published_total", Help: "Push events published."},
	{ID: MetricLoginLatency, Name: "goelevate_backend_login_latency_seconds", Help: "Login latency.", Histogram: true},
	{ID: MetricVerifyLatency, Name: "goelevate_backend_verify_latency_seconds", Help: "Two-factor verification latency.", Histogram: true},
}

// MetricsSnapshot returns a point-in-time copy of the backend counters.
func (s *Service) MetricsSnapshot() metrics.Snapshot {
	return s.metrics.Snapshot()
}

// MetricDefs returns the backend metric definitions.
func (s *Service) MetricDefs() []metrics.Def {
	return s.metrics.Defs()
}

// AuditDropped returns how many audit events were lost to backpressure.
func (s *Service) AuditDropped() uint64 {
	return s.audit.Dropped()
}
