// Package rate provides the Redis-backed login failure counters that drive
// bot-mitigation escalation on the reference backend.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - gl:u: login failures per username
//   - gl:i: login failures per client IP
//
// A counter at or above CaptchaThreshold demands a valid CAPTCHA token even
// for correct credentials. At BanThreshold the identity is rate limited until
// the window expires.
//
// # What this package must NOT do
//
//   - Verify CAPTCHA tokens or passwords.
//   - Be imported outside the goElevate module.
package rate
