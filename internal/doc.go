// Package internal contains helpers that are private to goElevate: session
// identifiers, event identifiers and backup code generation.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: pure orchestrators for credential login and session elevation
//   - limiters: Redis failure limiters for backup codes and TOTP submissions
//   - logging: slog construction
//   - rate: Redis login failure counters with CAPTCHA and ban thresholds
//   - stores: Redis stores for pending challenges and server session state
//
// # What this package must NOT do
//
//   - Export types that appear in the public goElevate API.
package internal
