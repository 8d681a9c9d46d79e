// Package backend is the authoritative counterpart of the goElevate client
// state machine: a Redis-backed engine implementing login with bot-mitigation
// escalation, two-factor challenges, session elevation, two-factor
// enrollment and push notifications.
//
// # Flow
//
//  1. [Service.Login] verifies credentials. Failed attempts raise per-username
//     and per-IP counters; past Config.Login.CaptchaThreshold a valid CAPTCHA
//     token is mandatory, past BanThreshold the caller is rate limited.
//  2. Correct credentials always issue a session token. For users with two
//     factor enabled the session starts without its second factor and a
//     pending challenge is stored.
//  3. [Service.VerifyTwoFactor] accepts a TOTP code or a single-use backup
//     code and marks the session's second factor as passed.
//  4. [Service.ElevateSession] and [Service.SessionView] expose the result.
//
// Enrollment ([Service.BeginSetup], [Service.ConfirmSetup]), removal and
// backup code regeneration require an elevated session.
//
// # Architecture boundaries
//
// Persistence of user records is delegated to a [UserProvider]. Push events
// leave through a [Publisher] (see backend/push). HTTP exposure lives in
// backend/httpapi.
package backend
