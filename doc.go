// Package goElevate is the client-side authentication state machine shared by
// the web client and both mobile clients of the exchange.
//
// It owns one login attempt from credential submission to an elevated
// session: bot-mitigation tokens, the second factor (TOTP code or single-use
// backup code), session elevation, the device-local biometric gate and the
// post-login destination. A push [Bridge] may force a re-check at any time.
//
// # Architecture boundaries
//
// [Client] is the public surface, assembled by [Builder]. Platform
// differences are adapters: a [Backend] (see transport/rest), a push
// [Transport] (see transport/ws), a [DeviceStore] (see devicestore), an
// optional [CaptchaProvider] and an optional [BiometricAuthenticator]. Web
// clients leave the biometric adapter nil.
//
// The [SessionService] is the only writer of session state. Every change goes
// through [SessionService.Refresh] or [SessionService.Elevate]; other
// components hold a handle to it and read [SessionService.View].
//
// # What this package must NOT do
//
//   - Decide elevation locally. The server view wins over client-reported
//     errors, and network failures never downgrade a session.
//   - Send biometric results or enrollment flags over the network.
//   - Retry rate-limited logins or expired challenges.
package goElevate
