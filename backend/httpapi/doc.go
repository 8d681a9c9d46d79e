// Package httpapi exposes a [backend.Service] over HTTP.
//
// All payloads are camelCase JSON. Authenticated routes read the session
// token from "Authorization: Bearer <token>"; the push endpoint also accepts
// an access_token query parameter because browsers cannot set headers on a
// websocket handshake.
//
// Rejections carry a machine-readable reason next to a human message:
//
//	{"success":false,"reason":"captcha_required","message":"...","captchaRequired":true}
//
// The reason never distinguishes an unknown username from a wrong password.
package httpapi
