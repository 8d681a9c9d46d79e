// Package rest implements goElevate.Backend over the JSON HTTP surface served
// by backend/httpapi.
//
// Response bodies are read leniently: every field is looked up under its
// camelCase name first and its snake_case name second, and identity fields
// may be flat or nested under "user". Non-2xx answers become
// *goElevate.RejectionError values; 5xx answers and unreadable bodies wrap
// goElevate.ErrServerUnavailable, and requests that never got an answer wrap
// goElevate.ErrNetworkUnavailable.
package rest
