// Package stores provides Redis-backed records for the reference backend:
// pending two-factor challenges and server session state.
//
// # Design
//
// Challenge records are versioned, binary-encoded values with a TTL. Failure
// counting uses WATCH/MULTI optimistic transactions with retry on contention;
// a record is deleted once its attempt cap is reached, and successful
// verification deletes it so a code cannot be replayed into the same
// challenge.
//
// Sessions are Redis hashes keyed by session id plus a per-user set index so
// every session of a user can be invalidated at once.
//
// # What this package must NOT do
//
//   - Import goElevate or any sibling internal package.
//   - Store plaintext codes, secrets or passwords.
package stores
