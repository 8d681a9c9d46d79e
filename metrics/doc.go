// Package metrics provides lock-free counter and latency histogram sets.
//
// A [Set] is built from a definition table ([Def]) owned by the caller: the
// client state machine and the reference backend each declare their own IDs
// and export names, and the exporters under metrics/export read any [Source].
//
// # What this package must NOT do
//
//   - Import goElevate or backend (definitions flow in, never out).
//   - Allocate on the Inc/Observe hot path.
package metrics
