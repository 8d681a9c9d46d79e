// Package audit implements async event dispatching for login, challenge and
// elevation outcomes.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, slog, Redis stream, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full or block-if-full semantics.
//   - [Event]: structured audit record.
//
// The client state machine and the reference backend each own a dispatcher.
// Neither ever puts passwords, codes or tokens into an Event.
//
// # What this package must NOT do
//
//   - Decide which events to emit.
//   - Import goElevate, backend or any sibling internal package.
package audit
