// Package flows contains the sequential orchestrators behind the client's
// multi-step operations.
//
// Each Run function takes a dependency struct of plain functions and returns
// without holding state between calls, so the ordering rules can be tested
// with stubs.
//
// # What this package must NOT do
//
//   - Import goElevate (to avoid import cycles).
//   - Classify server rejections. Callers supply predicates.
//   - Loop unboundedly. Every retry here has a fixed bound.
package flows
