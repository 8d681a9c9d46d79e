// Package otel provides OpenTelemetry metric exporter bindings for goElevate
// metric sets.
//
// [NewExporter] registers an Int64ObservableCounter for every counter
// definition a [metrics.Source] reports and an Int64ObservableGauge per
// histogram bucket. A single callback reads the snapshot on each collection
// cycle.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider. Callers supply the Meter.
//   - Mutate client or backend state.
package otel
