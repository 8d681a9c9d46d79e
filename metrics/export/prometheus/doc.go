// Package prometheus exposes goElevate metric sets through
// github.com/prometheus/client_golang.
//
// [Collector] implements prometheus.Collector: counters become const
// counters and latency histograms become const histograms with the fixed
// bucket bounds from the metrics package. [Handler] serves a dedicated
// registry with promhttp.
package prometheus
