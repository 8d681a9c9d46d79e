package metrics

// HistogramBounds are the finite upper bounds, in seconds, of the latency
// buckets. The last bucket is unbounded.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// Cumulative turns per-bucket counts into running totals, the shape both
// Prometheus and the "le" gauges expect. Entries past BucketCount are
// ignored and missing ones count as zero.
func Cumulative(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var sum uint64
	for i := range out {
		if i < len(raw) {
			sum += raw[i]
		}
		out[i] = sum
	}
	return out
}
