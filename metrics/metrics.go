package metrics

import (
	"sync/atomic"
	"time"
)

// ID identifies one counter or histogram inside a [Set].
type ID uint16

// Def binds an [ID] to its exported name and help text.
type Def struct {
	ID        ID
	Name      string
	Help      string
	Histogram bool
}

// Source is implemented by anything that can hand out a metrics snapshot
// together with the definitions needed to name it. AuditDropped reports audit
// events lost to dispatcher backpressure.
type Source interface {
	MetricsSnapshot() Snapshot
	MetricDefs() []Def
	AuditDropped() uint64
}

const (
	// BucketCount is the fixed number of latency buckets per histogram.
	BucketCount   = 8
	cacheLineSize = 64
)

type histogram struct {
	buckets [BucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Set holds one padded atomic counter per definition and an optional
// latency histogram for definitions flagged as histograms.
type Set struct {
	enabled       bool
	enableLatency bool
	defs          []Def
	counters      []paddedCounter
	histograms    []histogram
	isHistogram   []bool
}

// Snapshot is a point-in-time copy of a [Set].
type Snapshot struct {
	Counters   map[ID]uint64
	Histograms map[ID][]uint64
}

// NewSet sizes a set for the highest ID in defs. A disabled set accepts
// calls and records nothing.
func NewSet(enabled, latency bool, defs []Def) *Set {
	size := 0
	for _, d := range defs {
		if int(d.ID)+1 > size {
			size = int(d.ID) + 1
		}
	}
	s := &Set{
		enabled:       enabled,
		enableLatency: enabled && latency,
		defs:          append([]Def(nil), defs...),
		counters:      make([]paddedCounter, size),
		histograms:    make([]histogram, size),
		isHistogram:   make([]bool, size),
	}
	for _, d := range defs {
		s.isHistogram[d.ID] = d.Histogram
	}
	return s
}

// Enabled reports whether the set records anything.
func (s *Set) Enabled() bool {
	return s != nil && s.enabled
}

// Defs returns the definition table the set was built from.
func (s *Set) Defs() []Def {
	if s == nil {
		return nil
	}
	return append([]Def(nil), s.defs...)
}

// Inc adds one to the counter for id.
func (s *Set) Inc(id ID) {
	if s == nil || !s.enabled || int(id) >= len(s.counters) {
		return
	}
	atomic.AddUint64(&s.counters[id].value, 1)
}

// Observe records d into the histogram for id. Non-histogram IDs are ignored.
func (s *Set) Observe(id ID, d time.Duration) {
	if s == nil || !s.enableLatency || int(id) >= len(s.histograms) || !s.isHistogram[id] {
		return
	}
	atomic.AddUint64(&s.histograms[id].buckets[bucketIndex(d)], 1)
}

// Value returns the current counter value for id.
func (s *Set) Value(id ID) uint64 {
	if s == nil || int(id) >= len(s.counters) {
		return 0
	}
	return atomic.LoadUint64(&s.counters[id].value)
}

// Snapshot copies every counter and, when latency is enabled, every histogram.
func (s *Set) Snapshot() Snapshot {
	if s == nil || !s.enabled {
		return Snapshot{
			Counters:   map[ID]uint64{},
			Histograms: map[ID][]uint64{},
		}
	}

	out := Snapshot{
		Counters:   make(map[ID]uint64, len(s.defs)),
		Histograms: make(map[ID][]uint64),
	}
	for _, d := range s.defs {
		if d.Histogram {
			if !s.enableLatency {
				continue
			}
			buckets := make([]uint64, BucketCount)
			for i := 0; i < BucketCount; i++ {
				buckets[i] = atomic.LoadUint64(&s.histograms[d.ID].buckets[i])
			}
			out.Histograms[d.ID] = buckets
			continue
		}
		out.Counters[d.ID] = atomic.LoadUint64(&s.counters[d.ID].value)
	}
	return out
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
