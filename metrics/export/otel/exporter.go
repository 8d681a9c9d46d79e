package otel

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/MrEthical07/goElevate/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// bucketLabels are the "le" attribute sets, one per bucket, cumulative
// like Prometheus.
var bucketLabels = func() [metrics.BucketCount]metric.ObserveOption {
	var out [metrics.BucketCount]metric.ObserveOption
	for i := range out {
		le := "+Inf"
		if i < len(metrics.HistogramBounds) {
			le = strconv.FormatFloat(metrics.HistogramBounds[i], 'g', -1, 64)
		}
		out[i] = metric.WithAttributeSet(attribute.NewSet(attribute.String("le", le)))
	}
	return out
}()

// observeFunc reports one definition from a snapshot.
type observeFunc func(metrics.Snapshot, metric.Observer)

// Exporter bridges a [metrics.Source] to OpenTelemetry observable
// instruments. Counters map to observable counters. A latency histogram
// maps to a "<name>_bucket" gauge carrying an "le" attribute plus a
// "<name>_count" counter.
type Exporter struct {
	registration metric.Registration
}

// NewExporter registers instruments for every definition in source. The
// namespace prefixes the audit drop counter (namespace_audit_dropped_total).
func NewExporter(meter metric.Meter, namespace string, source metrics.Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	var (
		observers   []observeFunc
		instruments []metric.Observable
	)
	for _, def := range source.MetricDefs() {
		fn, ins, err := bind(meter, def)
		if err != nil {
			return nil, err
		}
		observers = append(observers, fn)
		instruments = append(instruments, ins...)
	}

	dropped, err := meter.Int64ObservableCounter(namespace+"_audit_dropped_total",
		metric.WithDescription("Audit events dropped under dispatcher backpressure."))
	if err != nil {
		return nil, fmt.Errorf("audit dropped counter: %w", err)
	}
	instruments = append(instruments, dropped)

	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		snap := source.MetricsSnapshot()
		for _, fn := range observers {
			fn(snap, o)
		}
		o.ObserveInt64(dropped, int64(source.AuditDropped()))
		return nil
	}, instruments...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return &Exporter{registration: reg}, nil
}

func bind(meter metric.Meter, def metrics.Def) (observeFunc, []metric.Observable, error) {
	id := def.ID
	if !def.Histogram {
		c, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, nil, fmt.Errorf("counter %s: %w", def.Name, err)
		}
		return func(s metrics.Snapshot, o metric.Observer) {
			o.ObserveInt64(c, int64(s.Counters[id]))
		}, []metric.Observable{c}, nil
	}

	buckets, err := meter.Int64ObservableGauge(def.Name+"_bucket",
		metric.WithDescription(def.Help+" Cumulative count per upper bound."))
	if err != nil {
		return nil, nil, fmt.Errorf("histogram %s: %w", def.Name, err)
	}
	count, err := meter.Int64ObservableCounter(def.Name+"_count",
		metric.WithDescription(def.Help+" Sample count."))
	if err != nil {
		return nil, nil, fmt.Errorf("histogram %s: %w", def.Name, err)
	}
	return func(s metrics.Snapshot, o metric.Observer) {
		cum := metrics.Cumulative(s.Histograms[id])
		for i, v := range cum {
			o.ObserveInt64(buckets, int64(v), bucketLabels[i])
		}
		o.ObserveInt64(count, int64(cum[len(cum)-1]))
	}, []metric.Observable{buckets, count}, nil
}

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
