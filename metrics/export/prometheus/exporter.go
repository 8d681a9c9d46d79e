package prometheus

import (
	"net/http"

	"github.com/MrEthical07/goElevate/metrics"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector adapts a [metrics.Source] to prometheus.Collector.
type Collector struct {
	source  metrics.Source
	defs    []metrics.Def
	descs   map[metrics.ID]*prom.Desc
	dropped *prom.Desc
}

// NewCollector builds descriptors for every definition source reports.
func NewCollector(namespace string, source metrics.Source) *Collector {
	c := &Collector{
		source: source,
		descs:  make(map[metrics.ID]*prom.Desc),
	}
	if source == nil {
		return c
	}
	c.defs = source.MetricDefs()
	for _, def := range c.defs {
		c.descs[def.ID] = prom.NewDesc(def.Name, def.Help, nil, nil)
	}
	c.dropped = prom.NewDesc(
		namespace+"_audit_dropped_total",
		"Dropped audit events due to dispatcher backpressure.",
		nil, nil,
	)
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prom.Desc) {
	for _, def := range c.defs {
		ch <- c.descs[def.ID]
	}
	if c.dropped != nil {
		ch <- c.dropped
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prom.Metric) {
	if c.source == nil {
		return
	}
	snapshot := c.source.MetricsSnapshot()
	for _, def := range c.defs {
		desc := c.descs[def.ID]
		if !def.Histogram {
			ch <- prom.MustNewConstMetric(desc, prom.CounterValue, float64(snapshot.Counters[def.ID]))
			continue
		}
		cumulative := metrics.Cumulative(snapshot.Histograms[def.ID])
		buckets := make(map[float64]uint64, len(metrics.HistogramBounds))
		for i, bound := range metrics.HistogramBounds {
			buckets[bound] = cumulative[i]
		}
		// bucket midpoints are unknown, so the sum is not tracked
		ch <- prom.MustNewConstHistogram(desc, cumulative[len(cumulative)-1], 0, buckets)
	}
	ch <- prom.MustNewConstMetric(c.dropped, prom.CounterValue, float64(c.source.AuditDropped()))
}

// Handler registers a collector for source on a private registry and serves it.
func Handler(namespace string, source metrics.Source) (http.Handler, error) {
	reg := prom.NewRegistry()
	if err := reg.Register(NewCollector(namespace, source)); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}
