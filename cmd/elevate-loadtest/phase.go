package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type phaseResult struct {
	name     string
	elapsed  time.Duration
	samples  []time.Duration
	failures int
	firstErr error
}

// runPhase feeds indices [0, n) to workers and gathers per-worker samples.
func runPhase(name string, n, workers int, op func(i int) error) phaseResult {
	jobs := make(chan int)
	go func() {
		defer close(jobs)
		for i := range n {
			jobs <- i
		}
	}()

	type tally struct {
		samples  []time.Duration
		failures int
		firstErr error
	}
	tallies := make([]tally, min(workers, max(n, 1)))

	start := time.Now()
	var wg sync.WaitGroup
	for w := range tallies {
		wg.Add(1)
		go func(t *tally) {
			defer wg.Done()
			for i := range jobs {
				t0 := time.Now()
				err := op(i)
				t.samples = append(t.samples, time.Since(t0))
				if err != nil {
					t.failures++
					if t.firstErr == nil {
						t.firstErr = err
					}
				}
			}
		}(&tallies[w])
	}
	wg.Wait()

	res := phaseResult{name: name, elapsed: time.Since(start)}
	for _, t := range tallies {
		res.samples = append(res.samples, t.samples...)
		res.failures += t.failures
		if res.firstErr == nil {
			res.firstErr = t.firstErr
		}
	}
	slices.Sort(res.samples)
	return res
}

// quantile expects sorted samples.
func quantile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[int(q*float64(len(sorted)-1))]
}

func printReport(w io.Writer, phases []phaseResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "phase\tops\tfailed\telapsed\tops/s\tp50\tp95\tp99\t")
	for _, p := range phases {
		rate := 0.0
		if p.elapsed > 0 {
			rate = float64(len(p.samples)) / p.elapsed.Seconds()
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%.0f\t%s\t%s\t%s\t\n",
			p.name, len(p.samples), p.failures, p.elapsed.Round(time.Millisecond), rate,
			quantile(p.samples, 0.50).Round(time.Microsecond),
			quantile(p.samples, 0.95).Round(time.Microsecond),
			quantile(p.samples, 0.99).Round(time.Microsecond))
	}
	_ = tw.Flush()
	for _, p := range phases {
		if p.firstErr != nil {
			fmt.Fprintf(w, "%s: first failure: %v\n", p.name, p.firstErr)
		}
	}
}

// printMetrics collects once and prints non-zero counters plus the latency
// bucket gauges.
func printMetrics(ctx context.Context, w io.Writer, reader sdkmetric.Reader) error {
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		return fmt.Errorf("collect metrics: %w", err)
	}
	var lines []string
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					if dp.Value != 0 {
						lines = append(lines, fmt.Sprintf("%s %d", m.Name, dp.Value))
					}
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					le, _ := dp.Attributes.Value("le")
					if dp.Value != 0 {
						lines = append(lines, fmt.Sprintf("%s{le=%q} %d", m.Name, le.AsString(), dp.Value))
					}
				}
			}
		}
	}
	sort.Strings(lines)
	fmt.Fprintln(w, "metrics:")
	fmt.Fprintln(w, "  "+strings.Join(lines, "\n  "))
	return nil
}
