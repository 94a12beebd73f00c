// Package metrics holds the Prometheus registry and collectors for snapgraph.
package metrics

import (
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "snapgraph"

var (
	Registry = prometheus.NewRegistry()

	// ContentWrites counts CAS puts by backend and whether new bytes were written.
	ContentWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cas",
			Name:      "writes_total",
			Help:      "Content puts by backend; result is \"stored\" or \"dedup\".",
		},
		[]string{"backend", "result"},
	)

	// CacheLookups counts read-through cache lookups.
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cas",
			Name:      "cache_lookups_total",
			Help:      "Read-through cache lookups; result is \"hit\" or \"miss\".",
		},
		[]string{"result"},
	)

	// Rebases counts processed rebase requests by response status.
	Rebases = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rebase",
			Name:      "requests_total",
			Help:      "Rebase requests by response status.",
		},
		[]string{"status"},
	)

	// RebaseDuration observes how long the engine takes per request.
	RebaseDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rebase",
			Name:      "duration_seconds",
			Help:      "Time spent diffing, classifying and applying a rebase.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		},
	)

	// QueueDepth tracks pending rebase requests per workspace worker.
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rebase",
			Name:      "queue_depth",
			Help:      "Rebase requests waiting across all workspace queues.",
		},
	)

	// Migrations counts node upgrades performed at load time.
	Migrations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "migrate",
			Name:      "nodes_upgraded_total",
			Help:      "Node weights upgraded to the current encoding.",
		},
	)
)

func init() {
	Registry.MustRegister(
		ContentWrites,
		CacheLookups,
		Rebases,
		RebaseDuration,
		QueueDepth,
		Migrations,
	)
}

// Write prints every collected sample as a "name{labels} value" line.
// Histograms print their count and sum.
func Write(w io.Writer) error {
	families, err := Registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := mf.GetName()
			if pairs := m.GetLabel(); len(pairs) > 0 {
				labels := make([]string, 0, len(pairs))
				for _, l := range pairs {
					labels = append(labels, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
				}
				name += "{" + strings.Join(labels, ",") + "}"
			}
			switch {
			case m.Counter != nil:
				_, err = fmt.Fprintf(w, "%s %g\n", name, m.GetCounter().GetValue())
			case m.Gauge != nil:
				_, err = fmt.Fprintf(w, "%s %g\n", name, m.GetGauge().GetValue())
			case m.Histogram != nil:
				h := m.GetHistogram()
				_, err = fmt.Fprintf(w, "%s_count %d\n%s_sum %g\n", name, h.GetSampleCount(), name, h.GetSampleSum())
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}
