package feed

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	reports   *prometheus.GaugeVec
	snapshots prometheus.Counter
}

// NewMetrics registers the feed collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reports: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "lostfound_reports",
				Help: "Reports in the last snapshot by category",
			},
			[]string{"category"},
		),
		snapshots: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lostfound_snapshots_total",
				Help: "Report snapshots received from the document store",
			},
		),
	}
	reg.MustRegister(m.reports, m.snapshots)
	return m
}

func (m *Metrics) observe(ev Event, s State) {
	if m == nil {
		return
	}
	if _, ok := ev.(SnapshotEvent); ok {
		m.snapshots.Inc()
	}
	m.reports.WithLabelValues("lost").Set(float64(s.Stats.Lost))
	m.reports.WithLabelValues("found").Set(float64(s.Stats.Found))
}
