package obsync

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks synchronization round behavior.
type Metrics struct {
	rounds        *prometheus.CounterVec
	retriggers    prometheus.Counter
	roundDuration prometheus.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cellgym_sync_rounds_total",
			Help: "Synchronization rounds by result (ok, timeout, canceled, error)",
		}, []string{"result"}),
		retriggers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cellgym_sync_retriggers_total",
			Help: "Passive-device re-arms due to stale observations",
		}),
		roundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cellgym_sync_round_duration_seconds",
			Help:    "Wall time of one synchronization round",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}
}

func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.rounds, m.retriggers, m.roundDuration}
}
