package storage

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Remote write outcomes.
const (
	remoteOK      = "ok"
	remoteFailed  = "failed"
	remoteDropped = "dropped"
)

// Metrics counts the persistence layer's work. The collectors live on a
// private registry so several recorders (tests, for one) never collide.
type Metrics struct {
	Registry *prometheus.Registry

	searches     *prometheus.CounterVec
	remoteWrites *prometheus.CounterVec
	localWrite   prometheus.Histogram
}

// NewMetrics registers the collectors on a new registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geolocator_searches_recorded_total",
			Help: "Searches written to the local store, by kind",
		}, []string{"kind"}),
		remoteWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geolocator_remote_writes_total",
			Help: "Remote store write attempts, by result",
		}, []string{"result"}),
		localWrite: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "geolocator_local_write_duration_seconds",
			Help:    "Duration of local search log writes",
			Buckets: prometheus.DefBuckets,
		}),
	}
	m.Registry.MustRegister(m.searches, m.remoteWrites, m.localWrite)
	for _, r := range []string{remoteOK, remoteFailed, remoteDropped} {
		m.remoteWrites.WithLabelValues(r)
	}
	return m
}

func (m *Metrics) incSearch(k Kind) {
	m.searches.WithLabelValues(string(k)).Inc()
}

func (m *Metrics) incRemote(result string) {
	m.remoteWrites.WithLabelValues(result).Inc()
}

func (m *Metrics) observeLocal(d time.Duration) {
	m.localWrite.Observe(d.Seconds())
}
