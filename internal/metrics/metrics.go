// Package metrics holds the Prometheus instrumentation for the ingestion
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the ingestion pipeline metrics. Counters are labelled by
// namespace so per-project throughput stays visible.
type Metrics struct {
	EpisodesQueued    *prometheus.CounterVec
	EpisodesProcessed *prometheus.CounterVec
	EpisodesFailed    *prometheus.CounterVec
	QueueDepth        prometheus.Gauge
	Workers           prometheus.Gauge
}

// New creates and registers the ingestion metrics. The registerer parameter
// allows a test registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EpisodesQueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engram_episodes_queued_total",
			Help: "Total number of episodes accepted into the ingestion queue",
		}, []string{"group_id"}),
		EpisodesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engram_episodes_processed_total",
			Help: "Total number of episodes persisted to the graph",
		}, []string{"group_id"}),
		EpisodesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engram_episodes_failed_total",
			Help: "Total number of episodes that failed extraction or persistence",
		}, []string{"group_id"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engram_ingest_queue_depth",
			Help: "Episodes currently waiting across all namespace queues",
		}),
		Workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engram_ingest_workers",
			Help: "Number of running namespace workers",
		}),
	}

	reg.MustRegister(m.EpisodesQueued, m.EpisodesProcessed, m.EpisodesFailed, m.QueueDepth, m.Workers)
	return m
}

// NewNop returns metrics bound to a throwaway registry, for tests and
// callers that do not expose a scrape endpoint.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
