// Package metrics holds the Prometheus collectors shared by the client, the store and the extractor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "aexplorer"

type Metrics struct {
	ClientRequests       *prometheus.CounterVec
	ClientLatency        *prometheus.HistogramVec
	Mutations            *prometheus.CounterVec
	SkippedWrites        *prometheus.CounterVec
	GenerationCacheHits  prometheus.Counter
	GenerationCacheSize  prometheus.Gauge
	ExtractedGenerations prometheus.Counter
}

// New registers the collectors on reg. Passing a fresh prometheus.NewRegistry() keeps tests isolated.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ClientRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "requests_total",
			Help:      "Node API requests by method and outcome.",
		}, []string{"method", "outcome"}),
		ClientLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "request_duration_seconds",
			Help:      "Node API request latency by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		Mutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "mutations_total",
			Help:      "Committed state mutations by name.",
		}, []string{"mutation"}),
		SkippedWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "skipped_writes_total",
			Help:      "Writes skipped because the fetched value equals the cached one.",
		}, []string{"mutation"}),
		GenerationCacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "generation_cache_hits_total",
			Help:      "Generation-by-height lookups served from the height index.",
		}),
		GenerationCacheSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "generation_cache_size",
			Help:      "Number of generations held in the height index.",
		}),
		ExtractedGenerations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extractor",
			Name:      "generations_total",
			Help:      "Generations written to the output.",
		}),
	}
}
