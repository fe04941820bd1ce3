// Package metrics exposes the hub's Prometheus counters and gauges:
// packets received by packet type, classification counts by tier and label,
// deep-cloud rate-limit rejections, reassembly outcomes, and event bus
// drop counts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry wraps the Prometheus collectors the hub registers at
// startup. Callers obtain one via NewRegistry and pass it down to the
// components that record against it.
type Registry struct {
	PacketsReceived   *prometheus.CounterVec
	SpectrogramsTotal *prometheus.CounterVec
	Classifications   *prometheus.CounterVec
	DeepRateLimited   prometheus.Counter
	ClassifyDuration  *prometheus.HistogramVec
	SessionsAbandoned prometheus.Counter
	EventBusDropped   *prometheus.CounterVec
	AlertsRaised      *prometheus.CounterVec
	NodesConnected    prometheus.Gauge
	SyncQueueDepth    prometheus.Gauge
}

// NewRegistry registers every collector against reg and returns the
// Registry. Passing prometheus.NewRegistry() keeps metrics isolated
// across tests; the hub binary passes prometheus.DefaultRegisterer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		PacketsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forestguardian",
			Subsystem: "hub",
			Name:      "packets_received_total",
			Help:      "Wire packets received from sensor nodes, by packet type.",
		}, []string{"type"}),
		SpectrogramsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forestguardian",
			Subsystem: "hub",
			Name:      "spectrograms_total",
			Help:      "Spectrograms reassembled, by outcome (complete, truncated).",
		}, []string{"outcome"}),
		Classifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forestguardian",
			Subsystem: "classifier",
			Name:      "classifications_total",
			Help:      "Classifications performed, by tier and resulting label.",
		}, []string{"tier", "label"}),
		DeepRateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "forestguardian",
			Subsystem: "classifier",
			Name:      "deep_cloud_rate_limited_total",
			Help:      "Deep-cloud classification calls rejected by the rate limiter.",
		}),
		ClassifyDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "forestguardian",
			Subsystem: "classifier",
			Name:      "classify_duration_seconds",
			Help:      "Time spent in Classify, by tier.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tier"}),
		SessionsAbandoned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "forestguardian",
			Subsystem: "reassembler",
			Name:      "sessions_abandoned_total",
			Help:      "Transmission sessions abandoned before completion.",
		}),
		EventBusDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forestguardian",
			Subsystem: "eventbus",
			Name:      "events_dropped_total",
			Help:      "Hub pipeline events dropped, by reason (classify_queue_full, decode_failed, session_abandoned).",
		}, []string{"event_type"}),
		AlertsRaised: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forestguardian",
			Subsystem: "hub",
			Name:      "alerts_raised_total",
			Help:      "Alerts raised, by threat level.",
		}, []string{"threat_level"}),
		NodesConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "forestguardian",
			Subsystem: "hub",
			Name:      "nodes_connected",
			Help:      "Sensor nodes currently considered connected.",
		}),
		SyncQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "forestguardian",
			Subsystem: "classifier",
			Name:      "sync_queue_depth",
			Help:      "Classifications pending offline sync.",
		}),
	}
}
