package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the collectors the pipeline increments as it runs,
// replacing a hand-maintained error counter with real Prometheus types
// registered on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	ProposalsObserved  prometheus.Counter
	AnalysesComputed   prometheus.Counter
	DeliveriesSent     prometheus.Counter
	DeliveriesFailed   prometheus.Counter
	WatcherTickErrors  prometheus.Counter
	AnalysisQueueDepth prometheus.Gauge
	DeliveryQueueDepth prometheus.Gauge
}

// NewMetrics builds and registers the counters/gauges under the
// govwatcher namespace.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		ProposalsObserved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "govwatcher", Name: "proposals_observed_total",
			Help: "Proposals observed as new or changed by the Watcher.",
		}),
		AnalysesComputed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "govwatcher", Name: "analyses_computed_total",
			Help: "Analyses computed (cache misses) by the Hybrid Analyzer.",
		}),
		DeliveriesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "govwatcher", Name: "deliveries_sent_total",
			Help: "Advice deliveries accepted by a notifier.",
		}),
		DeliveriesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "govwatcher", Name: "deliveries_failed_total",
			Help: "Advice deliveries that exhausted retries or failed permanently.",
		}),
		WatcherTickErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "govwatcher", Name: "watcher_tick_errors_total",
			Help: "Watcher ticks that failed to complete (chain client errors).",
		}),
		AnalysisQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "govwatcher", Name: "analysis_queue_depth",
			Help: "Current number of proposals queued for analysis.",
		}),
		DeliveryQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "govwatcher", Name: "delivery_queue_depth",
			Help: "Current number of deliveries queued for sending.",
		}),
	}

	reg.MustRegister(
		m.ProposalsObserved,
		m.AnalysesComputed,
		m.DeliveriesSent,
		m.DeliveriesFailed,
		m.WatcherTickErrors,
		m.AnalysisQueueDepth,
		m.DeliveryQueueDepth,
	)

	return m
}
