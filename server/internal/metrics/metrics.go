// Package metrics defines the server's Prometheus collectors. They live on a
// dedicated registry so tests can build independent instances.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cyberpulse"

// Metrics holds every collector the server updates.
type Metrics struct {
	registry *prometheus.Registry

	EventsIngested    *prometheus.CounterVec
	EventsDropped     prometheus.Counter
	BatchesReceived   prometheus.Counter
	StoreEvents       prometheus.Gauge
	DetectionRuns     prometheus.Counter
	DetectionDuration prometheus.Histogram
	AlertsByRule      *prometheus.GaugeVec
	NewAlerts         *prometheus.CounterVec
	WebhookDeliveries *prometheus.CounterVec
	IntelLookups      *prometheus.CounterVec
	WSClients         prometheus.Gauge
}

// New registers all collectors on a fresh registry, along with the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		EventsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Events accepted by the receiver, by event type.",
		}, []string{"event_type"}),
		EventsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Rows dropped at ingestion because their timestamp was missing or unparseable.",
		}),
		BatchesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_received_total",
			Help:      "Event batches accepted by the receiver.",
		}),
		StoreEvents: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_events",
			Help:      "Events currently held in the in-memory window.",
		}),
		DetectionRuns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detection_runs_total",
			Help:      "Completed detection runs.",
		}),
		DetectionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detection_duration_seconds",
			Help:      "Wall time of a detection run.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		}),
		AlertsByRule: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alerts",
			Help:      "Alerts produced by the latest detection run, by rule.",
		}, []string{"rule"}),
		NewAlerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_new_total",
			Help:      "Alerts not present in the previous detection run, by rule.",
		}, []string{"rule"}),
		WebhookDeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Webhook delivery attempts, by webhook type and result.",
		}, []string{"type", "result"}),
		IntelLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intel_lookups_total",
			Help:      "IP reputation lookups, by result (cache_hit, ok, error).",
		}, []string{"result"}),
		WSClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Connected WebSocket clients.",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
