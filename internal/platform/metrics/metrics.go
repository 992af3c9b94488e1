package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	LocalitiesCreated  prometheus.Counter
	LocalitiesUpdated  prometheus.Counter
	ChangesetsCreated  prometheus.Counter
	ValidationFailures prometheus.Counter
	ImportRuns         prometheus.Counter
	RequestLatency     *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		LocalitiesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gazetteer_localities_created_total",
			Help: "Total number of localities created",
		}),
		LocalitiesUpdated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gazetteer_localities_updated_total",
			Help: "Total number of locality updates persisted",
		}),
		ChangesetsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gazetteer_changesets_created_total",
			Help: "Total number of changesets appended to the ledger",
		}),
		ValidationFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gazetteer_validation_failures_total",
			Help: "Total number of writes rejected by attribute validation",
		}),
		ImportRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gazetteer_import_runs_total",
			Help: "Total number of completed importer runs",
		}),
		RequestLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gazetteer_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}

func (m *Metrics) IncrementLocalitiesCreated() {
	m.LocalitiesCreated.Inc()
}

func (m *Metrics) IncrementLocalitiesUpdated() {
	m.LocalitiesUpdated.Inc()
}

func (m *Metrics) IncrementChangesetsCreated() {
	m.ChangesetsCreated.Inc()
}

func (m *Metrics) IncrementValidationFailures() {
	m.ValidationFailures.Inc()
}

func (m *Metrics) IncrementImportRuns() {
	m.ImportRuns.Inc()
}
