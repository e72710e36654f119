package server

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/DavNight89/adminEstate/internal/estate/sync"
)

// Metrics holds the Prometheus collectors of the HTTP server.
type Metrics struct {
	SyncRuns          *prometheus.CounterVec
	DuplicatesDropped *prometheus.CounterVec
	RecordsWritten    *prometheus.CounterVec
	Requests          *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SyncRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "estate",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Total number of reconcile runs by kind, direction and outcome.",
		}, []string{"kind", "direction", "status"}), // status: success, failure
		DuplicatesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "estate",
			Subsystem: "sync",
			Name:      "duplicates_dropped_total",
			Help:      "Total number of duplicate records dropped while merging.",
		}, []string{"kind"}),
		RecordsWritten: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "estate",
			Subsystem: "sync",
			Name:      "records_written_total",
			Help:      "Total number of records written to a store by reconcile runs.",
		}, []string{"kind", "store"}),
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "estate",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status code.",
		}, []string{"method", "code"}),
	}
}

// Reconciled records a finished run. Metrics implements sync.Observer.
func (m *Metrics) Reconciled(res *sync.Result) {
	status := "success"
	if !res.Success {
		status = "failure"
	}
	kind := res.Kind.String()
	m.SyncRuns.WithLabelValues(kind, res.Direction.String(), status).Inc()
	m.DuplicatesDropped.WithLabelValues(kind).Add(float64(res.DuplicatesDropped))
	for _, name := range res.Written {
		m.RecordsWritten.WithLabelValues(kind, name).Add(float64(res.Merged))
	}
}

func (m *Metrics) request(method string, code int) {
	m.Requests.WithLabelValues(method, strconv.Itoa(code)).Inc()
}
