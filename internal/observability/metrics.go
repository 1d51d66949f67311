package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dronerepl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total control-surface HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dronerepl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Control-surface HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	connectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dronerepl",
			Subsystem: "queue",
			Name:      "connections_total",
			Help:      "Connections handled by the queue manager, by role and outcome.",
		},
		[]string{"node", "role", "outcome"},
	)
	replicationCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dronerepl",
			Subsystem: "repl",
			Name:      "cycles_total",
			Help:      "Replication driver loop iterations.",
		},
		[]string{"node"},
	)
	plotsQueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dronerepl",
			Subsystem: "repl",
			Name:      "plots_queued_total",
			Help:      "New plots marshalled and handed to the queue manager.",
		},
		[]string{"node"},
	)
	plotsInstalled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dronerepl",
			Subsystem: "repl",
			Name:      "plots_installed_total",
			Help:      "Plots installed into the local store from replicated payloads.",
		},
		[]string{"node"},
	)
	deconflictionClusters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dronerepl",
			Subsystem: "deconflict",
			Name:      "clusters_total",
			Help:      "Duplicate-observation clusters identified by the deconfliction engine.",
		},
		[]string{"node"},
	)
)

// RegisterMetrics registers all collectors with the default registry
// exactly once, regardless of how many times it is called.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			connectionsTotal,
			replicationCycles,
			plotsQueued,
			plotsInstalled,
			deconflictionClusters,
		)
	})
}

// RecordHTTPRequest records one control-surface HTTP request.
func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := statusLabelFor(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordConnection records one terminal connection outcome: "acceptor" or
// "initiator" role, "data"/"disconnect"/"error" outcome.
func RecordConnection(node, role, outcome string) {
	RegisterMetrics()
	connectionsTotal.WithLabelValues(node, role, outcome).Inc()
}

// RecordReplicationCycle records one replication driver loop iteration.
func RecordReplicationCycle(node string) {
	RegisterMetrics()
	replicationCycles.WithLabelValues(node).Inc()
}

// RecordPlotsQueued records count new plots marshalled for outbound replication.
func RecordPlotsQueued(node string, count int) {
	RegisterMetrics()
	plotsQueued.WithLabelValues(node).Add(float64(count))
}

// RecordPlotsInstalled records count plots installed from a replicated payload.
func RecordPlotsInstalled(node string, count int) {
	RegisterMetrics()
	plotsInstalled.WithLabelValues(node).Add(float64(count))
}

// RecordDeconflictionClusters records count clusters found in one C6 pass.
func RecordDeconflictionClusters(node string, count int) {
	RegisterMetrics()
	deconflictionClusters.WithLabelValues(node).Add(float64(count))
}

func statusLabelFor(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
