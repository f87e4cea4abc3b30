// Package metrics exposes Prometheus instrumentation for the dev-server
// orchestrator. Counters register on the default registry; Handler serves
// them when the CLI enables a metrics port.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ServerStarts counts agent processes spawned by the dev server.
	ServerStarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentdev_server_starts_total",
		Help: "Number of agent dev-server processes spawned.",
	})

	// ServerExits counts agent process exits by outcome.
	ServerExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentdev_server_exits_total",
		Help: "Number of agent dev-server process exits.",
	}, []string{"outcome"})

	// LogLines counts routed agent output lines by level.
	LogLines = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentdev_log_lines_total",
		Help: "Number of agent output lines routed, by level.",
	}, []string{"level"})

	// Invocations counts invocation-client calls by status.
	Invocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentdev_invocations_total",
		Help: "Number of agent invocations, by status.",
	}, []string{"status"})

	// InvokeRetries counts connection retries during invocation.
	InvokeRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentdev_invoke_retries_total",
		Help: "Number of invocation connection retries.",
	})
)

// Exit outcome label values.
const (
	OutcomeClean   = "clean"
	OutcomeCrashed = "crashed"
	OutcomeKilled  = "killed"
)

// Invocation status label values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
