// Package llm — metrics.go registers the client's Prometheus instruments.
// Stream outcomes (including cancellations and idle timeouts) are counted so
// upstream-call release is observable in tests and dashboards.
package llm

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric outcome label values.
const (
	outcomeOK        = "ok"
	outcomeError     = "error"
	outcomeTimeout   = "timeout"
	outcomeCancelled = "cancelled"
)

// clientMetrics holds the Prometheus instruments owned by the LLM client.
type clientMetrics struct {
	// completionsTotal counts blocking Complete calls, partitioned by outcome.
	completionsTotal *prometheus.CounterVec

	// streamsTotal counts finished Stream calls, partitioned by outcome.
	// A "cancelled" outcome means the caller context was cancelled; a
	// "timeout" outcome means the idle watchdog aborted the stream.
	streamsTotal *prometheus.CounterVec

	// activeStreams is the number of daemon streams currently open.
	activeStreams prometheus.Gauge
}

// newClientMetrics registers all client metrics against reg. promauto.With is
// used so tests can pass a fresh registry and stay hermetic.
func newClientMetrics(reg prometheus.Registerer) *clientMetrics {
	factory := promauto.With(reg)

	return &clientMetrics{
		completionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "askdocs",
			Subsystem: "llm",
			Name:      "completions_total",
			Help:      "Total number of blocking completion calls, partitioned by outcome.",
		}, []string{"outcome"}),

		streamsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "askdocs",
			Subsystem: "llm",
			Name:      "streams_total",
			Help:      "Total number of finished streaming calls, partitioned by outcome.",
		}, []string{"outcome"}),

		activeStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "askdocs",
			Subsystem: "llm",
			Name:      "active_streams",
			Help:      "Number of daemon token streams currently open.",
		}),
	}
}

// outcomeOf maps an error to its metric outcome label.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, ErrTimeout):
		return outcomeTimeout
	default:
		return outcomeError
	}
}
