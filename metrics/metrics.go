// Package metrics exposes Prometheus counters for the authority subsystem.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var (
	// CompileTotal counts compile calls by result: cache_hit, compiled,
	// failure, rejected.
	CompileTotal = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "specauthority_compile_total",
		Help: "Authority compile calls by result",
	}, []string{"result"})

	// ValidationsTotal counts validation attempts by outcome: passed, failed.
	ValidationsTotal = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "specauthority_validations_total",
		Help: "Validation attempts by outcome",
	}, []string{"outcome"})

	// AcceptancesTotal counts acceptance ledger rows by status.
	AcceptancesTotal = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "specauthority_acceptances_total",
		Help: "Acceptance decisions appended to the ledger by status",
	}, []string{"status"})

	// PipelineUnitsTotal counts pipeline units by terminal state.
	PipelineUnitsTotal = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "specauthority_pipeline_units_total",
		Help: "Story pipeline units by terminal state",
	}, []string{"state"})
)

// Handler returns an HTTP handler serving the subsystem's metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
