package metrics

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ReasoningCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "routerisk_reasoning_calls_total",
		Help: "Reasoning backend attempts by backend and outcome (ok, invalid, unavailable).",
	}, []string{"backend", "outcome"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "routerisk_reasoning_cache_lookups_total",
		Help: "Reasoning cache lookups by result (hit, miss).",
	}, []string{"result"})

	GateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "routerisk_gate_decisions_total",
		Help: "Gating outcomes (below_threshold, cache_hit, reasoned, degraded).",
	}, []string{"outcome"})

	AlertOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "routerisk_alert_outcomes_total",
		Help: "Alert dispatch outcomes.",
	}, []string{"outcome"})

	RouteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "routerisk_route_evaluation_errors_total",
		Help: "Route evaluations aborted by a storage or fetch error.",
	})

	CyclesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "routerisk_cycles_skipped_total",
		Help: "Scheduled cycles skipped because the overlap cap was reached.",
	})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "routerisk_cycle_duration_seconds",
		Help:    "Duration of a full monitoring cycle.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})
)

// Handler serves /metrics and a plain /healthz.
func Handler() http.Handler {
	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	return router
}
