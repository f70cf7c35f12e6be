// Package metrics exposes the realm's Prometheus instrumentation and the
// dedicated metrics listener. Protocol counters live here so the engine and
// the HTTP layer share one registry.
package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts protocol requests by operation and outcome. The
	// outcome label is the error code of the taxonomy, or "ok".
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realm_requests_total",
		Help: "Protocol requests processed, by operation and outcome.",
	}, []string{"operation", "outcome"})

	// RequestDuration observes request latency per operation.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "realm_request_duration_seconds",
		Help:    "Protocol request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// GuessesConsumed counts durably committed guess increments.
	GuessesConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realm_guesses_consumed_total",
		Help: "Recovery attempts charged against guess budgets.",
	})

	// LockoutsTotal counts generations that exhausted their guess budget.
	LockoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realm_lockouts_total",
		Help: "Record generations transitioned to the locked state.",
	})

	// StoreConflicts counts compare-and-swap conflicts retried by the engine.
	StoreConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realm_store_conflicts_total",
		Help: "Optimistic-concurrency conflicts observed against the secret store.",
	})
)

// MetricsServer serves the Prometheus scrape endpoint on its own listener,
// separate from the protocol API.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server for the given listen address. The name is
// exported as the "service" label of the realm_up gauge so dashboards can
// discriminate between co-located realm processes.
func New(name, listenAddr string) (*MetricsServer, error) {
	up := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "realm_up",
		Help:        "Set to 1 while the realm process is serving.",
		ConstLabels: prometheus.Labels{"service": name},
	})
	if err := prometheus.Register(up); err != nil {
		// A second server in the same process reuses the registered gauge.
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, err
		}
		up = already.ExistingCollector.(prometheus.Gauge)
	}
	up.Set(1)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:    listenAddr,
			Handler: mux,
		},
	}, nil
}

// ListenAndServe blocks serving the scrape endpoint.
func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics listener.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
