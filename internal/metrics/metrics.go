// Package metrics provides Prometheus instrumentation for the bet ledger.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// WagersTotal counts placed wagers, partitioned by server.
	WagersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betledger_wagers_total",
		Help: "Total number of wagers placed",
	}, []string{"server"})

	// WagerRejections counts wagers rejected before any balance change,
	// partitioned by reason (not_found, locked, multi_option, no_money).
	WagerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betledger_wager_rejections_total",
		Help: "Wagers rejected by ledger rules",
	}, []string{"reason"})

	// BetsResolved counts bet teardowns, partitioned by outcome
	// (closed, aborted).
	BetsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betledger_bets_resolved_total",
		Help: "Bets resolved or aborted",
	}, []string{"outcome"})

	// PayoutPool tracks the distributed pool size per resolution.
	PayoutPool = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "betledger_payout_pool",
		Help:    "Pool size distributed on bet resolution",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	})

	// IncomeRuns counts periodic income distributions.
	IncomeRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betledger_income_runs_total",
		Help: "Periodic income distributions executed",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "betledger_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betledger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "betledger_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
