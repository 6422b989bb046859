// Package metrics provides Prometheus instrumentation for the auction engine.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// AuctionsCreated counts auctions opened, partitioned by asset.
	AuctionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dutch_auctions_created_total",
		Help: "Total number of auctions created",
	}, []string{"asset_ref"})

	// AuctionsSettled counts auctions bought, partitioned by asset.
	AuctionsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dutch_auctions_settled_total",
		Help: "Total number of auctions settled by a buyer",
	}, []string{"asset_ref"})

	// AuctionsCancelled counts cancellations by who cancelled (seller or admin).
	AuctionsCancelled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dutch_auctions_cancelled_total",
		Help: "Total number of auctions cancelled",
	}, []string{"by"})

	// ActiveAuctions tracks the number of auctions still open for purchase.
	ActiveAuctions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dutch_active_auctions",
		Help: "Number of currently active auctions",
	})

	// SettledValue tracks cumulative settlement prices per asset. Float
	// conversion is for display only; the ledger holds exact values.
	SettledValue = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dutch_settled_value_total",
		Help: "Cumulative native currency paid to sellers",
	}, []string{"asset_ref"})

	// OperationLatency tracks registry call latency by operation.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dutch_operation_latency_seconds",
		Help:    "Registry operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// Rejections counts registry calls that failed, by operation and reason.
	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dutch_rejections_total",
		Help: "Registry calls rejected, by operation and reason",
	}, []string{"op", "reason"})

	// RollbackFailures counts compensations that could not be applied.
	// Any non-zero value needs manual reconciliation.
	RollbackFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dutch_rollback_failures_total",
		Help: "Rollbacks that failed to restore state",
	})

	// EventPublishFailures counts notifications that could not be delivered.
	EventPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dutch_event_publish_failures_total",
		Help: "Auction events that failed to publish",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dutch_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dutch_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dutch_http_request_duration_seconds",
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
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("metrics: %T does not support hijacking", w.ResponseWriter)
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
