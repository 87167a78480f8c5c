// Package metrics provides Prometheus instrumentation for the sale ledger.
package metrics

import (
	"bufio"
	"errors"
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
	// OperationsTotal counts ledger operations by name and outcome class.
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lootbox_operations_total",
		Help: "Total sale ledger operations by outcome",
	}, []string{"operation", "outcome"})

	// OperationLatency tracks operation latency including external calls.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lootbox_operation_latency_seconds",
		Help:    "Sale ledger operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// PurchasesTotal counts committed purchases by payment path.
	PurchasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lootbox_purchases_total",
		Help: "Committed purchases by payment path",
	}, []string{"path"})

	// BundlesSold counts bundles conveyed by committed purchases.
	BundlesSold = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lootbox_bundles_sold_total",
		Help: "Bundles sold across all orders",
	})

	// ItemsRevealed counts mint requests issued by reveals, by kind.
	ItemsRevealed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lootbox_items_revealed_total",
		Help: "Items minted by single and batch reveals",
	}, []string{"kind"})

	// Compensations counts compensating actions run after aborted operations.
	Compensations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lootbox_compensations_total",
		Help: "Compensating actions run after an aborted operation",
	}, []string{"result"})

	// Capacity tracks the issuance ceiling.
	Capacity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lootbox_capacity",
		Help: "Configured issuance ceiling",
	})

	// TotalIssued tracks bundles reserved across all orders.
	TotalIssued = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lootbox_total_issued",
		Help: "Bundles reserved against the issuance ceiling",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lootbox_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lootbox_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lootbox_http_request_duration_seconds",
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

		// Route pattern keeps order ids and accounts out of the labels.
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
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
