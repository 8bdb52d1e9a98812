// Package metrics provides Prometheus instrumentation for the ideas engine.
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
	// BetsTotal counts accepted bets, partitioned by side.
	BetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wotideas_bets_total",
		Help: "Total number of bets placed",
	}, []string{"side"})

	// BetLatency tracks PlaceBet duration.
	BetLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wotideas_bet_latency_seconds",
		Help:    "Bet placement latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// BetRejections counts bets refused before or at the debit, by reason.
	BetRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wotideas_bet_rejections_total",
		Help: "Bets rejected, by reason",
	}, []string{"reason"})

	// StakeRefunds counts compensating refunds after a failed stake append.
	StakeRefunds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wotideas_stake_refunds_total",
		Help: "Debits returned because the stake could not be appended",
	})

	// CoinsStaked accumulates coins moved into pools.
	CoinsStaked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wotideas_coins_staked_total",
		Help: "Cumulative coins staked",
	})

	// ResolutionsTotal counts completed resolutions by outcome.
	ResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wotideas_resolutions_total",
		Help: "Total number of ideas resolved",
	}, []string{"resolution"})

	// PrizesPaid accumulates coins credited by settlement, refunds included.
	PrizesPaid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wotideas_prize_coins_total",
		Help: "Cumulative coins paid out by resolutions",
	})

	// DuplicatePrizes counts prize credits taken back because another
	// resolver had already paid the stake.
	DuplicatePrizes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wotideas_duplicate_prizes_total",
		Help: "Prize credits reverted after losing the prize key to a concurrent resolver",
	})

	// EventWriteFailures counts events that could not be recorded after
	// the balance change they describe was committed.
	EventWriteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wotideas_event_write_failures_total",
		Help: "Audit events lost after a committed change",
	}, []string{"type"})

	// PublishFailures counts events that could not be forwarded to a subscriber transport.
	PublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wotideas_publish_failures_total",
		Help: "Event notifications that failed to publish",
	}, []string{"publisher"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wotideas_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wotideas_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wotideas_http_request_duration_seconds",
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
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
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
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
