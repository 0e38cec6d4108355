// Package metrics provides Prometheus instrumentation for the planner.
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
	// DraftsCreated counts drafts opened for editing.
	DraftsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "planner_drafts_created_total",
		Help: "Total number of plan drafts created",
	})

	// Submissions counts submit attempts by result (accepted, refused).
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "planner_submissions_total",
		Help: "Total plan submissions by result",
	}, []string{"result", "trigger"})

	// ValidationErrors counts blocking field errors seen at submission.
	ValidationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "planner_validation_errors_total",
		Help: "Field errors that blocked a submission",
	}, []string{"kind"})

	// Outcomes counts recorded trade outcomes by exit reason.
	Outcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "planner_trade_outcomes_total",
		Help: "Recorded trade outcomes by exit reason",
	}, []string{"exit"})

	// LotsDispatched tracks the lot sizes handed out by the martingale sizer.
	LotsDispatched = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "planner_lots_dispatched",
		Help:    "Lot size of each trade handed to execution",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
	})

	// SchedulingAllowed is 1 while runs may still be scheduled today.
	SchedulingAllowed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "planner_scheduling_allowed",
		Help: "1 while scheduling is open, 0 past the cutoff",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "planner_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "planner_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "planner_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// SetSchedulingAllowed records the current gate state.
func SetSchedulingAllowed(allowed bool) {
	if allowed {
		SchedulingAllowed.Set(1)
		return
	}
	SchedulingAllowed.Set(0)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &StatusWriter{ResponseWriter: w, Status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.Status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// StatusWriter wraps http.ResponseWriter to capture the status code.
type StatusWriter struct {
	http.ResponseWriter
	Status int
}

func (w *StatusWriter) WriteHeader(code int) {
	w.Status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *StatusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *StatusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
