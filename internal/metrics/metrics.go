// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Namespace = "tasktracker"

const (
	LabelMethod    = "method"
	LabelRoute     = "route"
	LabelStatus    = "status"
	LabelOperation = "operation"
	LabelOutcome   = "outcome"
	LabelTransport = "transport"
)

var HTTPRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Namespace: Namespace,
		Buckets:   prometheus.DefBuckets,
	},
	[]string{LabelMethod, LabelRoute, LabelStatus},
)

var TaskOperations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name:      "task_operations_total",
		Help:      "Task operations by kind and outcome",
		Namespace: Namespace,
	},
	[]string{LabelOperation, LabelOutcome},
)

var AuthFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name:      "auth_failures_total",
		Help:      "Requests rejected as unauthenticated",
		Namespace: Namespace,
	},
	[]string{LabelTransport},
)

var PurgedTokens = promauto.NewCounter(
	prometheus.CounterOpts{
		Name:      "purged_tokens_total",
		Help:      "Expired token records removed by the purger",
		Namespace: Namespace,
	},
)

// ObserveTaskOperation counts one task operation. err == nil is a success.
func ObserveTaskOperation(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	TaskOperations.WithLabelValues(operation, outcome).Inc()
}

// WithHTTPMetrics records the duration of every request, labelled by the chi
// route pattern so that task ids do not explode the label space.
func WithHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if routeContext := chi.RouteContext(r.Context()); routeContext != nil {
			if pattern := routeContext.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		HTTPRequestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).
			Observe(time.Since(start).Seconds())
	})
}
