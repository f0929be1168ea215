package api

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// apiMetrics holds the Prometheus instruments on a per-server registry, so
// test servers never collide on registration.
type apiMetrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	simulationsTotal *prometheus.CounterVec
	pathsGenerated   prometheus.Counter
	jobsTotal        *prometheus.CounterVec
}

func newAPIMetrics() *apiMetrics {
	m := &apiMetrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portfolio_engine",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "portfolio_engine",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		simulationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portfolio_engine",
			Name:      "simulations_total",
			Help:      "Engine operations run, by kind.",
		}, []string{"kind"}),
		pathsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "portfolio_engine",
			Name:      "montecarlo_paths_total",
			Help:      "Monte Carlo paths generated.",
		}),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portfolio_engine",
			Name:      "jobs_total",
			Help:      "Async jobs by terminal status.",
		}, []string{"status"}),
	}

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.simulationsTotal,
		m.pathsGenerated,
		m.jobsTotal,
	)
	return m
}

// handler serves the /metrics endpoint from the server's own registry.
func (m *apiMetrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// statusRecorder captures the response status code for instrumentation.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack exposes the underlying connection so WebSocket upgrades work
// through the instrumented handler chain.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hijacker.Hijack()
}

// instrument wraps a handler with request counting and latency tracking,
// labeled by the mux route template rather than the raw path.
func (m *apiMetrics) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if template, err := current.GetPathTemplate(); err == nil {
				route = template
			}
		}
		m.requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(started).Seconds())
	})
}
