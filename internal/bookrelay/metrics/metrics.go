// Package metrics defines the Prometheus instruments exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bookrelay/bookrelay/internal/common/httpx"
)

const namespace = "bookrelay"

// Metrics holds all Prometheus metrics for the service.
// Pass to components that need to record metrics; a nil *Metrics records nothing.
type Metrics struct {
	SessionsBegun    prometheus.Counter
	SessionsFinished *prometheus.CounterVec
	ActiveSessions   prometheus.Gauge
	LiveWorkers      prometheus.Gauge
	ChallengeRender  prometheus.Histogram
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New creates and registers all metrics with reg.
func New(reg *prometheus.Registry) *Metrics {
	return &Metrics{
		SessionsBegun: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_begun_total",
				Help:      "Total booking sessions created",
			},
		),
		SessionsFinished: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_finished_total",
				Help:      "Total booking sessions that reached a terminal state",
			},
			[]string{"outcome"}, // completed, failed, expired
		),
		ActiveSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Number of sessions held in the store",
			},
		),
		LiveWorkers: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "live_workers",
				Help:      "Number of booking workers still running",
			},
		),
		ChallengeRender: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "challenge_render_seconds",
				Help:      "Time spent rendering challenge images",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
			},
		),
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests by route and status class",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		gatherer: reg,
	}
}

// SessionBegun records a new session.
func (m *Metrics) SessionBegun() {
	if m == nil {
		return
	}
	m.SessionsBegun.Inc()
}

// SessionFinished records a terminal outcome.
func (m *Metrics) SessionFinished(outcome string) {
	if m == nil {
		return
	}
	m.SessionsFinished.WithLabelValues(outcome).Inc()
}

// SetActive records the number of stored sessions and running workers.
func (m *Metrics) SetActive(sessions, workers int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(sessions))
	m.LiveWorkers.Set(float64(workers))
}

// ObserveRender records the time spent rendering one challenge.
func (m *Metrics) ObserveRender(d time.Duration) {
	if m == nil {
		return
	}
	m.ChallengeRender.Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request counts and durations labelled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rw := httpx.NewResponseWriter(w)
		next.ServeHTTP(rw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		m.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		m.RequestsTotal.WithLabelValues(r.Method, route, statusClass(rw.Status())).Inc()
	})
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
