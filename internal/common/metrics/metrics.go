// Package metrics holds the service's prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "codearena"

// Metrics groups every collector; a nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests        *prometheus.CounterVec
	httpLatency         *prometheus.HistogramVec
	executorLatency     *prometheus.HistogramVec
	executorErrors      *prometheus.CounterVec
	submissionsCreated  *prometheus.CounterVec
	verdicts            *prometheus.CounterVec
	pointsAwarded       prometheus.Counter
	testCasesCredited   prometheus.Counter
	admissionRejections prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		executorLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "executor_request_duration_seconds",
			Help:      "Executor batch call latency.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"operation"}),
		executorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executor_errors_total",
			Help:      "Failed executor batch calls.",
		}, []string{"operation"}),
		submissionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_created_total",
			Help:      "Created submissions by language and outcome.",
		}, []string{"language", "outcome"}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submission_verdicts_total",
			Help:      "Terminal submission transitions by status.",
		}, []string{"status"}),
		pointsAwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_awarded_total",
			Help:      "Points awarded across all submissions.",
		}),
		testCasesCredited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "test_cases_credited_total",
			Help:      "Ledger entries created.",
		}),
		admissionRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_rejections_total",
			Help:      "Submissions rejected by the admission guard.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpLatency,
		m.executorLatency,
		m.executorErrors,
		m.submissionsCreated,
		m.verdicts,
		m.pointsAwarded,
		m.testCasesCredited,
		m.admissionRejections,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// GinMiddleware records request counts and latency by matched route.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpLatency.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) ObserveExecutor(operation string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.executorLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
	if err != nil {
		m.executorErrors.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) SubmissionCreated(language, outcome string) {
	if m == nil {
		return
	}
	m.submissionsCreated.WithLabelValues(language, outcome).Inc()
}

// VerdictRecorded counts one terminal transition with its awarded points.
func (m *Metrics) VerdictRecorded(status string, points, credited int) {
	if m == nil {
		return
	}
	m.verdicts.WithLabelValues(status).Inc()
	if points > 0 {
		m.pointsAwarded.Add(float64(points))
	}
	if credited > 0 {
		m.testCasesCredited.Add(float64(credited))
	}
}

func (m *Metrics) AdmissionRejected() {
	if m == nil {
		return
	}
	m.admissionRejections.Inc()
}
