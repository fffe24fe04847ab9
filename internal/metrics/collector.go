// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector aggregates the prometheus instruments of the experimentation
// core. All methods are safe on a nil receiver so instrumentation stays
// optional.
type Collector struct {
	// Funnel traffic
	assignmentsTotal *prometheus.CounterVec
	conversionsTotal *prometheus.CounterVec

	// Reporting
	reportDuration      *prometheus.HistogramVec
	portfolioSkipsTotal prometheus.Counter

	// HTTP surface
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector creates a metrics collector registered on the default
// registry under the given namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.assignmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assignments_total",
			Help:      "Total number of first-time variant assignments",
		},
		[]string{"experiment", "variant"},
	)

	c.conversionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversions_total",
			Help:      "Total number of recorded conversion events",
		},
		[]string{"experiment", "variant", "type"},
	)

	c.reportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "report_duration_seconds",
			Help:      "Experiment report generation duration in seconds",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 1, 2.5, 10},
		},
		[]string{"experiment"},
	)

	c.portfolioSkipsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "portfolio_skipped_experiments_total",
			Help:      "Experiments skipped during portfolio rollups due to report failures",
		},
	)

	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// AssignmentRecorded counts a first-time assignment.
func (c *Collector) AssignmentRecorded(experimentID, variantID string) {
	if c == nil {
		return
	}
	c.assignmentsTotal.WithLabelValues(experimentID, variantID).Inc()
}

// ConversionRecorded counts a conversion event.
func (c *Collector) ConversionRecorded(experimentID, variantID, conversionType string) {
	if c == nil {
		return
	}
	c.conversionsTotal.WithLabelValues(experimentID, variantID, conversionType).Inc()
}

// ReportGenerated records the duration of a report computation.
func (c *Collector) ReportGenerated(experimentID string, duration time.Duration) {
	if c == nil {
		return
	}
	c.reportDuration.WithLabelValues(experimentID).Observe(duration.Seconds())
}

// PortfolioSkip counts an experiment skipped during a portfolio rollup.
func (c *Collector) PortfolioSkip() {
	if c == nil {
		return
	}
	c.portfolioSkipsTotal.Inc()
}

// HTTPRequest records an HTTP request with its outcome and duration.
func (c *Collector) HTTPRequest(method, path, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
