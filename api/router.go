// Package api assembles the HTTP surface of the experimentation service:
// experiment lifecycle, assignment, conversion, reporting, and operational
// endpoints.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/splitflow/api/handlers"
	"github.com/BaSui01/splitflow/internal/metrics"
)

// Handlers groups the endpoint handlers the router mounts.
type Handlers struct {
	Experiment *handlers.ExperimentHandler
	Assign     *handlers.AssignHandler
	Report     *handlers.ReportHandler
	Health     *handlers.HealthHandler
}

// RouterOption configures the router.
type RouterOption func(*routerConfig)

type routerConfig struct {
	collector *metrics.Collector
	version   string
	buildTime string
	gitCommit string
}

// WithCollector attaches request metrics and mounts /metrics.
func WithCollector(c *metrics.Collector) RouterOption {
	return func(cfg *routerConfig) { cfg.collector = c }
}

// WithVersionInfo sets the build information served at /version.
func WithVersionInfo(version, buildTime, gitCommit string) RouterOption {
	return func(cfg *routerConfig) {
		cfg.version = version
		cfg.buildTime = buildTime
		cfg.gitCommit = gitCommit
	}
}

// NewRouter builds the service mux.
func NewRouter(h Handlers, logger *zap.Logger, opts ...RouterOption) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := routerConfig{version: "dev"}
	for _, opt := range opts {
		opt(&cfg)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/experiments", h.Experiment.HandleCreate)
	mux.HandleFunc("GET /v1/experiments", h.Experiment.HandleList)
	mux.HandleFunc("GET /v1/experiments/{id}", h.Experiment.HandleGet)
	mux.HandleFunc("POST /v1/experiments/{id}/start", h.Experiment.HandleStart)
	mux.HandleFunc("POST /v1/experiments/{id}/stop", h.Experiment.HandleStop)
	mux.HandleFunc("POST /v1/experiments/{id}/pause", h.Experiment.HandlePause)
	mux.HandleFunc("POST /v1/experiments/{id}/resume", h.Experiment.HandleResume)
	mux.HandleFunc("POST /v1/experiments/{id}/archive", h.Experiment.HandleArchive)

	mux.HandleFunc("POST /v1/experiments/{id}/assignments", h.Assign.HandleAssign)
	mux.HandleFunc("POST /v1/experiments/{id}/conversions", h.Assign.HandleConversion)

	mux.HandleFunc("GET /v1/experiments/{id}/summary", h.Report.HandleSummary)
	mux.HandleFunc("GET /v1/experiments/{id}/report", h.Report.HandleReport)
	mux.HandleFunc("GET /v1/portfolio", h.Report.HandlePortfolio)
	mux.HandleFunc("GET /v1/sample-size", h.Report.HandleSampleSize)

	mux.HandleFunc("GET /health", h.Health.HandleHealth)
	mux.HandleFunc("GET /ready", h.Health.HandleReady)
	mux.HandleFunc("GET /version", h.Health.HandleVersion(cfg.version, cfg.buildTime, cfg.gitCommit))

	if cfg.collector != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return requestLogging(mux, logger, cfg.collector)
}

// requestLogging wraps the mux with access logging and request metrics.
func requestLogging(next http.Handler, logger *zap.Logger, collector *metrics.Collector) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := handlers.NewResponseWriter(w)

		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		collector.HTTPRequest(r.Method, r.URL.Path, strconv.Itoa(rw.StatusCode), duration)
		logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.StatusCode),
			zap.Duration("duration", duration),
		)
	})
}
