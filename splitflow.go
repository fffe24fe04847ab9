// Package splitflow provides a top-level convenience entry point for running
// experiments in-process with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/splitflow"
//
//	core, err := splitflow.New()                          // in-memory store
//	core, err := splitflow.New(splitflow.WithStore(st))   // custom store
//
// The Core bundles the experiment registry, the assignment engine, the
// conversion ledger, and the reporter over one shared store. Services that
// need HTTP, configuration, or persistence should wire the packages directly
// the way cmd/splitflow does.
package splitflow

import (
	"go.uber.org/zap"

	"github.com/BaSui01/splitflow/assign"
	"github.com/BaSui01/splitflow/experiment"
	"github.com/BaSui01/splitflow/internal/metrics"
	"github.com/BaSui01/splitflow/ledger"
	"github.com/BaSui01/splitflow/report"
	"github.com/BaSui01/splitflow/store"
)

// Core bundles the experimentation components over a shared store.
type Core struct {
	Registry *experiment.Registry
	Engine   *assign.Engine
	Ledger   *ledger.Ledger
	Reporter *report.Reporter
}

type coreConfig struct {
	store     store.Store
	logger    *zap.Logger
	collector *metrics.Collector
}

// Option configures the Core created by [New].
type Option func(*coreConfig)

// WithStore uses a custom store instead of the in-memory default.
func WithStore(st store.Store) Option {
	return func(c *coreConfig) { c.store = st }
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *coreConfig) { c.logger = logger }
}

// WithMetricsNamespace registers prometheus collectors under the given
// namespace. Without it, no metrics are recorded.
func WithMetricsNamespace(namespace string) Option {
	return func(c *coreConfig) {
		c.collector = metrics.NewCollector(namespace, c.logger)
	}
}

// New creates a Core. Without options it runs entirely in memory, which is
// what tests and embedded callers usually want.
func New(opts ...Option) (*Core, error) {
	cfg := coreConfig{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.store == nil {
		cfg.store = store.NewMemory()
	}

	registry := experiment.NewRegistry(cfg.store, cfg.logger)
	return &Core{
		Registry: registry,
		Engine:   assign.NewEngine(registry, cfg.store, cfg.logger, assign.WithCollector(cfg.collector)),
		Ledger:   ledger.New(cfg.store, cfg.logger, ledger.WithCollector(cfg.collector)),
		Reporter: report.NewReporter(registry, cfg.store, cfg.logger, report.WithCollector(cfg.collector)),
	}, nil
}
