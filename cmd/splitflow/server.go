package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/splitflow/api"
	"github.com/BaSui01/splitflow/api/handlers"
	"github.com/BaSui01/splitflow/assign"
	"github.com/BaSui01/splitflow/config"
	"github.com/BaSui01/splitflow/experiment"
	"github.com/BaSui01/splitflow/internal/cache"
	"github.com/BaSui01/splitflow/internal/database"
	"github.com/BaSui01/splitflow/internal/metrics"
	"github.com/BaSui01/splitflow/ledger"
	"github.com/BaSui01/splitflow/report"
	"github.com/BaSui01/splitflow/store"
)

// writeTxRetries bounds the retry loop for transient write failures.
const writeTxRetries = 3

// Server owns the HTTP server and the resources behind it.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	http   *http.Server
	pool   *database.PoolManager
	cache  *cache.Manager
}

// NewServer wires the full service from configuration.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	db, err := openDatabase(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	poolCfg := database.DefaultPoolConfig()
	poolCfg.MaxOpenConns = cfg.Database.MaxOpenConns
	poolCfg.MaxIdleConns = cfg.Database.MaxIdleConns
	poolCfg.ConnMaxLifetime = cfg.Database.ConnMaxLifetime

	pool, err := database.NewPoolManager(db, poolCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database pool: %w", err)
	}

	// Writes go through the pool's retrying transaction helper so deadlocks
	// and dropped connections on the assignment insert path are retried.
	st, err := store.NewGorm(pool.DB(), logger, store.WithTxRunner(
		func(ctx context.Context, fn func(tx *gorm.DB) error) error {
			return pool.WithTransactionRetry(ctx, writeTxRetries, fn)
		}))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	collector := metrics.NewCollector("splitflow", logger)

	var cacheManager *cache.Manager
	if cfg.Cache.Enabled {
		cacheManager, err = cache.NewManager(cache.Config{
			Addr:         cfg.Cache.Addr,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DefaultTTL:   cfg.Cache.DefaultTTL,
			MaxRetries:   cfg.Cache.MaxRetries,
			PoolSize:     cfg.Cache.PoolSize,
			MinIdleConns: cfg.Cache.MinIdleConns,
		}, logger)
		if err != nil {
			// The report layer recomputes on cache misses, so a missing
			// redis only costs latency.
			logger.Warn("cache unavailable, reports will not be cached", zap.Error(err))
			cacheManager = nil
		}
	}

	registry := experiment.NewRegistry(st, logger)
	engine := assign.NewEngine(registry, st, logger, assign.WithCollector(collector))
	lg := ledger.New(st, logger, ledger.WithCollector(collector))

	reporterOpts := []report.ReporterOption{
		report.WithCollector(collector),
		report.WithReportTimeout(cfg.Report.Timeout),
		report.WithVelocityReference(cfg.Report.VelocityReference),
	}
	if cacheManager != nil {
		reporterOpts = append(reporterOpts, report.WithCache(cacheManager, cfg.Report.CacheTTL))
	}
	reporter := report.NewReporter(registry, st, logger, reporterOpts...)

	var limiter *rate.Limiter
	if cfg.Server.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Server.RateLimitRPS), cfg.Server.RateLimitBurst)
	}

	health := handlers.NewHealthHandler(logger)
	health.RegisterCheck(handlers.NewPingCheck("database", pool.Ping))
	if cacheManager != nil {
		health.RegisterCheck(handlers.NewPingCheck("cache", cacheManager.Ping))
	}

	router := api.NewRouter(api.Handlers{
		Experiment: handlers.NewExperimentHandler(registry, logger),
		Assign:     handlers.NewAssignHandler(engine, lg, limiter, logger),
		Report:     handlers.NewReportHandler(reporter, logger),
		Health:     health,
	}, logger,
		api.WithCollector(collector),
		api.WithVersionInfo(Version, BuildTime, GitCommit),
	)

	return &Server{
		cfg:    cfg,
		logger: logger,
		pool:   pool,
		cache:  cacheManager,
		http: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}, nil
}

// Start begins serving HTTP in the background.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.http.Addr))

	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()
	return nil
}

// WaitForShutdown blocks until SIGINT or SIGTERM, then drains connections and
// releases resources.
func (s *Server) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	s.logger.Info("shutting down", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP shutdown failed", zap.Error(err))
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Error("cache close failed", zap.Error(err))
		}
	}
	if err := s.pool.Close(); err != nil {
		s.logger.Error("database pool close failed", zap.Error(err))
	}
}

// openDatabase opens the configured database with a quiet GORM logger; the
// service logs through zap instead.
func openDatabase(dbCfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch dbCfg.Driver {
	case "postgres":
		dialector = postgres.Open(dbCfg.DSN())
	case "mysql":
		dialector = mysql.Open(dbCfg.DSN())
	case "sqlite":
		dialector = sqlite.Open(dbCfg.DSN())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: postgres, mysql, sqlite)", dbCfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	logger.Info("Database connected", zap.String("driver", dbCfg.Driver))
	return db, nil
}
