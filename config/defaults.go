package config

import "time"

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return &Config{
		Server:   DefaultServerConfig(),
		Database: DefaultDatabaseConfig(),
		Cache:    DefaultCacheConfig(),
		Report:   DefaultReportConfig(),
		Log:      DefaultLogConfig(),
	}
}

// DefaultServerConfig returns the default HTTP server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultDatabaseConfig returns the default database configuration. The
// sqlite driver with a file name keeps local development dependency-free.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "splitflow",
		Password:        "",
		Name:            "splitflow.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultCacheConfig returns the default report cache configuration. The
// cache is disabled unless explicitly turned on.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		DB:           0,
		DefaultTTL:   30 * time.Second,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultReportConfig returns the default reporting configuration.
func DefaultReportConfig() ReportConfig {
	return ReportConfig{
		Timeout:           10 * time.Second,
		CacheTTL:          30 * time.Second,
		VelocityReference: 100,
	}
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}
