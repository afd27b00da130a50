package mitmsession

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/usestring/mitmsession/internal/config"
)

// engineConfig holds configuration built from options.
type engineConfig struct {
	config *config.Config

	// Logging overrides
	logLevel string
	logFile  string

	registerer prometheus.Registerer
}

// Option configures the engine.
type Option func(*engineConfig)

// WithLogLevel sets the log level (debug, info, warn, error).
func WithLogLevel(level string) Option {
	return func(cfg *engineConfig) {
		cfg.logLevel = level
	}
}

// WithLogFile sets the log file path.
// If empty, logs are written to stderr only.
func WithLogFile(path string) Option {
	return func(cfg *engineConfig) {
		cfg.logFile = path
	}
}

// WithUpgradeTimeout bounds how long an upgrade request without a session
// marker waits for its handshake report.
func WithUpgradeTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) {
		cfg.config.UpgradeTimeout = d
	}
}

// WithPendingResourceMax bounds the per-session pending resource table.
func WithPendingResourceMax(n int) Option {
	return func(cfg *engineConfig) {
		cfg.config.PendingResourceMax = n
	}
}

// WithCloseAllTimeout bounds CloseAll.
func WithCloseAllTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) {
		cfg.config.CloseAllTimeout = d
	}
}

// WithSessionHeaderPrefix changes the marker header prefix.
func WithSessionHeaderPrefix(prefix string) Option {
	return func(cfg *engineConfig) {
		cfg.config.SessionHeaderPrefix = prefix
	}
}

// WithPrometheusRegisterer registers the engine's metrics with reg instead of
// a private registry.
func WithPrometheusRegisterer(reg prometheus.Registerer) Option {
	return func(cfg *engineConfig) {
		cfg.registerer = reg
	}
}
