// Package config provides configuration loading from environment variables.
package config

import (
	"os"
	"strconv"
	"time"
)

// DefaultSessionHeaderPrefix is the header-name marker that carries a session
// id on proxied requests ("mitm-session-id-<id>").
const DefaultSessionHeaderPrefix = "mitm-session-id-"

// Correlation defaults
const (
	DefaultUpgradeTimeoutMs   = 10000
	DefaultPendingResourceMax = 10000
	DefaultCloseAllTimeoutMs  = 30000
)

// Config holds all configuration for the correlation engine.
type Config struct {
	UpgradeTimeout      time.Duration // UPGRADE_TIMEOUT_MS, default 10000ms (10s)
	PendingResourceMax  int           // PENDING_RESOURCE_MAX, default 10000 per session
	CloseAllTimeout     time.Duration // CLOSE_ALL_TIMEOUT_MS, default 30000ms (30s)
	SessionHeaderPrefix string        // SESSION_HEADER_PREFIX, default "mitm-session-id-"

	// Logging configuration
	LogLevel      string // LOG_LEVEL, default "info"
	LogFile       string // LOG_FILE, default "" (stderr only)
	LogMaxSizeMB  int    // LOG_MAX_SIZE_MB, default 10
	LogMaxBackups int    // LOG_MAX_BACKUPS, default 5
	LogMaxAgeDays int    // LOG_MAX_AGE_DAYS, default 28
	LogCompress   bool   // LOG_COMPRESS, default true
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		UpgradeTimeout:      getEnvDurationMs("UPGRADE_TIMEOUT_MS", DefaultUpgradeTimeoutMs),
		PendingResourceMax:  getEnvInt("PENDING_RESOURCE_MAX", DefaultPendingResourceMax),
		CloseAllTimeout:     getEnvDurationMs("CLOSE_ALL_TIMEOUT_MS", DefaultCloseAllTimeoutMs),
		SessionHeaderPrefix: getEnvString("SESSION_HEADER_PREFIX", DefaultSessionHeaderPrefix),

		LogLevel:      getEnvString("LOG_LEVEL", "info"),
		LogFile:       getEnvString("LOG_FILE", ""),
		LogMaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 10),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 28),
		LogCompress:   getEnvBool("LOG_COMPRESS", true),
	}
}

// Default returns the configuration used when no environment is consulted,
// e.g. in tests.
func Default() *Config {
	return &Config{
		UpgradeTimeout:      DefaultUpgradeTimeoutMs * time.Millisecond,
		PendingResourceMax:  DefaultPendingResourceMax,
		CloseAllTimeout:     DefaultCloseAllTimeoutMs * time.Millisecond,
		SessionHeaderPrefix: DefaultSessionHeaderPrefix,
		LogLevel:            "info",
	}
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		switch v {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return defaultVal
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDurationMs(key string, defaultMs int) time.Duration {
	ms := getEnvInt(key, defaultMs)
	return time.Duration(ms) * time.Millisecond
}
