package config

import (
	"os"
	"strconv"
	"time"
)

// LoadFromEnv loads configuration from environment variables
// Environment variables override default values
func LoadFromEnv(cfg *Config) {
	// Database configuration
	if dbPath := os.Getenv("QUICKSWITCH_DB_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}

	// Input configuration
	if poll := os.Getenv("QUICKSWITCH_POLL_INTERVAL_MS"); poll != "" {
		if ms, err := strconv.Atoi(poll); err == nil && ms > 0 {
			cfg.Input.PollInterval = time.Duration(ms) * time.Millisecond
		}
	}

	if quorum := os.Getenv("QUICKSWITCH_RELEASE_QUORUM_MS"); quorum != "" {
		if ms, err := strconv.Atoi(quorum); err == nil && ms > 0 {
			cfg.Input.Quorum = time.Duration(ms) * time.Millisecond
		}
	}

	// Switcher timing
	if reveal := os.Getenv("QUICKSWITCH_FALLBACK_REVEAL_MS"); reveal != "" {
		if ms, err := strconv.Atoi(reveal); err == nil && ms > 0 {
			cfg.Switcher.FallbackReveal = time.Duration(ms) * time.Millisecond
		}
	}

	if seed := os.Getenv("QUICKSWITCH_SEED_TIMEOUT_MS"); seed != "" {
		if ms, err := strconv.Atoi(seed); err == nil && ms > 0 {
			cfg.Switcher.SeedTimeout = time.Duration(ms) * time.Millisecond
		}
	}

	// Daemon configuration
	if pidFile := os.Getenv("QUICKSWITCH_PID_FILE"); pidFile != "" {
		cfg.Daemon.PIDFile = pidFile
	}

	// Web configuration
	if webHost := os.Getenv("QUICKSWITCH_WEB_HOST"); webHost != "" {
		cfg.Web.Host = webHost
	}

	if webPort := os.Getenv("QUICKSWITCH_WEB_PORT"); webPort != "" {
		if port, err := strconv.Atoi(webPort); err == nil && port > 0 && port <= 65535 {
			cfg.Web.Port = port
		}
	}

	// Logging
	if level := os.Getenv("QUICKSWITCH_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
}

// New creates a new Config with default values and loads from environment
func New() *Config {
	cfg := Default()
	LoadFromEnv(cfg)
	return cfg
}
