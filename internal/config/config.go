package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds all daemon configuration
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Input interception configuration
	Input InputConfig

	// Switcher timing configuration
	Switcher SwitcherConfig

	// Daemon process configuration
	Daemon DaemonConfig

	// Web server configuration
	Web WebConfig

	// LogLevel is one of debug, info, warn, error
	LogLevel string
}

// DatabaseConfig holds the preference store location
type DatabaseConfig struct {
	Path string // Path to SQLite database file, empty means the default
}

// InputConfig holds release-detector tuning
type InputConfig struct {
	PollInterval time.Duration // Sampling period of the release detectors
	Quorum       time.Duration // Continuous-release time the watchdog requires
}

// SwitcherConfig holds session timing
type SwitcherConfig struct {
	FallbackReveal time.Duration // Hard deadline for showing the overlay
	SeedTimeout    time.Duration // Max wait for initial recency seeding
	MonitorPeriod  time.Duration // Display-server availability probe period
}

// DaemonConfig holds daemon process configuration
type DaemonConfig struct {
	PIDFile string // Path to PID file for daemon management
}

// WebConfig holds web server configuration
type WebConfig struct {
	Host string // Host to bind web server to
	Port int    // Port for web server
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: "", // Empty means use default ~/.config/quickswitch/quickswitch.db
		},
		Input: InputConfig{
			PollInterval: 30 * time.Millisecond,
			Quorum:       250 * time.Millisecond,
		},
		Switcher: SwitcherConfig{
			FallbackReveal: 300 * time.Millisecond,
			SeedTimeout:    500 * time.Millisecond,
			MonitorPeriod:  5 * time.Second,
		},
		Daemon: DaemonConfig{
			PIDFile: fmt.Sprintf("/tmp/quickswitch-%d.pid", os.Getuid()),
		},
		Web: WebConfig{
			Host: "localhost",
			Port: 10000 + os.Getuid(),
		},
		LogLevel: "info",
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Input.PollInterval <= 0 {
		return fmt.Errorf("input poll interval must be positive, got %v", c.Input.PollInterval)
	}

	if c.Input.Quorum < c.Input.PollInterval {
		return fmt.Errorf("release quorum (%v) cannot be shorter than the poll interval (%v)",
			c.Input.Quorum, c.Input.PollInterval)
	}

	if c.Switcher.FallbackReveal <= 0 {
		return fmt.Errorf("fallback reveal must be positive, got %v", c.Switcher.FallbackReveal)
	}

	if c.Switcher.SeedTimeout <= 0 {
		return fmt.Errorf("seed timeout must be positive, got %v", c.Switcher.SeedTimeout)
	}

	if c.Web.Port < 1 || c.Web.Port > 65535 {
		return fmt.Errorf("web port must be between 1 and 65535, got %d", c.Web.Port)
	}

	if c.Web.Host == "" {
		return fmt.Errorf("web host cannot be empty")
	}

	if c.Daemon.PIDFile == "" {
		return fmt.Errorf("PID file path cannot be empty")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}

	return nil
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf(`Configuration:
  Database:
    Path: %s
  Input:
    Poll Interval: %v
    Release Quorum: %v
  Switcher:
    Fallback Reveal: %v
    Seed Timeout: %v
    Monitor Period: %v
  Daemon:
    PID File: %s
  Web:
    Host: %s
    Port: %d
  Log Level: %s`,
		c.Database.Path,
		c.Input.PollInterval,
		c.Input.Quorum,
		c.Switcher.FallbackReveal,
		c.Switcher.SeedTimeout,
		c.Switcher.MonitorPeriod,
		c.Daemon.PIDFile,
		c.Web.Host,
		c.Web.Port,
		c.LogLevel,
	)
}
