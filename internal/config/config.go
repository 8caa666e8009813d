package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every engine knob. Parallelism is the size of the shared
// worker pool and bounds how many instruments match concurrently.
type Config struct {
	Parallelism  int
	ScanInterval time.Duration
	MatchIdle    time.Duration
	ShutdownWait time.Duration
	LogLevel     string
}

// Default returns the built-in configuration: four workers, a 100ms registry
// scan, a 1ms matcher idle and a 30s bounded shutdown wait.
func Default() *Config {
	return &Config{
		Parallelism:  4,
		ScanInterval: 100 * time.Millisecond,
		MatchIdle:    time.Millisecond,
		ShutdownWait: 30 * time.Second,
		LogLevel:     "info",
	}
}

// Load reads configuration from a .env file (if present) and the process
// environment, falling back to defaults.
func Load() (*Config, error) {
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	def := Default()
	cfg := &Config{
		Parallelism:  envInt("SKARV_PARALLELISM", def.Parallelism),
		ScanInterval: envDuration("SKARV_SCAN_INTERVAL", def.ScanInterval),
		MatchIdle:    envDuration("SKARV_MATCH_IDLE", def.MatchIdle),
		ShutdownWait: envDuration("SKARV_SHUTDOWN_WAIT", def.ShutdownWait),
		LogLevel:     envString("SKARV_LOG_LEVEL", def.LogLevel),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the scheduler cannot run with.
func (c *Config) Validate() error {
	if c.Parallelism <= 0 {
		return fmt.Errorf("invalid parallelism: %d", c.Parallelism)
	}
	if c.ScanInterval <= 0 {
		return fmt.Errorf("invalid scan interval: %s", c.ScanInterval)
	}
	if c.MatchIdle <= 0 {
		return fmt.Errorf("invalid match idle: %s", c.MatchIdle)
	}
	if c.ShutdownWait <= 0 {
		return fmt.Errorf("invalid shutdown wait: %s", c.ShutdownWait)
	}
	return nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
