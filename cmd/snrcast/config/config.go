// Package config provides configuration parsing for the snrcast daemon.
//
// It handles both command-line flags and environment variables, with flags
// taking precedence. The Config struct contains all runtime configuration:
//   - Exposure identification (exposure id, SNR goal, cutoff)
//   - Observing conditions used for calibration (airmass, E(B-V) dust)
//   - Forecast parameters (grid resolution, confidence level, sample count)
//   - Storage backend selection (memory or redis)
//   - Logging configuration (level, format)
//
// Supported configuration sources (in order of precedence):
//  1. Command-line flags
//  2. Environment variables
//  3. Default values
package config

import (
	"flag"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Config holds all snrcast configuration.
type Config struct {
	Listen    string
	LogFormat string
	LogLevel  string

	Storage       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration

	Exposure   string
	SNRGoal    float64
	CutoffSec  float64
	GridPoints int
	Seed       uint64

	Airmass float64
	EBV     float64

	ConfidenceLevel string
	Samples         int
	Interval        time.Duration
}

var exposureIDRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9_-]{0,251}[a-zA-Z0-9])?$`)

// ParseFlags parses command-line flags and environment variables into a
// Config. Environment variables are used as fallbacks when flags are not
// provided. Each snrcast instance tracks a single exposure.
func ParseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8082"), "HTTP listen address")

	flag.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	flag.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "memory"), "Storage backend: memory or redis")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	flag.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")
	flag.DurationVar(&cfg.RedisTTL, "redis-ttl", getEnvDuration("REDIS_TTL", 30*time.Minute), "Redis snapshot TTL")

	flag.StringVar(&cfg.Exposure, "exposure", getEnv("EXPOSURE", ""), "Exposure identifier (required)")
	flag.Float64Var(&cfg.SNRGoal, "snr-goal", getEnvFloat("SNR_GOAL", 10.0), "Target signal-to-noise ratio")
	flag.Float64Var(&cfg.CutoffSec, "cutoff", getEnvFloat("CUTOFF", 5000.0), "Maximum exposure duration in seconds")
	flag.IntVar(&cfg.GridPoints, "grid-points", getEnvInt("GRID_POINTS", 1000), "Number of prediction grid points")
	flag.Uint64Var(&cfg.Seed, "seed", getEnvUint64("SEED", 0), "Random seed for sampling (0 picks an arbitrary seed)")

	flag.Float64Var(&cfg.Airmass, "airmass", getEnvFloat("AIRMASS", 1.0), "Airmass of the observation (>= 1)")
	flag.Float64Var(&cfg.EBV, "ebv", getEnvFloat("EBV", 0.0), "E(B-V) dust extinction toward the target")

	flag.StringVar(&cfg.ConfidenceLevel, "confidence", getEnv("CONFIDENCE", "p68.27"), "Confidence level for SNR intervals (p68.27, p95, or 0.6827)")
	flag.IntVar(&cfg.Samples, "samples", getEnvInt("SAMPLES", 1000), "Monte Carlo samples per SNR interval")
	flag.DurationVar(&cfg.Interval, "interval", getEnvDuration("INTERVAL", 1*time.Second), "Guider packet polling interval")

	flag.Parse()

	if cfg.Exposure == "" {
		fmt.Fprintln(os.Stderr, "Error: --exposure is required")
		os.Exit(1)
	}

	return cfg
}

// Validate checks value ranges that ParseFlags cannot enforce through
// defaults alone.
func (cfg *Config) Validate() error {
	if !exposureIDRegex.MatchString(cfg.Exposure) {
		return fmt.Errorf("invalid exposure id %q (must be alphanumeric with dash/underscore, 1-253 chars)", cfg.Exposure)
	}
	if cfg.SNRGoal <= 0 {
		return fmt.Errorf("snr-goal must be > 0, got %v", cfg.SNRGoal)
	}
	if cfg.CutoffSec <= 0 {
		return fmt.Errorf("cutoff must be > 0, got %v", cfg.CutoffSec)
	}
	if cfg.GridPoints < 2 {
		return fmt.Errorf("grid-points must be >= 2, got %d", cfg.GridPoints)
	}
	if cfg.Airmass < 1 {
		return fmt.Errorf("airmass must be >= 1, got %v", cfg.Airmass)
	}
	if cfg.EBV < 0 {
		return fmt.Errorf("ebv must be >= 0, got %v", cfg.EBV)
	}
	if cfg.Samples <= 0 {
		return fmt.Errorf("samples must be > 0, got %d", cfg.Samples)
	}
	if cfg.Storage != "memory" && cfg.Storage != "redis" {
		return fmt.Errorf("storage must be memory or redis, got %q", cfg.Storage)
	}
	if _, err := ParseConfidenceLevel(cfg.ConfidenceLevel); err != nil {
		return err
	}
	return nil
}

// ParseConfidenceLevel parses a confidence level from either p-notation
// (p68.27, p95) or decimal notation (0.6827, 0.95).
//
// Examples:
//   - "p68.27" → 0.6827
//   - "p95" → 0.95
//   - "0.95" → 0.95
//
// Returns error if the format is invalid or the value is outside (0, 1).
func ParseConfidenceLevel(s string) (float64, error) {
	s = strings.TrimSpace(s)

	var level float64
	if strings.HasPrefix(strings.ToLower(s), "p") {
		percentile, err := strconv.ParseFloat(s[1:], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid p-notation %q: %w", s, err)
		}
		level = percentile / 100.0
	} else {
		var err error
		level, err = strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid confidence level %q: %w", s, err)
		}
	}

	if level <= 0 || level >= 1 {
		return 0, fmt.Errorf("confidence level %v outside (0, 1)", level)
	}
	return level, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if u, err := strconv.ParseUint(value, 10, 64); err == nil {
			return u
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
