// Package config contains everything related to configuration
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/quotawatch/quotawatch/internal/models"
)

// Config holds the application configuration. It is a read-only input
// to the core; changes take effect on the next reschedule.
type Config struct {
	AccountsPath     string
	CachePath        string
	LogLevel         string
	PollInterval     time.Duration
	AlertCooldown    time.Duration
	BaseBackoff      time.Duration
	RateLimitBackoff time.Duration
	MaxRetries       int
	AutoWake         bool
	Thresholds       []models.ThresholdConfig
}

// Default values
const (
	DefaultPollInterval     = 5 * time.Minute
	defaultAlertCooldown    = 30 * time.Minute
	defaultMaxRetries       = 3
	defaultBaseBackoff      = 2 * time.Second
	defaultRateLimitBackoff = 15 * time.Second
)

// Load reads configuration from .env files and environment variables.
func Load() (*Config, error) {
	for _, path := range getEnvPaths() {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			break
		}
	}

	cfg := &Config{
		AccountsPath:     getEnvString("QUOTAWATCH_ACCOUNTS_PATH", defaultAccountsPath()),
		CachePath:        getEnvString("QUOTAWATCH_CACHE_PATH", defaultCachePath()),
		LogLevel:         getEnvString("QUOTAWATCH_LOG_LEVEL", "info"),
		PollInterval:     getEnvDuration("QUOTAWATCH_POLL_INTERVAL", DefaultPollInterval),
		AlertCooldown:    getEnvDuration("QUOTAWATCH_ALERT_COOLDOWN", defaultAlertCooldown),
		BaseBackoff:      getEnvDuration("QUOTAWATCH_BASE_BACKOFF", defaultBaseBackoff),
		RateLimitBackoff: getEnvDuration("QUOTAWATCH_RATE_LIMIT_BACKOFF", defaultRateLimitBackoff),
		MaxRetries:       getEnvInt("QUOTAWATCH_MAX_RETRIES", defaultMaxRetries),
		AutoWake:         getEnvBool("QUOTAWATCH_AUTO_WAKE", false),
		Thresholds:       loadThresholds(),
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}

	if err := ensureDir(filepath.Dir(cfg.AccountsPath)); err != nil {
		return nil, err
	}
	if err := ensureDir(filepath.Dir(cfg.CachePath)); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadThresholds builds the alert tuples from the per-axis fraction
// lists, falling back to the defaults when unset or unparseable.
func loadThresholds() []models.ThresholdConfig {
	session := getEnvFractions("QUOTAWATCH_SESSION_THRESHOLDS", []float64{0.75, 0.90})
	weekly := getEnvFractions("QUOTAWATCH_WEEKLY_THRESHOLDS", []float64{0.75, 0.90})

	thresholds := make([]models.ThresholdConfig, 0, len(session)+len(weekly))
	for _, f := range session {
		thresholds = append(thresholds, models.NewThreshold(models.AxisSession, f))
	}
	for _, f := range weekly {
		thresholds = append(thresholds, models.NewThreshold(models.AxisWeekly, f))
	}
	return thresholds
}

// getEnvPaths returns a list of paths to check for .env files.
func getEnvPaths() []string {
	var paths []string

	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".env"))
	}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "quotawatch", ".env"),
			filepath.Join(home, ".quotawatch", ".env"),
		)
	}

	return paths
}

func defaultAccountsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "accounts.json"
	}
	return filepath.Join(home, ".config", "quotawatch", "accounts.json")
}

func defaultCachePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "cache.db"
	}
	return filepath.Join(home, ".config", "quotawatch", "cache.db")
}

// getEnvString retrieves a string environment variable or returns the default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable or returns the default.
// Accepts values like "30s", "1m", "500ms", or bare seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvFractions parses a comma-separated list of fractions in (0, 1].
// Any invalid entry invalidates the whole list.
func getEnvFractions(key string, defaultValue []float64) []float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parts := strings.Split(value, ",")
	fractions := make([]float64, 0, len(parts))
	for _, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil || f <= 0 || f > 1 {
			return defaultValue
		}
		fractions = append(fractions, f)
	}
	return fractions
}

// ensureDir creates a directory and all parent directories if they don't exist.
func ensureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}
