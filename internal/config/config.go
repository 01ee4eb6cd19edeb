// Package config provides environment-aware configuration management for
// the entitlement service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

func parseEnvironment(raw string) (Environment, bool) {
	switch Environment(strings.ToLower(strings.TrimSpace(raw))) {
	case Development:
		return Development, true
	case Testing:
		return Testing, true
	case Production:
		return Production, true
	default:
		return "", false
	}
}

// Config holds all entitlement service configuration.
type Config struct {
	Env Environment

	// Database
	DatabaseDSN      string
	DBMaxConnections int
	DBIdleTimeout    time.Duration

	// Redis backs the distributed lock and idempotency marker store in
	// multi-instance deployments. Empty means "use the in-process
	// implementations", which is correct for a single instance and for
	// tests.
	RedisURL string

	// Cascade evaluator bounds
	CascadeMaxDepth  int
	CascadeTimeoutMs int64

	// Cache TTLs (read-mostly, swap-on-refresh)
	DependencyGraphTTL time.Duration
	RuleCacheTTL       time.Duration
	UserBadgeCacheTTL  time.Duration

	// Idempotency & locking
	ProcessedEventTTL        time.Duration
	RefundMarkerTTL          time.Duration
	RedemptionLockTTL        time.Duration
	RedemptionLockRetries    int
	RedemptionLockRetryDelay time.Duration

	// Auto-benefit evaluator
	AutoBenefitAsync bool

	// Ops HTTP surface (health, metrics, and the event/redemption/refund
	// endpoints; never admin CRUD)
	HTTPPort int

	// Logging
	LogLevel  string
	LogFormat string

	// Features
	MetricsEnabled bool
}

// Load loads configuration based on the APP_ENV environment variable.
func Load() (*Config, error) {
	envStr := os.Getenv("APP_ENV")
	if envStr == "" {
		envStr = string(Development)
	}
	env, ok := parseEnvironment(envStr)
	if !ok {
		return nil, fmt.Errorf("invalid APP_ENV: %s (must be development, testing, or production)", envStr)
	}

	configFile := filepath.Join("config", fmt.Sprintf("%s.env", env))
	if err := godotenv.Load(configFile); err != nil {
		if !os.IsNotExist(err) {
			fmt.Printf("Warning: could not load %s: %v\n", configFile, err)
		}
	}

	cfg := &Config{Env: env}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromEnv() error {
	c.DatabaseDSN = getEnv("DATABASE_DSN", "")
	if c.DatabaseDSN == "" && c.Env == Production {
		return fmt.Errorf("DATABASE_DSN is required in production")
	}
	c.DBMaxConnections = getIntEnv("DB_MAX_CONNECTIONS", 20)
	dbIdleTimeout, err := time.ParseDuration(getEnv("DB_IDLE_TIMEOUT", "5m"))
	if err != nil {
		return fmt.Errorf("invalid DB_IDLE_TIMEOUT: %w", err)
	}
	c.DBIdleTimeout = dbIdleTimeout

	c.RedisURL = getEnv("REDIS_URL", "")

	c.CascadeMaxDepth = getIntEnv("CASCADE_MAX_DEPTH", 10)
	c.CascadeTimeoutMs = int64(getIntEnv("CASCADE_TIMEOUT_MS", 5000))

	c.DependencyGraphTTL, err = parseDurationEnv("DEPENDENCY_GRAPH_TTL", 5*time.Minute)
	if err != nil {
		return err
	}
	c.RuleCacheTTL, err = parseDurationEnv("RULE_CACHE_TTL", 10*time.Minute)
	if err != nil {
		return err
	}
	c.UserBadgeCacheTTL, err = parseDurationEnv("USER_BADGE_CACHE_TTL", 15*time.Minute)
	if err != nil {
		return err
	}

	c.ProcessedEventTTL, err = parseDurationEnv("PROCESSED_EVENT_TTL", 24*time.Hour)
	if err != nil {
		return err
	}
	c.RefundMarkerTTL, err = parseDurationEnv("REFUND_MARKER_TTL", 24*time.Hour)
	if err != nil {
		return err
	}
	c.RedemptionLockTTL, err = parseDurationEnv("REDEMPTION_LOCK_TTL", 10*time.Second)
	if err != nil {
		return err
	}
	c.RedemptionLockRetries = getIntEnv("REDEMPTION_LOCK_RETRIES", 2)
	c.RedemptionLockRetryDelay, err = parseDurationEnv("REDEMPTION_LOCK_RETRY_DELAY", 50*time.Millisecond)
	if err != nil {
		return err
	}

	c.AutoBenefitAsync = getBoolEnv("AUTO_BENEFIT_ASYNC", true)

	c.HTTPPort = getIntEnv("HTTP_PORT", 8080)

	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.LogFormat = getEnv("LOG_FORMAT", "json")

	c.MetricsEnabled = getBoolEnv("METRICS_ENABLED", c.Env == Production)

	return nil
}

// IsDevelopment reports whether running in development.
func (c *Config) IsDevelopment() bool { return c.Env == Development }

// IsTesting reports whether running under test.
func (c *Config) IsTesting() bool { return c.Env == Testing }

// IsProduction reports whether running in production.
func (c *Config) IsProduction() bool { return c.Env == Production }

// Validate checks invariants that only matter once the environment is known.
func (c *Config) Validate() error {
	if c.IsProduction() && c.DatabaseDSN == "" {
		return fmt.Errorf("DATABASE_DSN must be set in production")
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP_PORT: %d", c.HTTPPort)
	}
	if c.CascadeMaxDepth < 0 {
		return fmt.Errorf("CASCADE_MAX_DEPTH must be >= 0")
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}
