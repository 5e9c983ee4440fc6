package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseURL string
	Port        string
	Environment string

	// Upstream hiscores source
	HiscoresBaseURL       string
	HiscoresTimeout       time.Duration
	HiscoresRetryAttempts int
	HiscoresRetryDelay    time.Duration
	HiscoresRateLimit     float64 // requests per second

	// Update pipeline
	TrackerConcurrency   int
	MinUpdateInterval    time.Duration
	InactivityThreshold  time.Duration
	SuccessRateThreshold float64

	// Embedded scheduler (web server process)
	TrackerEnabled  bool
	TrackerInterval time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	// Default MySQL connection string for local development
	defaultDSN := "root:password@tcp(127.0.0.1:3306)/runetrack?charset=utf8mb4&parseTime=True&loc=Local"

	return &Config{
		DatabaseURL: getEnv("DATABASE_URL", defaultDSN),
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),

		HiscoresBaseURL:       getEnv("HISCORES_BASE_URL", "https://apps.runescape.com/runemetrics"),
		HiscoresTimeout:       getEnvDuration("HISCORES_TIMEOUT", 10*time.Second),
		HiscoresRetryAttempts: getEnvInt("HISCORES_RETRY_ATTEMPTS", 3),
		HiscoresRetryDelay:    getEnvDuration("HISCORES_RETRY_DELAY", 5*time.Second),
		HiscoresRateLimit:     getEnvFloat("HISCORES_RATE_LIMIT", 1.0),

		TrackerConcurrency:   getEnvInt("TRACKER_CONCURRENCY", 2),
		MinUpdateInterval:    getEnvDuration("MIN_UPDATE_INTERVAL", 30*time.Minute),
		InactivityThreshold:  getEnvDuration("INACTIVITY_THRESHOLD", 30*24*time.Hour),
		SuccessRateThreshold: getEnvFloat("SUCCESS_RATE_THRESHOLD", 0.8),

		TrackerEnabled:  getEnvBool("TRACKER_ENABLED", false),
		TrackerInterval: getEnvDuration("TRACKER_INTERVAL", 6*time.Hour),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
