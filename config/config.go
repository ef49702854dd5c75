// Package config loads runtime configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	// HTTP server
	Port string

	// Database. Backend is "sqlite" or "memory".
	Backend string
	DBPath  string

	// Planning window
	BaseYear     int
	HorizonYears int

	// DefaultGrowth is the fallback annual growth rate used when entry
	// history is too thin to derive one, e.g. 0.03 for 3%.
	DefaultGrowth decimal.Decimal

	// Deadline scheduler
	SchedulerEnabled  bool
	SchedulerInterval time.Duration

	LogLevel string
}

func Load() *Config {
	// Missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	return &Config{
		Port:    getEnv("PORT", "8080"),
		Backend: getEnv("DATA_BACKEND", "sqlite"),
		DBPath:  getEnv("DB_PATH", "./data/budget.db"),

		BaseYear:      getEnvInt("BASE_YEAR", 2025),
		HorizonYears:  getEnvInt("HORIZON_YEARS", 4),
		DefaultGrowth: getEnvDecimal("DEFAULT_GROWTH", decimal.NewFromFloat(0.03)),

		SchedulerEnabled:  getEnvBool("SCHEDULER_ENABLED", true),
		SchedulerInterval: getEnvDuration("SCHEDULER_INTERVAL", time.Minute),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

func (c *Config) Validate() error {
	var problems []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		problems = append(problems, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	switch c.Backend {
	case "sqlite":
		if c.DBPath == "" {
			problems = append(problems, "database path cannot be empty with the sqlite backend")
		}
	case "memory":
	default:
		problems = append(problems, fmt.Sprintf("invalid data backend '%s': must be sqlite or memory", c.Backend))
	}

	if c.BaseYear < 2000 || c.BaseYear > 2100 {
		problems = append(problems, fmt.Sprintf("invalid base year %d", c.BaseYear))
	}
	if c.HorizonYears < 1 || c.HorizonYears > 10 {
		problems = append(problems, fmt.Sprintf("invalid horizon %d: must be between 1 and 10 years", c.HorizonYears))
	}
	if c.DefaultGrowth.LessThan(decimal.NewFromInt(-1)) || c.DefaultGrowth.GreaterThan(decimal.NewFromInt(1)) {
		problems = append(problems, fmt.Sprintf("invalid default growth %s: must be a rate between -1 and 1", c.DefaultGrowth))
	}
	if c.SchedulerInterval < time.Second {
		problems = append(problems, fmt.Sprintf("invalid scheduler interval %v: must be at least 1 second", c.SchedulerInterval))
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
