// Package config loads server configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	AppEnv            string
	Port              string
	RedisURL          string
	LogLevel          string
	LogFormat         string
	PriceTickInterval time.Duration
	PortfolioCacheTTL time.Duration
	MaxClientsPerRoom int
}

func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:    getEnv("APP_ENV", "development"),
		Port:      getEnv("PORT", "8080"),
		RedisURL:  getEnv("REDIS_URL", ""),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	var err error
	if cfg.PriceTickInterval, err = getDuration("PRICE_TICK_INTERVAL", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.PortfolioCacheTTL, err = getDuration("PORTFOLIO_CACHE_TTL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.MaxClientsPerRoom, err = getInt("MAX_CLIENTS_PER_ROOM", 500); err != nil {
		return nil, err
	}

	if cfg.PriceTickInterval < time.Second {
		return nil, fmt.Errorf("PRICE_TICK_INTERVAL must be at least 1s, got %s", cfg.PriceTickInterval)
	}
	if cfg.MaxClientsPerRoom < 1 {
		return nil, fmt.Errorf("MAX_CLIENTS_PER_ROOM must be positive, got %d", cfg.MaxClientsPerRoom)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration (e.g. 10s): %w", key, err)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}
