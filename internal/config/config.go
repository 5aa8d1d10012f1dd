package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server  ServerConfig
	Sources SourcesConfig
	Cache   CacheConfig
	DB      DatabaseConfig
	Auth    AuthConfig
	Logging LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	RateLimitRPS int
}

type SourcesConfig struct {
	USGSEnabled      bool
	USGSBaseURL      string
	USGSMinMagnitude float64
	WeatherEnabled   bool
	WeatherURL       string
	FetchTimeout     time.Duration
	FetchRetries     int
}

type CacheConfig struct {
	RefreshInterval time.Duration
	MaxAge          time.Duration
}

type DatabaseConfig struct {
	Path string
}

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

type LoggingConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "localhost"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			RateLimitRPS: getEnvInt("RATE_LIMIT_RPS", 5),
		},
		Sources: SourcesConfig{
			USGSEnabled:      getEnvBool("USGS_ENABLED", true),
			USGSBaseURL:      getEnv("USGS_BASE_URL", "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary"),
			USGSMinMagnitude: getEnvFloat("USGS_MIN_MAGNITUDE", 2.5),
			WeatherEnabled:   getEnvBool("WEATHER_ENABLED", true),
			WeatherURL:       getEnv("WEATHER_URL", "https://api.weather.gov/alerts/active"),
			FetchTimeout:     getEnvDuration("FETCH_TIMEOUT", 15*time.Second),
			FetchRetries:     getEnvInt("FETCH_RETRIES", 2),
		},
		Cache: CacheConfig{
			RefreshInterval: getEnvDuration("CACHE_REFRESH_INTERVAL", 30*time.Second),
			MaxAge:          getEnvDuration("CACHE_MAX_AGE", 5*time.Minute),
		},
		DB: DatabaseConfig{
			Path: getEnv("DB_PATH", "./data/alerthub.db"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			TokenTTL:  getEnvDuration("TOKEN_TTL", 24*time.Hour),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Cache.RefreshInterval < time.Second {
		return fmt.Errorf("cache refresh interval must be at least 1 second")
	}
	if c.Cache.MaxAge < c.Cache.RefreshInterval {
		return fmt.Errorf("cache max age must not be shorter than the refresh interval")
	}

	if c.Sources.FetchTimeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive")
	}
	if c.Sources.FetchRetries < 0 {
		return fmt.Errorf("fetch retries must not be negative")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
