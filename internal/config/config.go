// Package config loads server settings from the environment.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"grocery-tracker/internal/expiry"
)

// Config holds every setting the server reads at startup.
type Config struct {
	Port             string
	DBDriver         string
	DBPath           string
	DatabaseURL      string
	JWTSecret        []byte
	TokenTTL         time.Duration
	ExpiryWindowDays int
	Location         *time.Location
	NotifyInterval   time.Duration
	RedisAddr        string
	RedisPassword    string
	RecipeCacheTTL   time.Duration
	SpoonacularKey   string
	SpoonacularURL   string
	TwilioSID        string
	TwilioToken      string
	TwilioFrom       string
	LogLevel         slog.Level
}

// DSN returns the data source for the configured driver.
func (c *Config) DSN() string {
	if c.DBDriver == "postgres" {
		return c.DatabaseURL
	}
	return c.DBPath
}

// LoadConfig reads the configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "5000"),
		DBDriver:       strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DBPath:         getEnv("DB_PATH", "grocery.db"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		SpoonacularKey: getEnv("SPOONACULAR_API_KEY", ""),
		SpoonacularURL: getEnv("SPOONACULAR_URL", "https://api.spoonacular.com"),
		TwilioSID:      getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioToken:    getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFrom:     getEnv("TWILIO_PHONE_NUMBER", ""),
	}

	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return nil, fmt.Errorf("invalid PORT %q", cfg.Port)
	}

	switch cfg.DBDriver {
	case "sqlite":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return nil, fmt.Errorf("invalid DB_DRIVER %q (want sqlite or postgres)", cfg.DBDriver)
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		slog.Warn("JWT_SECRET environment variable not set. Generating a random key; tokens will be invalid after a restart.")
		key, err := generateRandomBytes(32)
		if err != nil {
			return nil, err
		}
		cfg.JWTSecret = key
	} else {
		key := []byte(secret)
		if encoded, ok := strings.CutPrefix(secret, "base64:"); ok {
			decoded, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				return nil, fmt.Errorf("invalid base64 JWT_SECRET: %w", err)
			}
			key = decoded
		}
		if len(key) < 32 {
			return nil, fmt.Errorf("JWT_SECRET must be at least 32 bytes")
		}
		cfg.JWTSecret = key
	}

	var err error
	if cfg.TokenTTL, err = getDuration("TOKEN_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.NotifyInterval, err = getDuration("NOTIFY_INTERVAL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.RecipeCacheTTL, err = getDuration("RECIPE_CACHE_TTL", time.Hour); err != nil {
		return nil, err
	}

	window := getEnv("EXPIRY_WINDOW_DAYS", strconv.Itoa(expiry.DefaultWindowDays))
	cfg.ExpiryWindowDays, err = strconv.Atoi(window)
	if err != nil || cfg.ExpiryWindowDays < 0 {
		return nil, fmt.Errorf("invalid EXPIRY_WINDOW_DAYS %q", window)
	}

	tz := getEnv("TIMEZONE", "UTC")
	cfg.Location, err = time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", tz, err)
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "INFO"))); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, value)
	}
	return d, nil
}

func generateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate random key: %w", err)
	}
	return b, nil
}
