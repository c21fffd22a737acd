package config

import (
	"encoding/base64"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "5000", cfg.Port)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "grocery.db", cfg.DSN())
	assert.Len(t, cfg.JWTSecret, 32)
	assert.Equal(t, 15*time.Minute, cfg.TokenTTL)
	assert.Equal(t, 24*time.Hour, cfg.NotifyInterval)
	assert.Equal(t, 2, cfg.ExpiryWindowDays)
	assert.Equal(t, time.UTC, cfg.Location)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("PORT", "8081")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/grocery")
	t.Setenv("JWT_SECRET", "this-is-a-very-long-secret-for-tests")
	t.Setenv("TOKEN_TTL", "1h")
	t.Setenv("EXPIRY_WINDOW_DAYS", "3")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "8081", cfg.Port)
	assert.Equal(t, "postgres://localhost/grocery", cfg.DSN())
	assert.Equal(t, []byte("this-is-a-very-long-secret-for-tests"), cfg.JWTSecret)
	assert.Equal(t, time.Hour, cfg.TokenTTL)
	assert.Equal(t, 3, cfg.ExpiryWindowDays)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"port", "PORT", "abc"},
		{"driver", "DB_DRIVER", "oracle"},
		{"short secret", "JWT_SECRET", "short"},
		{"bad base64 secret", "JWT_SECRET", "base64:not*base64"},
		{"short base64 secret", "JWT_SECRET", "base64:" + base64.StdEncoding.EncodeToString([]byte("sixteen-byte-key"))},
		{"ttl", "TOKEN_TTL", "soon"},
		{"window", "EXPIRY_WINDOW_DAYS", "-1"},
		{"timezone", "TIMEZONE", "Mars/Olympus"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestJWTSecretEncoding(t *testing.T) {
	// 44 characters that also happen to be valid base64 for 33 bytes.
	plain := "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQR"
	t.Setenv("JWT_SECRET", plain)
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []byte(plain), cfg.JWTSecret, "plain secrets are used byte for byte")

	raw := []byte("0123456789abcdef0123456789abcdef\x00\xff")
	t.Setenv("JWT_SECRET", "base64:"+base64.StdEncoding.EncodeToString(raw))
	cfg, err = LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, raw, cfg.JWTSecret)
}

func TestPostgresRequiresURL(t *testing.T) {
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")
	_, err := LoadConfig()
	assert.Error(t, err)
}
