package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.HTTPAddr)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, int64(10<<20), cfg.Upload.MaxFileSize)
	assert.Equal(t, 10000, cfg.Upload.MaxRecords)
	assert.Equal(t, []string{"text/csv", "application/vnd.ms-excel", "text/plain"}, cfg.Upload.AllowedMimeTypes)
	assert.Equal(t, 100, cfg.Upload.DefaultBatchSize)
	assert.Equal(t, 100, cfg.Upload.DefaultLimit)
	assert.Equal(t, 0, cfg.Upload.DefaultOffset)
	assert.Equal(t, 10, cfg.RateLimit.Max)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, RateLimitMemory, cfg.RateLimit.Backend)
	assert.Equal(t, "default-dev-key", cfg.Auth.APIKey)
	assert.Equal(t, "x-api-key", cfg.Auth.Header)
	assert.Equal(t, StoreBolt, cfg.Store.Driver)
	assert.Equal(t, 10000, cfg.Store.LogCapacity)
	assert.Equal(t, "bulk_upload", cfg.Database.DBName)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSAllowedOrigins)
	assert.True(t, cfg.TrustForwardedFor)
	assert.Empty(t, cfg.ConfigFile)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("RATE_LIMIT_MAX", "3")
	t.Setenv("RATE_LIMIT_WINDOW_MS", "1500")
	t.Setenv("ALLOWED_MIME_TYPES", " text/csv , text/tab-separated-values ,")
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("INGESTION_LOG_CAPACITY", "250")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.RateLimit.Max)
	assert.Equal(t, 1500*time.Millisecond, cfg.RateLimit.Window)
	assert.Equal(t, []string{"text/csv", "text/tab-separated-values"}, cfg.Upload.AllowedMimeTypes)
	assert.Equal(t, StoreMemory, cfg.Store.Driver)
	assert.Equal(t, 250, cfg.Store.LogCapacity)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := `
http_addr: ":8080"
default_batch_size: 25
allowed_mime_types:
  - text/csv
  - text/plain
database:
  host: pg
  dbname: uploads
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o600))

	t.Setenv("DEFAULT_BATCH_SIZE", "50")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 50, cfg.Upload.DefaultBatchSize, "environment wins over the file")
	assert.Equal(t, []string{"text/csv", "text/plain"}, cfg.Upload.AllowedMimeTypes)
	assert.Equal(t, "pg", cfg.Database.Host)
	assert.Equal(t, "uploads", cfg.Database.DBName)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, filepath.Join(dir, "config.yaml"), cfg.ConfigFile)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"zero batch size":      {"DEFAULT_BATCH_SIZE": "0"},
		"non-numeric max":      {"RATE_LIMIT_MAX": "lots"},
		"negative window":      {"RATE_LIMIT_WINDOW_MS": "-1"},
		"unknown store":        {"STORE_DRIVER": "sqlite"},
		"unknown backend":      {"RATE_LIMIT_BACKEND": "memcached"},
		"bad log level":        {"LOG_LEVEL": "chatty"},
		"empty mime type list": {"ALLOWED_MIME_TYPES": " , "},
		"zero log capacity":    {"INGESTION_LOG_CAPACITY": "0"},
	}

	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load(t.TempDir())
			require.Error(t, err)
		})
	}
}

func TestValidateListsEveryProblem(t *testing.T) {
	cfg := Config{}
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "RATE_LIMIT_MAX"))
	assert.True(t, strings.Contains(err.Error(), "STORE_DRIVER"))
}
