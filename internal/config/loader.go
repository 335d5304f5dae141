package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rpattn/bulkingest/internal/db"
	"github.com/spf13/viper"
)

// Store drivers.
const (
	StoreBolt     = "bolt"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Rate limit backends.
const (
	RateLimitMemory = "memory"
	RateLimitRedis  = "redis"
)

// Config is the complete service configuration.
type Config struct {
	HTTPAddr string
	LogLevel slog.Level

	Upload    UploadConfig
	RateLimit RateLimitConfig
	Auth      AuthConfig
	Store     StoreConfig
	Database  db.Config

	CORSAllowedOrigins []string
	TrustForwardedFor  bool

	// ConfigFile is the file that was read, empty when only defaults and
	// the environment were used.
	ConfigFile string
}

type UploadConfig struct {
	MaxFileSize      int64
	MaxRecords       int
	AllowedMimeTypes []string
	DefaultBatchSize int
	DefaultLimit     int
	DefaultOffset    int
}

type RateLimitConfig struct {
	Max           int
	Window        time.Duration
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

type AuthConfig struct {
	APIKey string
	Header string
}

type StoreConfig struct {
	Driver   string
	BoltPath string
	// LogCapacity bounds the in-memory ingestion log used by the bolt and
	// memory drivers.
	LogCapacity int
}

func setDefaults(v *viper.Viper) {
	dbDefaults := db.DefaultConfig()

	v.SetDefault("http_addr", ":3000")
	v.SetDefault("log_level", "info")
	v.SetDefault("max_file_size_bytes", 10485760)
	v.SetDefault("max_records_per_upload", 10000)
	v.SetDefault("allowed_mime_types", "text/csv,application/vnd.ms-excel,text/plain")
	v.SetDefault("default_batch_size", 100)
	v.SetDefault("default_records_limit", 100)
	v.SetDefault("default_records_offset", 0)
	v.SetDefault("rate_limit_max", 10)
	v.SetDefault("rate_limit_window_ms", 60000)
	v.SetDefault("rate_limit_backend", RateLimitMemory)
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("api_key", "default-dev-key")
	v.SetDefault("api_key_header", "x-api-key")
	v.SetDefault("store_driver", StoreBolt)
	v.SetDefault("bolt_path", "data/bulk-upload.db")
	v.SetDefault("ingestion_log_capacity", 10000)
	v.SetDefault("cors_allowed_origins", "http://localhost:3000")
	v.SetDefault("trust_forwarded_for", true)

	v.SetDefault("database.host", dbDefaults.Host)
	v.SetDefault("database.port", dbDefaults.Port)
	v.SetDefault("database.user", dbDefaults.User)
	v.SetDefault("database.password", dbDefaults.Password)
	v.SetDefault("database.dbname", dbDefaults.DBName)
	v.SetDefault("database.sslmode", dbDefaults.SSLMode)
}

// Load reads config.yaml from configPath when present; environment
// variables (HTTP_ADDR, RATE_LIMIT_MAX, DB_HOST, ...) override it.
func Load(configPath string) (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AutomaticEnv()

	// nested database keys read the DB_* variables
	_ = v.BindEnv("database.host", "DB_HOST")
	_ = v.BindEnv("database.port", "DB_PORT")
	_ = v.BindEnv("database.user", "DB_USER")
	_ = v.BindEnv("database.password", "DB_PASSWORD")
	_ = v.BindEnv("database.dbname", "DB_NAME")
	_ = v.BindEnv("database.sslmode", "DB_SSLMODE")

	setDefaults(v)

	cfg := Config{}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		cfg.ConfigFile = v.ConfigFileUsed()
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("log_level"))); err != nil {
		return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	cfg.HTTPAddr = v.GetString("http_addr")
	cfg.Upload = UploadConfig{
		MaxFileSize:      v.GetInt64("max_file_size_bytes"),
		MaxRecords:       v.GetInt("max_records_per_upload"),
		AllowedMimeTypes: list(v, "allowed_mime_types"),
		DefaultBatchSize: v.GetInt("default_batch_size"),
		DefaultLimit:     v.GetInt("default_records_limit"),
		DefaultOffset:    v.GetInt("default_records_offset"),
	}
	cfg.RateLimit = RateLimitConfig{
		Max:           v.GetInt("rate_limit_max"),
		Window:        time.Duration(v.GetInt64("rate_limit_window_ms")) * time.Millisecond,
		Backend:       strings.ToLower(strings.TrimSpace(v.GetString("rate_limit_backend"))),
		RedisAddr:     v.GetString("redis_addr"),
		RedisPassword: v.GetString("redis_password"),
		RedisDB:       v.GetInt("redis_db"),
	}
	cfg.Auth = AuthConfig{
		APIKey: v.GetString("api_key"),
		Header: v.GetString("api_key_header"),
	}
	cfg.Store = StoreConfig{
		Driver:      strings.ToLower(strings.TrimSpace(v.GetString("store_driver"))),
		BoltPath:    v.GetString("bolt_path"),
		LogCapacity: v.GetInt("ingestion_log_capacity"),
	}
	cfg.Database = db.Config{
		Host:     v.GetString("database.host"),
		Port:     v.GetInt("database.port"),
		User:     v.GetString("database.user"),
		Password: v.GetString("database.password"),
		DBName:   v.GetString("database.dbname"),
		SSLMode:  v.GetString("database.sslmode"),
	}
	cfg.CORSAllowedOrigins = list(v, "cors_allowed_origins")
	cfg.TrustForwardedFor = v.GetBool("trust_forwarded_for")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the service cannot run with.
func (c Config) Validate() error {
	var problems []string
	if c.Upload.MaxFileSize < 1 {
		problems = append(problems, "MAX_FILE_SIZE_BYTES must be positive")
	}
	if c.Upload.MaxRecords < 1 {
		problems = append(problems, "MAX_RECORDS_PER_UPLOAD must be positive")
	}
	if len(c.Upload.AllowedMimeTypes) == 0 {
		problems = append(problems, "ALLOWED_MIME_TYPES must not be empty")
	}
	if c.Upload.DefaultBatchSize < 1 {
		problems = append(problems, "DEFAULT_BATCH_SIZE must be at least 1")
	}
	if c.Upload.DefaultLimit < 1 {
		problems = append(problems, "DEFAULT_RECORDS_LIMIT must be at least 1")
	}
	if c.Upload.DefaultOffset < 0 {
		problems = append(problems, "DEFAULT_RECORDS_OFFSET must not be negative")
	}
	if c.RateLimit.Max < 1 {
		problems = append(problems, "RATE_LIMIT_MAX must be at least 1")
	}
	if c.RateLimit.Window <= 0 {
		problems = append(problems, "RATE_LIMIT_WINDOW_MS must be positive")
	}
	switch c.RateLimit.Backend {
	case RateLimitMemory, RateLimitRedis:
	default:
		problems = append(problems, fmt.Sprintf("RATE_LIMIT_BACKEND %q is not one of memory, redis", c.RateLimit.Backend))
	}
	switch c.Store.Driver {
	case StoreBolt, StorePostgres, StoreMemory:
	default:
		problems = append(problems, fmt.Sprintf("STORE_DRIVER %q is not one of bolt, postgres, memory", c.Store.Driver))
	}
	if c.Store.Driver != StorePostgres && c.Store.LogCapacity < 1 {
		problems = append(problems, "INGESTION_LOG_CAPACITY must be at least 1")
	}
	if c.Store.Driver == StoreBolt && strings.TrimSpace(c.Store.BoltPath) == "" {
		problems = append(problems, "BOLT_PATH is required for the bolt store")
	}
	if c.Auth.APIKey == "" {
		problems = append(problems, "API_KEY must not be empty")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// list reads a key that may be a YAML sequence or a comma separated string.
func list(v *viper.Viper, key string) []string {
	var raw []string
	if s, ok := v.Get(key).(string); ok {
		raw = strings.Split(s, ",")
	} else {
		raw = v.GetStringSlice(key)
	}

	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
