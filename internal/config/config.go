package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shaobai0824/model-api/internal/cron"
)

// Config contains all runtime settings for the memory service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	LogLevel  string
	LogFormat string

	MemoryBackend    string
	MemoryDataDir    string
	MemorySQLitePath string
	DatabaseURL      string

	MaxMessagesPerUser int
	MaxContextMessages int
	MemoryExpireDays   int

	// SweepSchedule is a five-field cron expression. Empty disables the
	// scheduled expiry sweep.
	SweepSchedule string
	RedactPII     bool
}

// Defaults returns the settings used when neither a config file nor the
// environment says otherwise.
func Defaults() Config {
	return Config{
		BindAddr:           ":8004",
		ShutdownTimeout:    15 * time.Second,
		MetricsNamespace:   "memory",
		LogLevel:           "info",
		LogFormat:          "text",
		MemoryBackend:      "file",
		MemoryDataDir:      "memory_data",
		MemorySQLitePath:   "memory_data/memory.db",
		MaxMessagesPerUser: 50,
		MaxContextMessages: 10,
		MemoryExpireDays:   30,
		SweepSchedule:      "0 3 * * *",
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// APP_CONFIG_FILE (if any), then environment variables.
func Load() (Config, error) {
	cfg := Defaults()

	if path := stringsTrimSpace("APP_CONFIG_FILE"); path != "" {
		fc, err := loadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := fc.apply(&cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.BindAddr = envOrDefault("APP_BIND_ADDR", cfg.BindAddr)
	cfg.MetricsNamespace = envOrDefault("APP_METRICS_NAMESPACE", cfg.MetricsNamespace)
	cfg.LogLevel = strings.ToLower(envOrDefault("LOG_LEVEL", cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(envOrDefault("LOG_FORMAT", cfg.LogFormat))
	cfg.MemoryBackend = strings.ToLower(envOrDefault("MEMORY_BACKEND", cfg.MemoryBackend))
	cfg.MemoryDataDir = envOrDefault("MEMORY_DATA_DIR", cfg.MemoryDataDir)
	cfg.MemorySQLitePath = envOrDefault("MEMORY_SQLITE_PATH", cfg.MemorySQLitePath)
	if v := stringsTrimSpace("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v, ok := os.LookupEnv("MEMORY_SWEEP_SCHEDULE"); ok {
		cfg.SweepSchedule = trimSpace(v)
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.RedactPII, err = boolFromEnv("MEMORY_REDACT_PII", cfg.RedactPII)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxMessagesPerUser, err = intFromEnv("MAX_MESSAGES_PER_USER", cfg.MaxMessagesPerUser)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxContextMessages, err = intFromEnv("MAX_CONTEXT_MESSAGES", cfg.MaxContextMessages)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryExpireDays, err = intFromEnv("MEMORY_EXPIRE_DAYS", cfg.MemoryExpireDays)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if trimSpace(c.BindAddr) == "" {
		return fmt.Errorf("APP_BIND_ADDR must not be empty")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.MaxMessagesPerUser <= 0 {
		return fmt.Errorf("MAX_MESSAGES_PER_USER must be positive")
	}
	if c.MaxContextMessages <= 0 {
		return fmt.Errorf("MAX_CONTEXT_MESSAGES must be positive")
	}
	if c.MemoryExpireDays <= 0 {
		return fmt.Errorf("MEMORY_EXPIRE_DAYS must be positive")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	switch c.MemoryBackend {
	case "auto", "file", "sqlite", "inmemory":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("MEMORY_BACKEND=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("MEMORY_BACKEND must be one of auto|file|sqlite|postgres|inmemory, got %q", c.MemoryBackend)
	}
	if c.SweepSchedule != "" {
		if err := cron.ValidateSchedule(c.SweepSchedule); err != nil {
			return fmt.Errorf("MEMORY_SWEEP_SCHEDULE: %w", err)
		}
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	return strings.TrimSpace(v)
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	return parseBool(key, v)
}

func parseBool(key, v string) (bool, error) {
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
