package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// envPattern matches ${VAR} and ${VAR:-default} expressions.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

// fileConfig mirrors Config for YAML files. Unset fields keep the value
// they already had.
type fileConfig struct {
	Server struct {
		BindAddr         string `yaml:"bind_addr"`
		ShutdownTimeout  string `yaml:"shutdown_timeout"`
		MetricsNamespace string `yaml:"metrics_namespace"`
		AllowAnyOrigin   *bool  `yaml:"allow_any_origin"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Memory struct {
		Backend            string  `yaml:"backend"`
		DataDir            string  `yaml:"data_dir"`
		SQLitePath         string  `yaml:"sqlite_path"`
		DatabaseURL        string  `yaml:"database_url"`
		MaxMessagesPerUser int     `yaml:"max_messages_per_user"`
		MaxContextMessages int     `yaml:"max_context_messages"`
		ExpireDays         int     `yaml:"expire_days"`
		SweepSchedule      *string `yaml:"sweep_schedule"`
		RedactPII          *bool   `yaml:"redact_pii"`
	} `yaml:"memory"`
}

func loadFile(path string) (fileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	expanded, err := expandEnv(raw)
	if err != nil {
		return fileConfig{}, fmt.Errorf("config: expanding variables in %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(expanded, &fc); err != nil {
		return fileConfig{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return fc, nil
}

func (fc fileConfig) apply(cfg *Config) error {
	setString(&cfg.BindAddr, fc.Server.BindAddr)
	setString(&cfg.MetricsNamespace, fc.Server.MetricsNamespace)
	if fc.Server.ShutdownTimeout != "" {
		d, err := time.ParseDuration(fc.Server.ShutdownTimeout)
		if err != nil {
			return fmt.Errorf("config: server.shutdown_timeout: %w", err)
		}
		cfg.ShutdownTimeout = d
	}
	if fc.Server.AllowAnyOrigin != nil {
		cfg.AllowAnyOrigin = *fc.Server.AllowAnyOrigin
	}

	setString(&cfg.LogLevel, fc.Log.Level)
	setString(&cfg.LogFormat, fc.Log.Format)

	m := fc.Memory
	setString(&cfg.MemoryBackend, m.Backend)
	setString(&cfg.MemoryDataDir, m.DataDir)
	setString(&cfg.MemorySQLitePath, m.SQLitePath)
	setString(&cfg.DatabaseURL, m.DatabaseURL)
	setInt(&cfg.MaxMessagesPerUser, m.MaxMessagesPerUser)
	setInt(&cfg.MaxContextMessages, m.MaxContextMessages)
	setInt(&cfg.MemoryExpireDays, m.ExpireDays)
	if m.SweepSchedule != nil {
		cfg.SweepSchedule = trimSpace(*m.SweepSchedule)
	}
	if m.RedactPII != nil {
		cfg.RedactPII = *m.RedactPII
	}
	return nil
}

func setString(dst *string, v string) {
	if v = trimSpace(v); v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// expandEnv replaces ${VAR} and ${VAR:-default} patterns in raw YAML bytes.
// Every variable with neither a value nor a default is reported.
func expandEnv(raw []byte) ([]byte, error) {
	var errs []error

	result := envPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		subs := envPattern.FindSubmatch(match)
		name := string(subs[1])
		if value, ok := os.LookupEnv(name); ok {
			return []byte(value)
		}
		if len(subs) > 2 && subs[2] != nil {
			return subs[2]
		}
		errs = append(errs, fmt.Errorf("unresolved variable: %s", name))
		return match
	})

	return result, errors.Join(errs...)
}
