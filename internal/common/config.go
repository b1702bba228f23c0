// Package common holds the ambient concerns shared across the engine:
// configuration loading, structured logging, the startup banner, and ID
// generation. Grounded on the teacher's internal/common package, with
// Config's fields replaced end to end by spec.md §6's environment surface.
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the engine's full runtime configuration. File values are
// defaults; environment variable overrides are applied last, matching the
// teacher's LoadFromFiles layering (default -> file -> env, env always
// wins). Server.Host and Logging.Format have no environment override.
type Config struct {
	Environment string `toml:"environment"` // "development" or "production"

	Server   ServerConfig   `toml:"server"`
	Storage  StorageConfig  `toml:"storage"`
	Workers  WorkersConfig  `toml:"workers"`
	Download DownloadConfig `toml:"download"`
	Admission AdmissionConfig `toml:"admission"`
	Vault    VaultConfig    `toml:"vault"`
	Webhook  WebhookConfig  `toml:"webhook"`
	Logging  LoggingConfig  `toml:"logging"`
}

type ServerConfig struct {
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	PublicBaseURL string `toml:"public_base_url"` // used to build absolute /files links in job results
}

// StorageConfig governs where downloaded artifacts and their retention
// records live.
type StorageConfig struct {
	Dir                string `toml:"dir"`
	FileRetentionHours int    `toml:"file_retention_hours"`
	JobPurgeInterval   string `toml:"job_purge_interval"` // duration string, e.g. "1h"
}

// WorkersConfig sizes the job queue's worker pool.
type WorkersConfig struct {
	Count                   int `toml:"count"`
	MaxConcurrentDownloads  int `toml:"max_concurrent_downloads"`
}

// DownloadConfig tunes per-job subprocess behavior.
type DownloadConfig struct {
	DefaultTimeoutSec  int   `toml:"default_timeout_sec"`
	ProgressTimeoutSec int   `toml:"progress_timeout_sec"`
	MaxContentLength   int64 `toml:"max_content_length"`
}

// AdmissionConfig tunes the HTTP admission layer.
type AdmissionConfig struct {
	APIKey         string   `toml:"api_key"`
	RequireAPIKey  bool     `toml:"require_api_key"`
	RateLimitRPS   float64  `toml:"rate_limit_rps"`
	RateLimitBurst int      `toml:"rate_limit_burst"`
	AllowedDomains []string `toml:"allowed_domains"`
}

// VaultConfig tunes the credential vault.
type VaultConfig struct {
	EncryptionKey string `toml:"encryption_key"` // 64 hex chars; auto-generated if absent
}

// WebhookConfig tunes outbound job-event notifications.
type WebhookConfig struct {
	Enable     bool   `toml:"enable"`
	TimeoutSec int    `toml:"timeout_sec"`
	MaxRetries int    `toml:"max_retries"`
	Secret     string `toml:"secret"` // process-wide HMAC key; auto-generated and persisted if absent
}

type LoggingConfig struct {
	Level  string `toml:"level"`  // "debug", "info", "warn", "error"
	Format string `toml:"format"` // "json" or "text"
}

// NewDefaultConfig returns the engine's defaults, matching spec.md §6's
// documented env-var defaults where it specifies one.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Dir:                "./data",
			FileRetentionHours: 24,
			JobPurgeInterval:   "1h",
		},
		Workers: WorkersConfig{
			Count:                  4,
			MaxConcurrentDownloads: 4,
		},
		Download: DownloadConfig{
			DefaultTimeoutSec:  3600,
			ProgressTimeoutSec: 120,
			MaxContentLength:   10 * 1024 * 1024 * 1024, // 10GB
		},
		Admission: AdmissionConfig{
			RequireAPIKey:  false,
			RateLimitRPS:   5,
			RateLimitBurst: 10,
		},
		Webhook: WebhookConfig{
			Enable:     true,
			TimeoutSec: 10,
			MaxRetries: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env,
// matching the teacher's layering. path may be empty to skip the file
// layer entirely.
func LoadFromFile(path string) (*Config, error) {
	config := NewDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)
	return config, nil
}

// applyEnvOverrides applies spec.md §6's environment variable list,
// highest priority over file and defaults.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		config.Environment = env
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			config.Server.Port = p
		}
	}
	if v := os.Getenv("PUBLIC_BASE_URL"); v != "" {
		config.Server.PublicBaseURL = v
	}

	if v := os.Getenv("STORAGE_DIR"); v != "" {
		config.Storage.Dir = v
	}
	if v := os.Getenv("FILE_RETENTION_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Storage.FileRetentionHours = n
		}
	}
	if v := os.Getenv("JOB_PURGE_INTERVAL"); v != "" {
		config.Storage.JobPurgeInterval = v
	}

	if v := os.Getenv("WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Workers.Count = n
		}
	}
	if v := os.Getenv("MAX_CONCURRENT_DOWNLOADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Workers.MaxConcurrentDownloads = n
		}
	}

	if v := os.Getenv("DEFAULT_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Download.DefaultTimeoutSec = n
		}
	}
	if v := os.Getenv("PROGRESS_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Download.ProgressTimeoutSec = n
		}
	}
	if v := os.Getenv("MAX_CONTENT_LENGTH"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Download.MaxContentLength = n
		}
	}

	if v := os.Getenv("API_KEY"); v != "" {
		config.Admission.APIKey = v
	}
	if v := os.Getenv("REQUIRE_API_KEY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Admission.RequireAPIKey = b
		}
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Admission.RateLimitRPS = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Admission.RateLimitBurst = n
		}
	}
	if v := os.Getenv("ALLOWED_DOMAINS"); v != "" {
		var domains []string
		for _, d := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(d); trimmed != "" {
				domains = append(domains, trimmed)
			}
		}
		config.Admission.AllowedDomains = domains
	}

	if v := os.Getenv("COOKIE_ENCRYPTION_KEY"); v != "" {
		config.Vault.EncryptionKey = v
	}

	if v := os.Getenv("WEBHOOK_ENABLE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Webhook.Enable = b
		}
	}
	if v := os.Getenv("WEBHOOK_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Webhook.TimeoutSec = n
		}
	}
	if v := os.Getenv("WEBHOOK_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Webhook.MaxRetries = n
		}
	}
	if v := os.Getenv("WEBHOOK_SECRET"); v != "" {
		config.Webhook.Secret = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}

// IsProduction reports whether the environment is "production" or "prod"
// (case-insensitive). URLValidator does not call it; it compares its
// Environment against "production" exactly.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// JobPurgeInterval parses Storage.JobPurgeInterval, defaulting to 1 hour on
// a malformed value rather than failing startup over a cosmetic config typo.
func (c *Config) JobPurgeInterval() time.Duration {
	d, err := time.ParseDuration(c.Storage.JobPurgeInterval)
	if err != nil {
		return time.Hour
	}
	return d
}

// FileRetention returns Storage.FileRetentionHours as a Duration.
func (c *Config) FileRetention() time.Duration {
	return time.Duration(c.Storage.FileRetentionHours) * time.Hour
}
