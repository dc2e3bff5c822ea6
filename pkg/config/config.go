// Package config loads gateway configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/madaxer/devopsAgent/pkg/contracts"
	"github.com/madaxer/devopsAgent/pkg/limiter"
	"github.com/madaxer/devopsAgent/pkg/observability"
	"github.com/madaxer/devopsAgent/pkg/policy"
)

// Config holds server configuration.
type Config struct {
	AgentEnv string `env:"AGENT_ENV" envDefault:"dev"`
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"INFO"`

	PolicyStorageType string `env:"POLICY_STORAGE_TYPE" envDefault:"fs"`
	PolicyPath        string `env:"POLICY_PATH" envDefault:"config/policy.yaml"`
	PolicyS3Bucket    string `env:"POLICY_S3_BUCKET"`
	PolicyS3Key       string `env:"POLICY_S3_KEY"`
	PolicyS3Region    string `env:"POLICY_S3_REGION"`
	AWSRegion         string `env:"AWS_REGION"`
	PolicyS3Endpoint  string `env:"POLICY_S3_ENDPOINT"`
	PolicyGCSBucket   string `env:"POLICY_GCS_BUCKET"`
	PolicyGCSObject   string `env:"POLICY_GCS_OBJECT"`

	AuditDatabaseURL string `env:"AUDIT_DATABASE_URL"`
	AuditSQLitePath  string `env:"AUDIT_SQLITE_PATH"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"40"`
	RedisAddr      string  `env:"REDIS_ADDR"`
	RedisPassword  string  `env:"REDIS_PASSWORD"`
	RedisDB        int     `env:"REDIS_DB" envDefault:"0"`

	OTelEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTelEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	OTelInsecure   bool    `env:"OTEL_INSECURE" envDefault:"false"`
	OTelSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	MockActionLatency time.Duration `env:"MOCK_ACTION_LATENCY" envDefault:"300ms"`

	// Environment is AgentEnv after validation.
	Environment contracts.Environment
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	envName, err := contracts.ParseEnvironment(c.AgentEnv)
	if err != nil {
		return errors.New("AGENT_ENV must be one of: dev, stage, prod")
	}
	c.Environment = envName
	c.AgentEnv = string(envName)

	c.PolicyStorageType = strings.ToLower(strings.TrimSpace(c.PolicyStorageType))
	switch policy.StorageType(c.PolicyStorageType) {
	case policy.StorageFS, policy.StorageS3, policy.StorageGCS:
	default:
		return fmt.Errorf("POLICY_STORAGE_TYPE must be one of: fs, s3, gcs (got %q)", c.PolicyStorageType)
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.RateLimitRPS < 0 {
		return errors.New("RATE_LIMIT_RPS must not be negative")
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		return errors.New("RATE_LIMIT_BURST must be at least 1 when rate limiting is enabled")
	}
	if c.OTelSampleRate < 0 || c.OTelSampleRate > 1 {
		return errors.New("OTEL_SAMPLE_RATE must be between 0 and 1")
	}
	if c.MockActionLatency < 0 {
		return errors.New("MOCK_ACTION_LATENCY must not be negative")
	}
	return nil
}

// ParseLogLevel maps DEBUG, INFO, WARN or ERROR (any case) to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL must be one of: DEBUG, INFO, WARN, ERROR (got %q)", s)
	}
	return level, nil
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	level, _ := ParseLogLevel(c.LogLevel)
	return level
}

// PolicySource returns the policy source configuration.
func (c *Config) PolicySource() policy.SourceConfig {
	region := c.PolicyS3Region
	if region == "" {
		region = c.AWSRegion
	}
	if region == "" {
		region = "us-east-1"
	}
	return policy.SourceConfig{
		Type:       policy.StorageType(c.PolicyStorageType),
		Path:       c.PolicyPath,
		S3Bucket:   c.PolicyS3Bucket,
		S3Key:      c.PolicyS3Key,
		S3Region:   region,
		S3Endpoint: c.PolicyS3Endpoint,
		GCSBucket:  c.PolicyGCSBucket,
		GCSObject:  c.PolicyGCSObject,
	}
}

// RateLimit returns the per-client rate limit policy.
func (c *Config) RateLimit() limiter.Policy {
	return limiter.Policy{RPS: c.RateLimitRPS, Burst: c.RateLimitBurst}
}

// Telemetry returns the observability configuration.
func (c *Config) Telemetry(version string) *observability.Config {
	cfg := observability.DefaultConfig()
	cfg.ServiceVersion = version
	cfg.Environment = c.AgentEnv
	cfg.Enabled = c.OTelEnabled
	cfg.OTLPEndpoint = c.OTelEndpoint
	cfg.Insecure = c.OTelInsecure
	cfg.SampleRate = c.OTelSampleRate
	return cfg
}

// JournalPersistent reports whether journal entries are mirrored to SQL.
func (c *Config) JournalPersistent() bool {
	return c.AuditDatabaseURL != "" || c.AuditSQLitePath != ""
}
