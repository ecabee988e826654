// Package config loads the server configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/jive-live/jive-server/internal/app/services/mailer"
	"github.com/jive-live/jive-server/internal/app/services/notifications"
	"github.com/jive-live/jive-server/internal/app/services/payments"
	"github.com/jive-live/jive-server/internal/app/services/streams"
	"github.com/jive-live/jive-server/internal/app/services/uploads"
	"github.com/jive-live/jive-server/pkg/logger"
)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"gte=0,lte=65535"`
}

// DatabaseConfig controls the PostgreSQL connection. When DSN is empty the
// server runs on the in-memory store.
type DatabaseConfig struct {
	Driver          string `yaml:"driver"`
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

// AuthConfig controls token issuance.
type AuthConfig struct {
	TokenSecret   string `yaml:"token_secret" validate:"required"`
	TokenTTLHours int    `yaml:"token_ttl_hours" validate:"gte=0"`
}

// SiteConfig holds externally visible URLs and contacts.
type SiteConfig struct {
	ResetURL   string `yaml:"reset_url"`
	AdminEmail string `yaml:"admin_email" validate:"omitempty,email"`
}

// RateLimitConfig controls per-client request throttling.
type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second" validate:"gte=0"`
	Burst             int `yaml:"burst" validate:"gte=0"`
}

// MonitorConfig points at the media server statistics API.
type MonitorConfig struct {
	Endpoint string `yaml:"endpoint"`
}

// Config is the root configuration.
type Config struct {
	Server    ServerConfig                `yaml:"server"`
	Database  DatabaseConfig              `yaml:"database"`
	Logging   logger.LoggingConfig        `yaml:"logging"`
	Auth      AuthConfig                  `yaml:"auth"`
	Site      SiteConfig                  `yaml:"site"`
	CORS      []string                    `yaml:"cors_origins"`
	RateLimit RateLimitConfig             `yaml:"rate_limit"`
	Streams   streams.Config              `yaml:"streams"`
	Monitor   MonitorConfig               `yaml:"monitor"`
	Push      notifications.WebPushConfig `yaml:"push"`
	SMTP      mailer.Config               `yaml:"smtp"`
	Stripe    payments.StripeConfig       `yaml:"stripe"`
	Storage   uploads.Config              `yaml:"storage"`
}

// Load reads the config file named by JIVE_CONFIG (default config.yaml when
// present), applies environment overrides and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Server:    ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database:  DatabaseConfig{Driver: "postgres"},
		Logging:   logger.LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
		Auth:      AuthConfig{TokenTTLHours: 720},
		CORS:      []string{"*"},
		RateLimit: RateLimitConfig{RequestsPerSecond: 50, Burst: 100},
	}

	path := os.Getenv("JIVE_CONFIG")
	optional := path == ""
	if optional {
		path = "config.yaml"
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err) && optional:
		// Config file is optional; environment variables may carry
		// everything.
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setString(&cfg.Server.Host, "JIVE_HOST")
	setInt(&cfg.Server.Port, "JIVE_PORT")
	setString(&cfg.Database.DSN, "DATABASE_URL")
	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Auth.TokenSecret, "TOKEN_SECRET")
	setString(&cfg.Site.ResetURL, "RESET_URL")
	setString(&cfg.Site.AdminEmail, "ADMIN_EMAIL")
	setString(&cfg.Streams.ThumbnailBaseURL, "THUMBNAIL_BASE_URL")
	setString(&cfg.Streams.ArchiveBaseURL, "ARCHIVE_BASE_URL")
	setString(&cfg.Monitor.Endpoint, "MONITOR_ENDPOINT")
	setString(&cfg.Push.Subscriber, "PUSH_SUBSCRIBER")
	setString(&cfg.Push.VAPIDPublicKey, "VAPID_PUBLIC_KEY")
	setString(&cfg.Push.VAPIDPrivateKey, "VAPID_PRIVATE_KEY")
	setString(&cfg.SMTP.Host, "SMTP_HOST")
	setInt(&cfg.SMTP.Port, "SMTP_PORT")
	setString(&cfg.SMTP.Username, "SMTP_USERNAME")
	setString(&cfg.SMTP.Password, "SMTP_PASSWORD")
	setString(&cfg.SMTP.From, "SMTP_FROM")
	setString(&cfg.Stripe.SecretKey, "STRIPE_SECRET_KEY")
	setString(&cfg.Stripe.ClientID, "STRIPE_CLIENT_ID")
	setString(&cfg.Storage.Region, "S3_REGION")
	setString(&cfg.Storage.Bucket, "S3_BUCKET")
	setString(&cfg.Storage.Endpoint, "S3_ENDPOINT")
	setString(&cfg.Storage.AccessKey, "S3_ACCESS_KEY")
	setString(&cfg.Storage.SecretKey, "S3_SECRET_KEY")

	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		cfg.CORS = parts
	}
}
