// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr            string        `yaml:"addr" env:"SERVER_ADDR"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
	} `yaml:"server"`

	RabbitMQ struct {
		URL string `yaml:"url" env:"RABBITMQ_URL"`
	} `yaml:"rabbitmq"`

	Database struct {
		Driver string `yaml:"driver" env:"DATABASE_DRIVER"`
		URL    string `yaml:"url" env:"DATABASE_URL"`
	} `yaml:"database"`

	Redis struct {
		URL string `yaml:"url" env:"REDIS_URL"`
	} `yaml:"redis"`

	Workers int `yaml:"workers" env:"WORKERS"`

	Auth struct {
		JWTSecret    string `yaml:"jwt_secret" env:"JWT_SECRET"`
		ServiceToken string `yaml:"service_token" env:"SERVICE_TOKEN"`
	} `yaml:"auth"`

	Vault struct {
		Key string `yaml:"key" env:"VAULT_KEY"`
	} `yaml:"vault"`

	Webhook struct {
		PublicBaseURL string `yaml:"public_base_url" env:"WEBHOOK_PUBLIC_BASE_URL"`
	} `yaml:"webhook"`

	Notifier struct {
		URL     string        `yaml:"url" env:"NOTIFIER_URL"`
		Token   string        `yaml:"token" env:"NOTIFIER_TOKEN"`
		Timeout time.Duration `yaml:"timeout" env:"NOTIFIER_TIMEOUT"`
	} `yaml:"notifier"`

	Scheduler struct {
		DeliveredAfter time.Duration `yaml:"delivered_after" env:"SCHEDULER_DELIVERED_AFTER"`
		ReadAfter      time.Duration `yaml:"read_after" env:"SCHEDULER_READ_AFTER"`
	} `yaml:"scheduler"`

	Resend struct {
		Cooldown time.Duration `yaml:"cooldown" env:"RESEND_COOLDOWN"`
	} `yaml:"resend"`

	Dispatch struct {
		ClaimLease time.Duration `yaml:"claim_lease" env:"DISPATCH_CLAIM_LEASE"`
	} `yaml:"dispatch"`

	Live struct {
		AllowedOrigins []string `yaml:"allowed_origins" env:"LIVE_ALLOWED_ORIGINS" envSeparator:","`
	} `yaml:"live"`

	Tracing struct {
		Endpoint    string `yaml:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
		ServiceName string `yaml:"service_name" env:"OTEL_SERVICE_NAME"`
	} `yaml:"tracing"`
}

// LoadConfig reads the YAML file at path, then applies .env and process
// environment overrides. A missing file is not an error: the environment
// alone can configure the service.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("[Config] ignoring .env: %v", err)
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
		log.Printf("[Config] %s not found, using environment only", path)
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.applyDefaults()
	return cfg, cfg.validate()
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 5 * time.Second
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Notifier.Timeout <= 0 {
		c.Notifier.Timeout = 3 * time.Second
	}
	if c.Scheduler.DeliveredAfter <= 0 {
		c.Scheduler.DeliveredAfter = 5 * time.Second
	}
	if c.Scheduler.ReadAfter <= 0 {
		c.Scheduler.ReadAfter = 30 * time.Second
	}
	if c.Resend.Cooldown <= 0 {
		c.Resend.Cooldown = 24 * time.Hour
	}
	if c.Dispatch.ClaimLease <= 0 {
		c.Dispatch.ClaimLease = 10 * time.Minute
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "campaign-delivery"
	}
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("database.url is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	return nil
}
