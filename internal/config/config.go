// Package config loads the service's YAML configuration file, overlaid
// with CHAT_-prefixed environment variables for secrets. Process startup,
// CLI flag parsing, and config file discovery live in cmd/server; this
// package only knows how to turn bytes into a validated Config.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration object.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	JWT      JWTConfig      `yaml:"jwt"`
	Auth     AuthConfig     `yaml:"auth"`
	Hub      HubConfig      `yaml:"hub"`
	Consul   ConsulConfig   `yaml:"consul"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // postgres | sqlite
	DSN    string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type JWTConfig struct {
	Secret     string        `yaml:"secret"`
	AccessTTL  time.Duration `yaml:"access_ttl"`
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
}

type AuthConfig struct {
	BcryptCost int `yaml:"bcrypt_cost"`
}

type HubConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	SendBufferSize    int           `yaml:"send_buffer_size"`
}

type ConsulConfig struct {
	Addr        string   `yaml:"addr"`
	ServiceName string   `yaml:"service_name"`
	Tags        []string `yaml:"tags"`
	Enabled     bool     `yaml:"enabled"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// defaults are applied before the file is parsed, so a minimal config file
// only needs to set what it wants to override.
func defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "chat.db"},
		Redis:    RedisConfig{Addr: "localhost:6379", PoolSize: 10},
		JWT:      JWTConfig{AccessTTL: time.Hour, RefreshTTL: 7 * 24 * time.Hour},
		Auth:     AuthConfig{BcryptCost: 12},
		Hub:      HubConfig{HeartbeatInterval: 30 * time.Second, SendBufferSize: 256},
		Consul:   ConsulConfig{ServiceName: "chat-backend", Enabled: false},
		Logging:  LoggingConfig{Level: "info"},
	}
}

// Load reads and parses the YAML file at path, applies CHAT_JWT_SECRET /
// CHAT_REDIS_PASSWORD / CHAT_DATABASE_DSN environment overrides, and
// validates the result. No secret field ever has a baked-in default.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if v := os.Getenv("CHAT_JWT_SECRET"); v != "" {
		cfg.JWT.Secret = v
	}
	if v := os.Getenv("CHAT_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("CHAT_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required (set via config file or CHAT_JWT_SECRET)")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("auth.bcrypt_cost must be between 4 and 31, got %d", c.Auth.BcryptCost)
	}
	if c.Database.Driver != "postgres" && c.Database.Driver != "sqlite" {
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	return nil
}

func (c *Config) IsPostgres() bool { return c.Database.Driver == "postgres" }
