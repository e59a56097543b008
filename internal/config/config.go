// Package config holds the YAML configuration of the bqp command.
package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendMongo  = "mongo"

	minStorageSecretLength = 16
)

type Config struct {
	// Seconds allowed for the connection race and handshake together
	PairingTimeout int `yaml:"pairing_timeout"`

	// Length of one key rotation period in hours
	RotationPeriod int `yaml:"rotation_period"`

	// Transports to pair over: lan, ws
	Transports []string `yaml:"transports"`

	LanListenAddr   string `yaml:"lan_listen_addr"`
	WSListenAddr    string `yaml:"ws_listen_addr"`
	WSAdvertiseHost string `yaml:"ws_advertise_host"`

	Storage StorageConfig `yaml:"storage"`

	LogLevel string `yaml:"log_level"` // debug, info, warn, error
}

type StorageConfig struct {
	Backend string `yaml:"backend"` // memory, redis, mongo

	RedisAddr string `yaml:"redis_addr"`
	RedisKey  string `yaml:"redis_key"`

	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`

	// Secret the seal key for stored transport keys is derived from
	Secret string `yaml:"secret"`
}

func DefaultConfig() *Config {
	return &Config{
		PairingTimeout: 60,
		RotationPeriod: 24,
		Transports:     []string{"lan", "ws"},
		LanListenAddr:  "0.0.0.0:0",
		WSListenAddr:   "127.0.0.1:0",
		Storage: StorageConfig{
			Backend:       BackendMemory,
			RedisAddr:     "localhost:6379",
			RedisKey:      "e2e_pairing:transport_keys",
			MongoURI:      "mongodb://localhost:27017",
			MongoDatabase: "e2e_pairing",
		},
		LogLevel: "info",
	}
}

// LoadConfig reads path over the defaults and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.PairingTimeout < 1 {
		return fmt.Errorf("pairing_timeout must be positive: %d", c.PairingTimeout)
	}
	if c.RotationPeriod < 1 {
		return fmt.Errorf("rotation_period must be positive: %d", c.RotationPeriod)
	}
	if len(c.Transports) == 0 {
		return fmt.Errorf("at least one transport is required")
	}
	for _, t := range c.Transports {
		if t != "lan" && t != "ws" {
			return fmt.Errorf("unknown transport %q", t)
		}
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.LogLevel) {
		return fmt.Errorf("log_level must be debug, info, warn or error (got %q)", c.LogLevel)
	}

	s := c.Storage
	switch s.Backend {
	case BackendMemory:
		return nil
	case BackendRedis:
		if s.RedisAddr == "" {
			return fmt.Errorf("storage.redis_addr is required for the redis backend")
		}
	case BackendMongo:
		if s.MongoURI == "" || s.MongoDatabase == "" {
			return fmt.Errorf("storage.mongo_uri and storage.mongo_database are required for the mongo backend")
		}
	default:
		return fmt.Errorf("storage.backend must be memory, redis or mongo (got %q)", s.Backend)
	}
	if len(s.Secret) < minStorageSecretLength {
		return fmt.Errorf("storage.secret must be at least %d characters", minStorageSecretLength)
	}
	return nil
}

func (c *Config) PairingTimeoutDuration() time.Duration {
	return time.Duration(c.PairingTimeout) * time.Second
}

func (c *Config) RotationPeriodDuration() time.Duration {
	return time.Duration(c.RotationPeriod) * time.Hour
}

// SaveConfig writes cfg to path, readable by the owner only since it may
// carry the storage secret.
func SaveConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}
