package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the server configuration. Values come from an optional YAML file
// with environment variables taking precedence.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Frontend struct {
		URL string `yaml:"url"`
	} `yaml:"frontend"`
	Admin struct {
		Key     string `yaml:"key"`
		Balance int64  `yaml:"balance"`
	} `yaml:"admin"`
	NATS struct {
		URL     string `yaml:"url"`
		Subject string `yaml:"subject"`
	} `yaml:"nats"`
}

// Load reads path (if non-empty) and applies env overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.Server.Port = getEnv("PORT", defaultStr(cfg.Server.Port, "8000"))
	cfg.Frontend.URL = getEnv("FRONTEND_URL", defaultStr(cfg.Frontend.URL, "http://localhost:5173"))
	cfg.Admin.Key = getEnv("ADMIN_KEY", defaultStr(cfg.Admin.Key, "admin-secret-key"))
	if cfg.Admin.Balance == 0 {
		cfg.Admin.Balance = 10000
	}
	cfg.NATS.URL = getEnv("NATS_URL", cfg.NATS.URL)
	cfg.NATS.Subject = getEnv("NATS_SUBJECT", defaultStr(cfg.NATS.Subject, "esh.events"))

	return cfg, nil
}

// RelayEnabled reports whether the cross-instance event relay is configured.
func (c *Config) RelayEnabled() bool {
	return c.NATS.URL != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultStr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
