package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the wallet daemon configuration
type Config struct {
	// StorePath is the SQLite wallet store location
	StorePath string `yaml:"store_path"`

	// NATS configuration
	NATS NATSConfig `yaml:"nats"`
}

// NATSConfig holds NATS connection settings
type NATSConfig struct {
	URL             string `yaml:"url"`
	CredentialsFile string `yaml:"credentials_file"`
	ReconnectWait   int    `yaml:"reconnect_wait_ms"`
	MaxReconnects   int    `yaml:"max_reconnects"`
	SubjectPrefix   string `yaml:"subject_prefix"`
}

// LoadConfig loads configuration from a YAML file, falling back to
// defaults when the file does not exist.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		StorePath: "/var/lib/octra-wallet/wallet.db",
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			ReconnectWait: 2000,
			MaxReconnects: -1, // Unlimited
			SubjectPrefix: "octra.wallet",
		},
	}
}
