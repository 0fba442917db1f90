package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.NATS.URL != "nats://127.0.0.1:4222" {
		t.Errorf("Expected default NATS URL, got %q", cfg.NATS.URL)
	}
	if cfg.NATS.SubjectPrefix != "octra.wallet" {
		t.Errorf("Expected default subject prefix, got %q", cfg.NATS.SubjectPrefix)
	}
	if cfg.StorePath == "" {
		t.Error("Expected a default store path")
	}
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "walletd.yaml")
	content := []byte(`
store_path: /tmp/test-wallet.db
nats:
  url: nats://nats.example:4222
  subject_prefix: octra.test
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.StorePath != "/tmp/test-wallet.db" {
		t.Errorf("Expected overridden store path, got %q", cfg.StorePath)
	}
	if cfg.NATS.URL != "nats://nats.example:4222" {
		t.Errorf("Expected overridden NATS URL, got %q", cfg.NATS.URL)
	}
	// Unspecified fields keep their defaults
	if cfg.NATS.ReconnectWait != 2000 {
		t.Errorf("Expected default reconnect wait, got %d", cfg.NATS.ReconnectWait)
	}
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "walletd.yaml")
	if err := os.WriteFile(path, []byte("{not yaml"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("Expected error for malformed config")
	}
}
