package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadServerConfigDefaults(t *testing.T) {
	path := writeTempConfig(t, `
server_name: example
port: 2353
`)
	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}
	if cfg.ServerName != "example" {
		t.Errorf("expected server_name example, got %q", cfg.ServerName)
	}
	if cfg.Host != "127.0.0.1" {
		t.Errorf("expected default host, got %q", cfg.Host)
	}
	if cfg.MaxConnections != 100 {
		t.Errorf("expected default max_connections 100, got %d", cfg.MaxConnections)
	}
	if cfg.ExposeTransactions == nil || !*cfg.ExposeTransactions {
		t.Errorf("expected expose_transactions to default true")
	}
	if cfg.CancelGrace().Seconds() != 3 {
		t.Errorf("expected default cancel grace 3s, got %v", cfg.CancelGrace())
	}
}

func TestLoadServerConfigRejectsNegativePort(t *testing.T) {
	path := writeTempConfig(t, `
port: -1
`)
	if _, err := LoadServerConfig(path); err == nil {
		t.Fatalf("expected error for negative port")
	}
}

func TestLoadClientConfigDefaults(t *testing.T) {
	path := writeTempConfig(t, `
host: 10.0.0.5
port: 2353
`)
	cfg, err := LoadClientConfig(path)
	if err != nil {
		t.Fatalf("LoadClientConfig: %v", err)
	}
	if cfg.Host != "10.0.0.5" {
		t.Errorf("unexpected host: %q", cfg.Host)
	}
	if cfg.DialTimeout().Milliseconds() != 5000 {
		t.Errorf("expected default dial timeout 5000ms, got %v", cfg.DialTimeout())
	}
}
