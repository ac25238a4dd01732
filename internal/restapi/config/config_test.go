package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bdobrica/restapi/internal/restapi/config"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_MinimalValidConfig(t *testing.T) {
	path := writeConfig(t, `
listen: "0.0.0.0:8080"
database_path: "/var/lib/restapi"
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != "0.0.0.0:8080" {
		t.Fatalf("expected listen 0.0.0.0:8080, got %q", cfg.Listen)
	}
	if cfg.RecvTimeoutMS != 300_000 {
		t.Fatalf("expected default recv_timeout_ms of 300000, got %d", cfg.RecvTimeoutMS)
	}
}

func TestLoad_MissingRequiredFieldFails(t *testing.T) {
	path := writeConfig(t, `
listen: "0.0.0.0:8080"
`)
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected validation error for missing database_path")
	}
}

func TestLoad_TLSSection(t *testing.T) {
	path := writeConfig(t, `
listen: "0.0.0.0:8443"
database_path: "/var/lib/restapi"
tls:
  enabled: true
  cert_file: "/etc/restapi/cert.pem"
  key_file: "/etc/restapi/key.pem"
  min_version: "1.2"
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.TLS.Enabled {
		t.Fatal("expected tls.enabled true")
	}
	if cfg.TLS.MinVersion != "1.2" {
		t.Fatalf("expected min_version 1.2, got %q", cfg.TLS.MinVersion)
	}
}

func TestLoad_InvalidMinVersionRejected(t *testing.T) {
	path := writeConfig(t, `
listen: "0.0.0.0:8443"
database_path: "/var/lib/restapi"
tls:
  enabled: true
  min_version: "2.0"
`)
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected validation error for an unsupported min_version")
	}
}

func TestLoad_EnvOverridesListen(t *testing.T) {
	path := writeConfig(t, `
listen: "0.0.0.0:8080"
database_path: "/var/lib/restapi"
`)
	t.Setenv("RESTAPI_LISTEN", "127.0.0.1:9090")
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != "127.0.0.1:9090" {
		t.Fatalf("expected env override to win, got %q", cfg.Listen)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for a nonexistent config file")
	}
}
