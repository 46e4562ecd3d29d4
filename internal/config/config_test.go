package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingPathReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Backend != "inmemory" || cfg.Log.Level != "info" || cfg.Metrics.Enabled {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	doc := `
version: "0.1"
store:
  backend: filesystem
  parameters:
    rootdirectory: /var/lib/reprocas
log:
  level: debug
  formatter: json
metrics:
  enabled: true
  addr: ":9100"
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Backend != "filesystem" {
		t.Fatalf("expected filesystem backend, got %q", cfg.Store.Backend)
	}
	if cfg.Store.Parameters["rootdirectory"] != "/var/lib/reprocas" {
		t.Fatalf("unexpected store parameters: %+v", cfg.Store.Parameters)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Formatter != "json" {
		t.Fatalf("unexpected log config: %+v", cfg.Log)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Addr != ":9100" {
		t.Fatalf("unexpected metrics config: %+v", cfg.Metrics)
	}
}

func TestEnvOverridesTakePrecedenceOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	doc := "store:\n  backend: filesystem\nlog:\n  level: info\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("REPROCAS_STORE_BACKEND", "inmemory")
	t.Setenv("REPROCAS_STORE_ROOTDIRECTORY", "/tmp/override")
	t.Setenv("REPROCAS_LOG_LEVEL", "warn")
	t.Setenv("REPROCAS_METRICS_ADDR", ":9200")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Backend != "inmemory" {
		t.Fatalf("expected env override of store backend, got %q", cfg.Store.Backend)
	}
	if cfg.Store.Parameters["rootdirectory"] != "/tmp/override" {
		t.Fatalf("expected env override of rootdirectory, got %+v", cfg.Store.Parameters)
	}
	if cfg.Log.Level != "warn" {
		t.Fatalf("expected env override of log level, got %q", cfg.Log.Level)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Addr != ":9200" {
		t.Fatalf("expected env override to also enable metrics, got %+v", cfg.Metrics)
	}
}

func TestEnvOverrideIgnoresEmptyValue(t *testing.T) {
	t.Setenv("REPROCAS_LOG_LEVEL", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("expected empty env var to leave default in place, got %q", cfg.Log.Level)
	}
}
