package config

import (
	"os"
	"testing"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("HIVE_CONFIG", "/nonexistent/hive.yaml")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataRoot != "data" {
		t.Fatalf("expected default data root, got %q", cfg.DataRoot)
	}
	if cfg.Container.Backend != "local-docker" {
		t.Fatalf("expected default backend, got %q", cfg.Container.Backend)
	}
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("HIVE_CONFIG", "/nonexistent/hive.yaml")
	t.Setenv("DATA_ROOT", "/tmp/hive-data")
	t.Setenv("CONTAINER_BACKEND", "local-docker")
	t.Setenv("PROVIDER_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataRoot != "/tmp/hive-data" {
		t.Fatalf("expected env override, got %q", cfg.DataRoot)
	}
	if cfg.Container.ProviderAPIKey != "sk-test" {
		t.Fatalf("expected provider key from env, got %q", cfg.Container.ProviderAPIKey)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/hive.yaml"
	yaml := "data_root: /srv/hive\ngateway:\n  listen_addr: \":9090\"\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HIVE_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataRoot != "/srv/hive" {
		t.Fatalf("expected data root from file, got %q", cfg.DataRoot)
	}
	if cfg.Gateway.ListenAddr != ":9090" {
		t.Fatalf("expected listen addr from file, got %q", cfg.Gateway.ListenAddr)
	}
}
