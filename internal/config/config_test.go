package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	data := []byte("cluster: prod\nstorage:\n  dsn: postgres://localhost/tansu\nretention:\n  interval: 5m\n")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Cluster != "prod" {
		t.Fatalf("unexpected cluster: %s", cfg.Cluster)
	}
	if cfg.Storage.DSN != "postgres://localhost/tansu" {
		t.Fatalf("unexpected dsn: %s", cfg.Storage.DSN)
	}
	if cfg.Retention.Interval.Std().Minutes() != 5 {
		t.Fatalf("unexpected retention interval: %s", cfg.Retention.Interval.Std())
	}
}

func TestLoadMissingCluster(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  dsn: x\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoadEnvDSNOverride(t *testing.T) {
	t.Setenv("TANSU_PG_DSN", "postgres://override/tansu")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("cluster: prod\nstorage:\n  dsn: postgres://file/tansu\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Storage.DSN != "postgres://override/tansu" {
		t.Fatalf("env override not applied: %s", cfg.Storage.DSN)
	}
}
