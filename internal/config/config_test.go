package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.File != "" {
		t.Fatalf("no file expected, got %q", cfg.File)
	}
	if cfg.Store.Backend != "pebble" || cfg.Journal.Sink != "file" || cfg.Session.SaveTimeout() != 2*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Store.ToKVOptions().Redis.Prefix != "cartsync" {
		t.Fatalf("redis prefix default: %+v", cfg.Store.Redis)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cartsync.yaml")
	yaml := `
app:
  mode: release
store:
  backend: redis
  redis:
    addr: redis:6379
    db: 3
journal:
  sink: both
session:
  save_timeout_ms: 500
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CARTSYNC_METRICS_ADDR", ":9999")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.Mode != "release" || cfg.Store.Backend != "redis" || cfg.Store.Redis.Addr != "redis:6379" || cfg.Store.Redis.DB != 3 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Journal.Sink != "both" || cfg.Journal.Topic != "cartsync-session-journal" {
		t.Fatalf("journal: %+v", cfg.Journal)
	}
	if cfg.Metrics.Addr != ":9999" {
		t.Fatalf("env override not applied: %q", cfg.Metrics.Addr)
	}
	if cfg.Session.SaveTimeout() != 500*time.Millisecond {
		t.Fatalf("timeout: %v", cfg.Session.SaveTimeout())
	}
	if cfg.Log.ToLoggerOptions().Filename != "cartsync.log" {
		t.Fatalf("log filename: %+v", cfg.Log)
	}
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("explicit missing file should fail")
	}
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("store:\n  backend: mongo\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("unknown backend should fail")
	}
}
