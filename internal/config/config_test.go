package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoaderDefaults(t *testing.T) {
	// Run from an empty directory so no project config is picked up.
	restore := chdir(t, t.TempDir())
	defer restore()

	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "info" || cfg.Log.Format != "auto" {
		t.Errorf("log defaults = %+v", cfg.Log)
	}
	if cfg.Pool.Size != 0 {
		t.Errorf("pool.size = %d, want 0 (CPU count)", cfg.Pool.Size)
	}
	if cfg.Pool.TaskTimeout != "2m" {
		t.Errorf("pool.task_timeout = %q, want 2m", cfg.Pool.TaskTimeout)
	}
	if cfg.Pool.ShutdownGrace != "5s" {
		t.Errorf("pool.shutdown_grace = %q, want 5s", cfg.Pool.ShutdownGrace)
	}
	if cfg.Pool.MinAvailableMB != 512 {
		t.Errorf("pool.min_available_mb = %d, want 512", cfg.Pool.MinAvailableMB)
	}
	if cfg.Server.Port != 8645 || cfg.Server.Host != "localhost" {
		t.Errorf("server defaults = %+v", cfg.Server)
	}
}

func TestLoaderReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "insight.yaml")
	content := `
log:
  level: debug
pool:
  size: 4
  task_timeout: 90s
  memory_limit_mb: 2048
detectors:
  enabled: [todo, yamllint]
  options:
    largefile:
      max_bytes: 4096
server:
  port: 9000
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := NewLoader().WithConfigFile(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("log.level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Pool.Size != 4 || cfg.Pool.TaskTimeout != "90s" || cfg.Pool.MemoryLimitMB != 2048 {
		t.Errorf("pool = %+v", cfg.Pool)
	}
	if len(cfg.Detectors.Enabled) != 2 || cfg.Detectors.Enabled[0] != "todo" {
		t.Errorf("detectors.enabled = %v", cfg.Detectors.Enabled)
	}
	if cfg.Detectors.Options["largefile"]["max_bytes"] != 4096 {
		t.Errorf("largefile options = %v", cfg.Detectors.Options["largefile"])
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("server.port = %d, want 9000", cfg.Server.Port)
	}
	// Untouched keys keep their defaults.
	if cfg.Pool.ShutdownGrace != "5s" {
		t.Errorf("pool.shutdown_grace = %q, want default 5s", cfg.Pool.ShutdownGrace)
	}
}

func TestLoaderEnvOverride(t *testing.T) {
	restore := chdir(t, t.TempDir())
	defer restore()

	t.Setenv("INSIGHT_POOL_SIZE", "7")
	t.Setenv("INSIGHT_LOG_LEVEL", "warn")

	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Pool.Size != 7 {
		t.Errorf("pool.size = %d, want 7 from env", cfg.Pool.Size)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log.level = %q, want warn from env", cfg.Log.Level)
	}
}

func TestValidator(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(*Config) {}, false},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, true},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, true},
		{"negative pool size", func(c *Config) { c.Pool.Size = -1 }, true},
		{"negative memory limit", func(c *Config) { c.Pool.MemoryLimitMB = -5 }, true},
		{"bad timeout", func(c *Config) { c.Pool.TaskTimeout = "soon" }, true},
		{"bad grace", func(c *Config) { c.Pool.ShutdownGrace = "whenever" }, true},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, true},
		{"empty durations allowed", func(c *Config) { c.Pool.TaskTimeout = ""; c.Pool.ShutdownGrace = "" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Log:    LogConfig{Level: "info", Format: "auto"},
				Pool:   PoolConfig{TaskTimeout: "2m", ShutdownGrace: "5s"},
				Server: ServerConfig{Host: "localhost", Port: 8645},
			}
			tt.mutate(cfg)
			err := NewValidator().Validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPoolDurations(t *testing.T) {
	cfg := &PoolConfig{TaskTimeout: "90s", ShutdownGrace: "3s"}
	timeout, grace, err := PoolDurations(cfg)
	if err != nil {
		t.Fatalf("PoolDurations() error = %v", err)
	}
	if timeout != 90*time.Second || grace != 3*time.Second {
		t.Errorf("PoolDurations() = %v, %v", timeout, grace)
	}

	// Empty strings fall back to defaults.
	timeout, grace, err = PoolDurations(&PoolConfig{})
	if err != nil {
		t.Fatalf("PoolDurations() on empty config error = %v", err)
	}
	if timeout != 2*time.Minute || grace != 5*time.Second {
		t.Errorf("defaults = %v, %v; want 2m, 5s", timeout, grace)
	}

	if _, _, err := PoolDurations(&PoolConfig{TaskTimeout: "forever"}); err == nil {
		t.Error("PoolDurations() accepted a malformed duration")
	}
}

func chdir(t *testing.T, dir string) func() {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	return func() { _ = os.Chdir(old) }
}
