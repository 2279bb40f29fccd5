package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	if cfg.Global.LogLevel != "INFO" {
		t.Errorf("default log level = %s", cfg.Global.LogLevel)
	}
	if cfg.Trace.BufferCapacity != 4096 {
		t.Errorf("default buffer capacity = %d", cfg.Trace.BufferCapacity)
	}
	if cfg.Hook.Enabled || cfg.Hint.Enabled || cfg.Export.Enabled {
		t.Error("optional subsystems should default to disabled")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
global:
  log_level: DEBUG
  api_port: 9000
trace:
  buffer_capacity: 128
  max_records: 1024
  meminfo_interval: 5s
hook:
  enabled: true
  source: /data/app
  mountpoint: /mnt/traced
hint:
  enabled: true
  mode: app-launch
  min_file_cache_kb: 300000
export:
  enabled: true
  bucket: trace-archive
  prefix: launches
  retry:
    max_attempts: 5
    base_delay: 2s
`
	path := filepath.Join(t.TempDir(), "pagetrace.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromFile(path); err != nil {
		t.Fatal(err)
	}

	if cfg.Global.LogLevel != "DEBUG" || cfg.Global.APIPort != 9000 {
		t.Errorf("global not loaded: %+v", cfg.Global)
	}
	if cfg.Trace.BufferCapacity != 128 || cfg.Trace.MeminfoInterval != 5*time.Second {
		t.Errorf("trace not loaded: %+v", cfg.Trace)
	}
	if !cfg.Hook.Enabled || cfg.Hook.Source != "/data/app" {
		t.Errorf("hook not loaded: %+v", cfg.Hook)
	}
	if cfg.Hint.Mode != "app-launch" || cfg.Hint.MinFileCacheKB != 300000 {
		t.Errorf("hint not loaded: %+v", cfg.Hint)
	}
	if cfg.Export.Bucket != "trace-archive" || cfg.Export.Retry.MaxAttempts != 5 {
		t.Errorf("export not loaded: %+v", cfg.Export)
	}
	// Fields the file omits keep their defaults.
	if cfg.Global.MetricsPort != 9090 {
		t.Errorf("metrics port = %d, default lost", cfg.Global.MetricsPort)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config does not validate: %v", err)
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	cfg := NewDefault()
	if err := cfg.LoadFromFile("/nonexistent/pagetrace.yaml"); err == nil {
		t.Error("missing file accepted")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("global: [not a map"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := cfg.LoadFromFile(path); err == nil {
		t.Error("malformed yaml accepted")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PAGETRACE_LOG_LEVEL", "WARN")
	t.Setenv("PAGETRACE_LOG_FILE", "/var/log/pagetrace.log")
	t.Setenv("PAGETRACE_BUFFER_CAPACITY", "64")
	t.Setenv("PAGETRACE_HINT_MODE", "camera-launch")
	t.Setenv("PAGETRACE_MIN_FILE_CACHE_KB", "123456")
	t.Setenv("PAGETRACE_EXPORT_ENABLED", "TRUE")
	t.Setenv("PAGETRACE_EXPORT_BUCKET", "env-bucket")
	t.Setenv("PAGETRACE_MAX_RECORDS", "not-a-number")

	cfg := NewDefault()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatal(err)
	}

	if cfg.Global.LogLevel != "WARN" {
		t.Errorf("log level = %s", cfg.Global.LogLevel)
	}
	if cfg.Global.LogFile != "/var/log/pagetrace.log" {
		t.Errorf("log file = %s", cfg.Global.LogFile)
	}
	if cfg.Trace.BufferCapacity != 64 {
		t.Errorf("buffer capacity = %d", cfg.Trace.BufferCapacity)
	}
	if cfg.Hint.Mode != "camera-launch" || cfg.Hint.MinFileCacheKB != 123456 {
		t.Errorf("hint = %+v", cfg.Hint)
	}
	if !cfg.Export.Enabled || cfg.Export.Bucket != "env-bucket" {
		t.Errorf("export = %+v", cfg.Export)
	}
	if cfg.Trace.MaxRecords != NewDefault().Trace.MaxRecords {
		t.Error("unparseable env value overwrote the default")
	}
}

func TestSaveToFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "pagetrace.yaml")

	cfg := NewDefault()
	cfg.Trace.BufferCapacity = 99
	cfg.Hint.Mode = "app-launch"
	if err := cfg.SaveToFile(path); err != nil {
		t.Fatal(err)
	}

	loaded := NewDefault()
	if err := loaded.LoadFromFile(path); err != nil {
		t.Fatal(err)
	}
	if loaded.Trace.BufferCapacity != 99 || loaded.Hint.Mode != "app-launch" {
		t.Errorf("round trip lost values: %+v", loaded.Trace)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Configuration)
		wantErr bool
	}{
		{"defaults", func(c *Configuration) {}, false},
		{"zero capacity", func(c *Configuration) { c.Trace.BufferCapacity = 0 }, true},
		{"negative max records", func(c *Configuration) { c.Trace.MaxRecords = -1 }, true},
		{"capacity over budget", func(c *Configuration) {
			c.Trace.BufferCapacity = 100
			c.Trace.MaxRecords = 50
		}, true},
		{"port clash", func(c *Configuration) { c.Global.APIPort = c.Global.MetricsPort }, true},
		{"bad log level", func(c *Configuration) { c.Global.LogLevel = "LOUD" }, true},
		{"bad hint mode", func(c *Configuration) { c.Hint.Mode = "warmup" }, true},
		{"hook without mountpoint", func(c *Configuration) {
			c.Hook.Enabled = true
			c.Hook.Source = "/data/app"
		}, true},
		{"hook source equals mountpoint", func(c *Configuration) {
			c.Hook.Enabled = true
			c.Hook.Source = "/data/app"
			c.Hook.Mountpoint = "/data/app"
		}, true},
		{"export without bucket", func(c *Configuration) { c.Export.Enabled = true }, true},
		{"export without retries", func(c *Configuration) {
			c.Export.Enabled = true
			c.Export.Bucket = "b"
			c.Export.Retry.MaxAttempts = 0
		}, true},
		{"complete hook and export", func(c *Configuration) {
			c.Hook.Enabled = true
			c.Hook.Source = "/data/app"
			c.Hook.Mountpoint = "/mnt/traced"
			c.Export.Enabled = true
			c.Export.Bucket = "trace-archive"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
