package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config invalid: %v", err)
	}
	if cfg.FPS != 30 {
		t.Errorf("Expected 30 fps, got %d", cfg.FPS)
	}
	if cfg.ExportPollInterval != 100*time.Millisecond {
		t.Errorf("Expected 100ms poll interval, got %s", cfg.ExportPollInterval)
	}
	if cfg.ExportResetDelay != 3*time.Second {
		t.Errorf("Expected 3s reset delay, got %s", cfg.ExportResetDelay)
	}
	if cfg.FrameInterval() != time.Second/30 {
		t.Errorf("Unexpected frame interval %s", cfg.FrameInterval())
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "slideshow.yaml")
	data := []byte(`
width: 1280
height: 720
transition: zoom
export_poll_interval: 250ms
output_format: WEBM
suggest:
  enabled: false
storage:
  bucket: clips
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Width != 1280 || cfg.Height != 720 {
		t.Errorf("Expected 1280x720, got %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Transition != "zoom" {
		t.Errorf("Expected transition zoom, got %s", cfg.Transition)
	}
	if cfg.ExportPollInterval != 250*time.Millisecond {
		t.Errorf("Expected 250ms, got %s", cfg.ExportPollInterval)
	}
	if cfg.OutputFormat != "webm" {
		t.Errorf("Expected normalized format webm, got %s", cfg.OutputFormat)
	}
	if cfg.Suggest.Enabled {
		t.Error("Expected suggestions disabled")
	}
	if cfg.Storage.Bucket != "clips" {
		t.Errorf("Expected bucket clips, got %s", cfg.Storage.Bucket)
	}
	// Untouched fields keep their defaults.
	if cfg.FPS != 30 {
		t.Errorf("Expected default fps 30, got %d", cfg.FPS)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("SLIDESHOW_LISTEN", ":9999")
	t.Setenv("MINIO_USE_SSL", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Suggest.APIKey != "sk-test" {
		t.Errorf("Expected API key from env, got %q", cfg.Suggest.APIKey)
	}
	if cfg.Listen != ":9999" {
		t.Errorf("Expected listen :9999, got %s", cfg.Listen)
	}
	if !cfg.Storage.UseSSL {
		t.Error("Expected MINIO_USE_SSL to enable SSL")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"default", func(c *Config) {}, true},
		{"odd width", func(c *Config) { c.Width = 1281 }, false},
		{"zero fps", func(c *Config) { c.FPS = 0 }, false},
		{"bad format", func(c *Config) { c.OutputFormat = "gif" }, false},
		{"zero poll", func(c *Config) { c.ExportPollInterval = 0 }, false},
		{"empty prefix", func(c *Config) { c.OutputPrefix = "" }, false},
		{"zero workers clamps", func(c *Config) { c.Workers = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("Expected valid, got %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}
