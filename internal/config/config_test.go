package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}

	if cfg.Pipeline.MinLongEdge != 720 || cfg.Pipeline.DefaultLongEdge != 1280 || cfg.Pipeline.MaxLongEdge != 1600 {
		t.Errorf("Unexpected long edge buckets: %+v", cfg.Pipeline)
	}
	if cfg.Stylize.FailureRate != 0.2 {
		t.Errorf("Expected failure rate 0.2, got %f", cfg.Stylize.FailureRate)
	}
	if cfg.Detection.Backend != BackendMock {
		t.Errorf("Expected mock detector, got %s", cfg.Detection.Backend)
	}

	remote := cfg.Stylize.RemoteConfig()
	if remote.MinDelay != 600*time.Millisecond || remote.MaxDelay != 1200*time.Millisecond {
		t.Errorf("Unexpected delays: %v-%v", remote.MinDelay, remote.MaxDelay)
	}
	if remote.BlockSize != 8 {
		t.Errorf("Expected remote block size 8, got %d", remote.BlockSize)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg := Default()
	cfg.Server.Addr = ":9090"
	cfg.Stylize.FailureRate = 0.5
	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if loaded.Server.Addr != ":9090" || loaded.Stylize.FailureRate != 0.5 {
		t.Errorf("Loaded config does not match saved one: %+v", loaded)
	}
}

func TestLoadFromFile_PartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"detection": {"backend": "saliency"}}`), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Detection.Backend != BackendSaliency {
		t.Errorf("Expected saliency backend, got %s", cfg.Detection.Backend)
	}
	if cfg.Detection.MaxResults != 5 || cfg.Pipeline.MaxLongEdge != 1600 {
		t.Errorf("Expected defaults to survive a partial file: %+v", cfg)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("Expected error for malformed file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"buckets out of order", func(c *Config) { c.Pipeline.DefaultLongEdge = 2000 }},
		{"quality", func(c *Config) { c.Pipeline.JPEGQuality = 0 }},
		{"block size", func(c *Config) { c.Stylize.LocalBlockSize = 0 }},
		{"delays", func(c *Config) { c.Stylize.MaxDelayMS = 10 }},
		{"failure rate", func(c *Config) { c.Stylize.FailureRate = 1.5 }},
		{"detector", func(c *Config) { c.Detection.Backend = "yolo" }},
		{"max results", func(c *Config) { c.Detection.MaxResults = 0 }},
		{"describer", func(c *Config) { c.Describe.Backend = "gpt" }},
		{"driver", func(c *Config) { c.Storage.Driver = "postgres" }},
		{"db path", func(c *Config) { c.Storage.DBPath = "" }},
		{"slots", func(c *Config) { c.Server.SlotCount = 0 }},
	}

	for _, tt := range tests {
		cfg := Default()
		tt.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("CAPTURE_ADDR", ":7070")
	t.Setenv("CAPTURE_DETECTOR", BackendSaliency)
	t.Setenv("CAPTURE_FAILURE_RATE", "0.75")
	t.Setenv("CAPTURE_SEED", "42")
	t.Setenv("CAPTURE_LOG_DIR", "")

	cfg := Default()
	cfg.ApplyEnv(filepath.Join(t.TempDir(), "missing.env"))

	if cfg.Server.Addr != ":7070" {
		t.Errorf("Expected addr :7070, got %s", cfg.Server.Addr)
	}
	if cfg.Detection.Backend != BackendSaliency {
		t.Errorf("Expected saliency detector, got %s", cfg.Detection.Backend)
	}
	if cfg.Stylize.FailureRate != 0.75 {
		t.Errorf("Expected failure rate 0.75, got %f", cfg.Stylize.FailureRate)
	}
	if cfg.Seed != 42 {
		t.Errorf("Expected seed 42, got %d", cfg.Seed)
	}
	if cfg.Log.Dir != "" {
		t.Errorf("Expected empty log dir, got %s", cfg.Log.Dir)
	}
}

func TestApplyEnv_DotEnvFile(t *testing.T) {
	const key = "CAPTURE_STORAGE_DIR"
	if _, set := os.LookupEnv(key); set {
		t.Skipf("%s already set in the environment", key)
	}
	t.Cleanup(func() { os.Unsetenv(key) })

	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte(key+"=/tmp/artworks\nCAPTURE_FAILURE_RATE=oops\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CAPTURE_FAILURE_RATE", "")

	cfg := Default()
	cfg.ApplyEnv(path)

	if cfg.Storage.Dir != "/tmp/artworks" {
		t.Errorf("Expected storage dir from .env, got %s", cfg.Storage.Dir)
	}
	if cfg.Stylize.FailureRate != 0.2 {
		t.Errorf("Expected default failure rate, got %f", cfg.Stylize.FailureRate)
	}
}
