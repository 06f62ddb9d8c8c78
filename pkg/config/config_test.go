package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestLoadMissingFileReturnsDefaults verifies the fallback to defaults
func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Processing.Iterations != 1 || cfg.Graph.Gamma != 50 || !cfg.Graph.Reduce {
		t.Errorf("Unexpected defaults: %+v", cfg)
	}
	if cfg.Model.KMeansIterations != 10 || cfg.Model.Seeding != "kmeans++" {
		t.Errorf("Unexpected model defaults: %+v", cfg.Model)
	}
	if cfg.Scheduler.RegionRows != 2 || cfg.Scheduler.RegionCols != 2 {
		t.Errorf("Unexpected scheduler defaults: %+v", cfg.Scheduler)
	}
}

// TestSaveAndLoad round-trips a modified configuration through a file
func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "grabcut.yaml")
	cfg := DefaultConfig()
	cfg.Processing.Iterations = 4
	cfg.Graph.Reduce = false
	cfg.Scheduler.RegionRows = 8
	cfg.Output.LogLevel = "debug"

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Processing.Iterations != 4 || loaded.Graph.Reduce || loaded.Scheduler.RegionRows != 8 {
		t.Errorf("Loaded config does not match saved one: %+v", loaded)
	}
	if loaded.Output.LogLevel != "debug" {
		t.Errorf("Expected log level debug, got %q", loaded.Output.LogLevel)
	}
}

// TestPartialFileKeepsDefaults checks that omitted keys keep their defaults
func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	data := []byte("processing:\n  iterations: 3\ngraph:\n  gamma: 25\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Processing.Iterations != 3 || cfg.Graph.Gamma != 25 {
		t.Errorf("Expected overridden values, got %+v", cfg)
	}
	if !cfg.Graph.Reduce || !cfg.Scheduler.Enabled {
		t.Errorf("Expected defaults for omitted keys, got %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"zero iterations", func(c *Config) { c.Processing.Iterations = 0 }, false},
		{"negative iterations", func(c *Config) { c.Processing.Iterations = -1 }, true},
		{"zero gamma", func(c *Config) { c.Graph.Gamma = 0 }, true},
		{"unknown seeding", func(c *Config) { c.Model.Seeding = "forgy" }, true},
		{"empty region grid", func(c *Config) { c.Scheduler.RegionCols = 0 }, true},
		{"bad log level", func(c *Config) { c.Output.LogLevel = "loud" }, true},
		{"no kmeans iterations", func(c *Config) { c.Model.KMeansIterations = 0 }, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.yaml")
	if err := CreateDefaultConfigFile(path); err != nil {
		t.Fatalf("CreateDefaultConfigFile failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Expected config file to exist: %v", err)
	}
}
