// Package config provides configuration loading and management for grabcut.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"grabcut/pkg/clustering"
	"grabcut/pkg/logging"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumWorkers bounds the number of regions solved at the same time
		NumWorkers int `yaml:"numWorkers"`

		// Iterations is the number of assign/refit/cut rounds per call
		Iterations int `yaml:"iterations"`

		// StopWhenStable ends the loop early once an iteration changes no label
		StopWhenStable bool `yaml:"stopWhenStable"`
	} `yaml:"processing"`

	// Appearance model initialization
	Model struct {
		// KMeansIterations is the number of Lloyd iterations used to seed the mixtures
		KMeansIterations int `yaml:"kmeansIterations"`

		// Seeding is either "kmeans++" or "random"
		Seeding string `yaml:"seeding"`

		// Seed makes k-means seeding reproducible
		Seed uint64 `yaml:"seed"`
	} `yaml:"model"`

	// Graph construction parameters
	Graph struct {
		// Gamma scales the n-link weights; lambda is always 9*gamma
		Gamma float64 `yaml:"gamma"`

		// Reduce merges pixels into shared nodes before solving
		Reduce bool `yaml:"reduce"`

		// TerminalDualJoin enables the extra, not flow-preserving, terminal join test
		TerminalDualJoin bool `yaml:"terminalDualJoin"`

		// Validate rebuilds the full graph every iteration and compares flows
		Validate bool `yaml:"validate"`
	} `yaml:"graph"`

	// Region-parallel solve parameters
	Scheduler struct {
		// Enabled turns on the two parallel region rounds
		Enabled bool `yaml:"enabled"`

		// RegionRows and RegionCols give the round-1 grid of regions
		RegionRows int `yaml:"regionRows"`
		RegionCols int `yaml:"regionCols"`
	} `yaml:"scheduler"`

	// Output parameters
	Output struct {
		// SaveOverlay writes the overlay image next to the output mask
		SaveOverlay bool `yaml:"saveOverlay"`

		// Verbose controls the level of console output
		Verbose bool `yaml:"verbose"`

		// LogLevel is a zerolog level name
		LogLevel string `yaml:"logLevel"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default processing parameters
	cfg.Processing.NumWorkers = runtime.NumCPU() // Use all available cores by default
	cfg.Processing.Iterations = 1
	cfg.Processing.StopWhenStable = false

	// Set default model parameters
	cfg.Model.KMeansIterations = 10
	cfg.Model.Seeding = string(clustering.PlusPlus)
	cfg.Model.Seed = 1

	// Set default graph parameters
	cfg.Graph.Gamma = 50
	cfg.Graph.Reduce = true
	cfg.Graph.TerminalDualJoin = false

	// Set default scheduler parameters
	cfg.Scheduler.Enabled = true
	cfg.Scheduler.RegionRows = 2
	cfg.Scheduler.RegionCols = 2

	// Set default output parameters
	cfg.Output.SaveOverlay = true
	cfg.Output.Verbose = true
	cfg.Output.LogLevel = "info"

	return cfg
}

// Validate checks value ranges and names
func (c *Config) Validate() error {
	if c.Processing.NumWorkers < 0 {
		return fmt.Errorf("processing.numWorkers must not be negative, got %d", c.Processing.NumWorkers)
	}
	if c.Processing.Iterations < 0 {
		return fmt.Errorf("processing.iterations must not be negative, got %d", c.Processing.Iterations)
	}
	if c.Model.KMeansIterations < 1 {
		return fmt.Errorf("model.kmeansIterations must be positive, got %d", c.Model.KMeansIterations)
	}
	if _, err := clustering.ParseSeeding(c.Model.Seeding); err != nil {
		return fmt.Errorf("model.seeding: %w", err)
	}
	if !(c.Graph.Gamma > 0) {
		return fmt.Errorf("graph.gamma must be positive, got %v", c.Graph.Gamma)
	}
	if c.Scheduler.RegionRows < 1 || c.Scheduler.RegionCols < 1 {
		return fmt.Errorf("scheduler region grid must be at least 1x1, got %dx%d",
			c.Scheduler.RegionRows, c.Scheduler.RegionCols)
	}
	if _, err := logging.ParseLevel(c.Output.LogLevel); err != nil {
		return fmt.Errorf("output.logLevel: %w", err)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML over the defaults so omitted keys keep their default value
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
