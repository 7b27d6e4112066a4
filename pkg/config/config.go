// Package config provides configuration loading and management for
// segconsensus. It handles loading configuration from YAML files and
// provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML.
type Config struct {
	// Fusion parameters
	Fusion struct {
		// Method selects the fusion algorithm: "majority" or "staple".
		Method string `yaml:"method"`

		// ForegroundLabel is the label value treated as foreground.
		ForegroundLabel int32 `yaml:"foregroundLabel"`

		// UndecidedLabel is the sentinel assigned to majority-vote ties.
		// It must be distinct from every real label value.
		UndecidedLabel int32 `yaml:"undecidedLabel"`

		// MaxIterations caps the STAPLE EM loop.
		MaxIterations int `yaml:"maxIterations"`

		// Tolerance is the STAPLE convergence threshold on the largest
		// per-iteration change in any sensitivity or specificity.
		Tolerance float64 `yaml:"tolerance"`

		// Prior is the global foreground prior; <= 0 means estimate it
		// from the rater set.
		Prior float64 `yaml:"prior"`

		// Threshold converts the STAPLE probability grid into a binary
		// consensus.
		Threshold float64 `yaml:"threshold"`
	} `yaml:"fusion"`

	// Processing parameters
	Processing struct {
		// Workers specifies how many goroutines to use for the
		// per-voxel passes.
		Workers int `yaml:"workers"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// ReportDir is where metric tables are written.
		ReportDir string `yaml:"reportDir"`

		// Verbose controls the level of logging output.
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Fusion.Method = "staple"
	cfg.Fusion.ForegroundLabel = 1
	cfg.Fusion.UndecidedLabel = 2
	cfg.Fusion.MaxIterations = 100
	cfg.Fusion.Tolerance = 1e-6
	cfg.Fusion.Prior = 0 // estimate from the rater set
	cfg.Fusion.Threshold = 0.95

	cfg.Processing.Workers = runtime.NumCPU()

	cfg.Output.ReportDir = "reports"
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(cfg *Config, configPath string) error {
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
