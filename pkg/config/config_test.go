package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "staple", cfg.Fusion.Method)
	assert.Equal(t, int32(1), cfg.Fusion.ForegroundLabel)
	assert.Equal(t, int32(2), cfg.Fusion.UndecidedLabel)
	assert.Equal(t, 100, cfg.Fusion.MaxIterations)
	assert.InDelta(t, 1e-6, cfg.Fusion.Tolerance, 0)
	assert.InDelta(t, 0.95, cfg.Fusion.Threshold, 0)
	assert.Greater(t, cfg.Processing.Workers, 0)
	assert.True(t, cfg.Output.Verbose)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_Partial(t *testing.T) {
	// A partial file overrides only the keys it names
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("fusion:\n  method: majority\n  undecidedLabel: 99\n")
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "majority", cfg.Fusion.Method)
	assert.Equal(t, int32(99), cfg.Fusion.UndecidedLabel)
	// Untouched keys keep their defaults
	assert.Equal(t, 100, cfg.Fusion.MaxIterations)
	assert.InDelta(t, 0.95, cfg.Fusion.Threshold, 0)
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fusion: [not a mapping"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg := DefaultConfig()
	cfg.Fusion.Method = "majority"
	cfg.Fusion.Threshold = 0.8
	cfg.Processing.Workers = 3
	cfg.Output.ReportDir = "out"

	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
