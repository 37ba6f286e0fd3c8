package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	// Defaults carry no API keys; stub them so validation exercises the weights.
	for name, mc := range cfg.Models {
		mc.APIKey = "test-key"
		cfg.Models[name] = mc
	}
	require.NoError(t, cfg.Validate())
}

func TestPhilosophyWeightsSumToOne(t *testing.T) {
	p := DefaultConfig().Philosophy
	sum := 0.0
	for _, w := range p.Weights() {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 0.001)
}

func TestValidateRejectsBadWeights(t *testing.T) {
	cfg := DefaultConfig()
	for name, mc := range cfg.Models {
		mc.APIKey = "test-key"
		cfg.Models[name] = mc
	}
	cfg.Philosophy.Inevitability = 0.50 // sum now 1.20
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum to 1.0")
}

func TestValidateRejectsMissingAPIKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Models = map[string]ModelConfig{
		"gpt-4o": {Type: "api", Provider: "openai"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
}

func TestValidateRejectsUnknownModelType(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Models = map[string]ModelConfig{
		"mystery": {Type: "carrier-pigeon", Provider: "local"},
	}
	require.Error(t, cfg.Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "ARF", cfg.Name)
	assert.Equal(t, ":5000", cfg.Web.Addr)
}

func TestLoadParsesYAMLAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
name: test-arf
philosophy:
  inevitability: 0.40
  symmetry: 0.30
  parsimony: 0.20
  explanatory_power: 0.10
  acceptance_threshold: 0.80
validation:
  max_parallel: 5
  script_timeout: 90s
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test-arf", cfg.Name)
	assert.Equal(t, 0.40, cfg.Philosophy.Inevitability)
	assert.Equal(t, 0.80, cfg.Philosophy.AcceptanceThreshold)
	assert.Equal(t, 5, cfg.Validation.MaxParallel)
	assert.Equal(t, float64(90), cfg.ScriptTimeout().Seconds())
}

func TestEnvOverridesApplyAPIKeys(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("ARF_WEB_ADDR", ":6060")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "sk-env", cfg.Models["gpt-4o"].APIKey)
	assert.Equal(t, ":6060", cfg.Web.Addr)
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Name = "round-trip"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "round-trip", loaded.Name)
}

func TestEnsureDirs(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Paths = PathsConfig{
		Input:    filepath.Join(dir, "input"),
		Output:   filepath.Join(dir, "output"),
		State:    filepath.Join(dir, "state"),
		Datasets: filepath.Join(dir, "datasets"),
	}
	require.NoError(t, cfg.EnsureDirs())

	for _, p := range []string{
		cfg.Paths.Input,
		filepath.Join(cfg.Paths.Output, "appendices"),
		filepath.Join(cfg.Paths.Output, "questions"),
		cfg.Paths.State,
	} {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
