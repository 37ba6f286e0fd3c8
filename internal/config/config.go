package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all ARF configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Model routing and limits
	Models map[string]ModelConfig `yaml:"models"`

	// Philosophy weights for elegance evaluation
	Philosophy PhilosophyConfig `yaml:"philosophy"`

	// Conversation monitoring
	Monitoring MonitoringConfig `yaml:"monitoring"`

	// Browser-based scraping
	Scraping ScrapingConfig `yaml:"scraping"`

	// Validation experiments
	Validation ValidationConfig `yaml:"validation"`

	// Workspace directories
	Paths PathsConfig `yaml:"paths"`

	// Dashboard
	Web WebConfig `yaml:"web"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ModelConfig configures a single model the manager can route to.
type ModelConfig struct {
	Type           string   `yaml:"type"` // api or web
	Provider       string   `yaml:"provider"`
	APIKey         string   `yaml:"api_key"`
	BaseURL        string   `yaml:"base_url"`
	DailyLimit     int64    `yaml:"daily_limit"` // tokens per day
	RPMLimit       int      `yaml:"rpm_limit"`
	PreferredTasks []string `yaml:"preferred_tasks"`
}

// PhilosophyConfig carries the elegance criteria weights.
type PhilosophyConfig struct {
	Inevitability    float64 `yaml:"inevitability"`
	Symmetry         float64 `yaml:"symmetry"`
	Parsimony        float64 `yaml:"parsimony"`
	ExplanatoryPower float64 `yaml:"explanatory_power"`

	// Minimum composite score for a concept to enter the framework.
	AcceptanceThreshold float64 `yaml:"acceptance_threshold"`
}

// MonitoringConfig configures live conversation monitoring.
type MonitoringConfig struct {
	ActiveChats bool   `yaml:"active_chats"`
	Interval    string `yaml:"interval"`
}

// ScrapingConfig configures the browser orchestrator.
type ScrapingConfig struct {
	Browser   bool   `yaml:"browser"`
	Headless  bool   `yaml:"headless"`
	SlowMoMs  int    `yaml:"slow_mo_ms"`
	UserAgent string `yaml:"user_agent"`
}

// ValidationConfig configures the validation engine.
type ValidationConfig struct {
	MaxParallel   int    `yaml:"max_parallel"`
	ScriptTimeout string `yaml:"script_timeout"`
	RetentionDays int    `yaml:"retention_days"`
}

// PathsConfig holds the workspace directory layout.
type PathsConfig struct {
	Input    string `yaml:"input"`
	Output   string `yaml:"output"`
	State    string `yaml:"state"`
	Datasets string `yaml:"datasets"`
}

// WebConfig configures the dashboard server.
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level     string `yaml:"level"` // debug, info, warn, error
	DebugMode bool   `yaml:"debug_mode"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "ARF",
		Version: "1.0.0",

		Models: map[string]ModelConfig{
			"gpt-4o": {
				Type:           "api",
				Provider:       "openai",
				BaseURL:        "https://api.openai.com/v1",
				DailyLimit:     1000000,
				RPMLimit:       60,
				PreferredTasks: []string{"extraction", "evaluation"},
			},
			"gemini-2.5-flash": {
				Type:           "api",
				Provider:       "gemini",
				DailyLimit:     1000000,
				RPMLimit:       60,
				PreferredTasks: []string{"summarization"},
			},
			"llama3": {
				Type:       "api",
				Provider:   "local",
				BaseURL:    "http://localhost:11434/v1",
				DailyLimit: math.MaxInt32,
			},
		},

		Philosophy: PhilosophyConfig{
			Inevitability:       0.30,
			Symmetry:            0.25,
			Parsimony:           0.25,
			ExplanatoryPower:    0.20,
			AcceptanceThreshold: 0.75,
		},

		Monitoring: MonitoringConfig{
			ActiveChats: false,
			Interval:    "10m",
		},

		Scraping: ScrapingConfig{
			Browser:   false,
			Headless:  true,
			SlowMoMs:  1000,
			UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36",
		},

		Validation: ValidationConfig{
			MaxParallel:   3,
			ScriptTimeout: "5m",
			RetentionDays: 30,
		},

		Paths: PathsConfig{
			Input:    "input",
			Output:   "output",
			State:    "state",
			Datasets: "validation_data",
		},

		Web: WebConfig{
			Enabled: true,
			Addr:    ":5000",
		},

		Logging: LoggingConfig{
			Level:     "info",
			DebugMode: false,
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
		// No config file, proceed with defaults.
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Env overrides apply on every path, defaults included.
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
// Credentials live in the environment (or a sourced .env), never in YAML.
func (c *Config) applyEnvOverrides() {
	for name, mc := range c.Models {
		if key := os.Getenv(envVarForProvider(mc.Provider)); key != "" {
			mc.APIKey = key
			c.Models[name] = mc
		}
	}

	if addr := os.Getenv("ARF_WEB_ADDR"); addr != "" {
		c.Web.Addr = addr
	}
	if dir := os.Getenv("ARF_STATE_DIR"); dir != "" {
		c.Paths.State = dir
	}
}

func envVarForProvider(provider string) string {
	switch provider {
	case "openai":
		return "OPENAI_API_KEY"
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "gemini":
		return "GEMINI_API_KEY"
	}
	return ""
}

// Weights returns the philosophy weights in canonical order.
func (p PhilosophyConfig) Weights() []float64 {
	return []float64{p.Inevitability, p.Symmetry, p.Parsimony, p.ExplanatoryPower}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	sum := 0.0
	for _, w := range c.Philosophy.Weights() {
		if w < 0 {
			return fmt.Errorf("philosophy weights must be non-negative, got %v", w)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > 0.001 {
		return fmt.Errorf("philosophy weights must sum to 1.0, got %.3f", sum)
	}

	if c.Philosophy.AcceptanceThreshold <= 0 || c.Philosophy.AcceptanceThreshold > 1 {
		return fmt.Errorf("acceptance threshold must be in (0,1], got %v", c.Philosophy.AcceptanceThreshold)
	}

	for name, mc := range c.Models {
		switch mc.Type {
		case "api", "web":
		default:
			return fmt.Errorf("model %s: invalid type %q (valid: api, web)", name, mc.Type)
		}
		if mc.Type == "api" && mc.Provider != "local" && mc.APIKey == "" {
			return fmt.Errorf("model %s: API key not configured (set %s)", name, envVarForProvider(mc.Provider))
		}
	}

	if c.Validation.MaxParallel <= 0 {
		return fmt.Errorf("validation max_parallel must be positive, got %d", c.Validation.MaxParallel)
	}

	return nil
}

// MonitorInterval returns the monitoring interval as a duration.
func (c *Config) MonitorInterval() time.Duration {
	d, err := time.ParseDuration(c.Monitoring.Interval)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

// ScriptTimeout returns the validation script timeout as a duration.
func (c *Config) ScriptTimeout() time.Duration {
	d, err := time.ParseDuration(c.Validation.ScriptTimeout)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// StatePath returns the path of a file inside the state directory.
func (c *Config) StatePath(file string) string {
	return filepath.Join(c.Paths.State, file)
}

// OutputPath returns the path of a file inside the output directory.
func (c *Config) OutputPath(file string) string {
	return filepath.Join(c.Paths.Output, file)
}

// EnsureDirs creates the workspace directory layout.
func (c *Config) EnsureDirs() error {
	dirs := []string{
		c.Paths.Input,
		c.Paths.Output,
		filepath.Join(c.Paths.Output, "appendices"),
		filepath.Join(c.Paths.Output, "questions"),
		c.Paths.State,
		c.Paths.Datasets,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
