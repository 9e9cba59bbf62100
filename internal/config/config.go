package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all crucible configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Test runner configuration
	Runner RunnerConfig `yaml:"runner"`

	// Infrastructure retry policy
	Retry RetryConfig `yaml:"retry"`

	// Multi-cluster orchestration
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`

	// Cross-reference scanning
	Xref XrefConfig `yaml:"xref"`

	// Audit ledger
	Ledger LedgerConfig `yaml:"ledger"`

	// Watch-and-reverify daemon
	Watch WatchConfig `yaml:"watch"`

	// Claim-pattern plugin
	Plugin PluginConfig `yaml:"plugin"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// RunnerConfig configures the test runner invocation.
type RunnerConfig struct {
	Binary         string `yaml:"binary"`          // Test binary, e.g. "go"
	DefaultTimeout string `yaml:"default_timeout"` // Per-cluster run timeout
	DefaultPattern string `yaml:"default_pattern"` // Catch-all package pattern
	WorkingDir     string `yaml:"working_dir"`

	// EnvVars are additional environment variables for test runs.
	// Key examples: CGO_CFLAGS, CGO_ENABLED, CC
	EnvVars map[string]string `yaml:"env_vars"`

	// ExtraFlags are additional flags for go test invocations.
	ExtraFlags []string `yaml:"extra_flags"`
}

// RetryConfig configures infrastructure-failure retries.
// Backoff is exponential from BaseDelayMs, capped at MaxDelayMs, with
// uniform jitter of up to JitterFraction of the clamped delay.
type RetryConfig struct {
	MaxRetries     int     `yaml:"max_retries"`
	BaseDelayMs    int64   `yaml:"base_delay_ms"`
	MaxDelayMs     int64   `yaml:"max_delay_ms"`
	JitterFraction float64 `yaml:"jitter_fraction"`
}

// OrchestratorConfig configures multi-cluster runs.
type OrchestratorConfig struct {
	ContinueOnFailure bool `yaml:"continue_on_failure"`
}

// XrefConfig configures the function/claim cross-reference scanner.
type XrefConfig struct {
	Languages   []string `yaml:"languages"`    // go, python, typescript
	ExcludeDirs []string `yaml:"exclude_dirs"` // Skipped during walks
	Parallelism int      `yaml:"parallelism"`  // Concurrent file parses
	MaxFileKB   int      `yaml:"max_file_kb"`  // Files above this are skipped
}

// LedgerConfig configures the persistent audit ledger.
type LedgerConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
	QueryTimeout string `yaml:"query_timeout"`
}

// WatchConfig configures the watch daemon.
type WatchConfig struct {
	Debounce   string   `yaml:"debounce"`
	Extensions []string `yaml:"extensions"`
}

// PluginConfig configures the yaegi claim-pattern plugin.
type PluginConfig struct {
	PatternPlugin string `yaml:"pattern_plugin"` // Path to a .go plugin source
	EvalTimeout   string `yaml:"eval_timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "crucible",
		Version: "0.3.0",

		Runner: RunnerConfig{
			Binary:         "go",
			DefaultTimeout: "300s",
			DefaultPattern: "./...",
			WorkingDir:     ".",
			EnvVars:        make(map[string]string),
			ExtraFlags:     []string{},
		},

		Retry: RetryConfig{
			MaxRetries:     3,
			BaseDelayMs:    1000,
			MaxDelayMs:     30000,
			JitterFraction: 0.2,
		},

		Orchestrator: OrchestratorConfig{
			ContinueOnFailure: false,
		},

		Xref: XrefConfig{
			Languages:   []string{"go", "python", "typescript"},
			ExcludeDirs: []string{".git", "node_modules", "vendor", ".crucible"},
			Parallelism: 8,
			MaxFileKB:   1024,
		},

		Ledger: LedgerConfig{
			Enabled:      true,
			DatabasePath: ".crucible/ledger.db",
			QueryTimeout: "30s",
		},

		Watch: WatchConfig{
			Debounce:   "2s",
			Extensions: []string{".go", ".py", ".ts"},
		},

		Plugin: PluginConfig{
			PatternPlugin: "",
			EvalTimeout:   "5s",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "crucible.log",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
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
func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("CRUCIBLE_WORKDIR"); dir != "" {
		c.Runner.WorkingDir = dir
	}
	if bin := os.Getenv("CRUCIBLE_RUNNER"); bin != "" {
		c.Runner.Binary = bin
	}
	if path := os.Getenv("CRUCIBLE_DB"); path != "" {
		c.Ledger.DatabasePath = path
	}
	if path := os.Getenv("CRUCIBLE_PLUGIN"); path != "" {
		c.Plugin.PatternPlugin = path
	}
}

// GetRunnerTimeout returns the per-cluster runner timeout as a duration.
func (c *Config) GetRunnerTimeout() time.Duration {
	d, err := time.ParseDuration(c.Runner.DefaultTimeout)
	if err != nil {
		return 300 * time.Second
	}
	return d
}

// GetQueryTimeout returns the ledger query timeout as a duration.
func (c *Config) GetQueryTimeout() time.Duration {
	d, err := time.ParseDuration(c.Ledger.QueryTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetDebounce returns the watch debounce window as a duration.
func (c *Config) GetDebounce() time.Duration {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

// GetPluginEvalTimeout returns the plugin evaluation timeout as a duration.
func (c *Config) GetPluginEvalTimeout() time.Duration {
	d, err := time.ParseDuration(c.Plugin.EvalTimeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// ValidLanguages lists all languages the xref scanner understands.
var ValidLanguages = []string{"go", "python", "typescript"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Retry.MaxRetries < 1 {
		return fmt.Errorf("retry.max_retries must be at least 1, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.BaseDelayMs <= 0 {
		return fmt.Errorf("retry.base_delay_ms must be positive, got %d", c.Retry.BaseDelayMs)
	}
	if c.Retry.MaxDelayMs < c.Retry.BaseDelayMs {
		return fmt.Errorf("retry.max_delay_ms (%d) must not be below base_delay_ms (%d)",
			c.Retry.MaxDelayMs, c.Retry.BaseDelayMs)
	}
	if c.Retry.JitterFraction < 0 || c.Retry.JitterFraction > 1 {
		return fmt.Errorf("retry.jitter_fraction must be in [0,1], got %g", c.Retry.JitterFraction)
	}

	for _, lang := range c.Xref.Languages {
		valid := false
		for _, v := range ValidLanguages {
			if lang == v {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("invalid xref language: %s (valid: %v)", lang, ValidLanguages)
		}
	}

	if c.Xref.Parallelism < 1 {
		return fmt.Errorf("xref.parallelism must be at least 1, got %d", c.Xref.Parallelism)
	}

	return nil
}

// IsLedgerEnabled returns whether ledger persistence is enabled.
func (c *Config) IsLedgerEnabled() bool {
	return c.Ledger.Enabled
}
