package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// =============================================================================
// UNIFIED CONFIG TESTS
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Name != "crucible" {
		t.Errorf("expected Name=crucible, got %s", cfg.Name)
	}
	if cfg.Runner.Binary != "go" {
		t.Errorf("expected Runner.Binary=go, got %s", cfg.Runner.Binary)
	}
	if cfg.Retry.MaxRetries != 3 {
		t.Errorf("expected MaxRetries=3, got %d", cfg.Retry.MaxRetries)
	}
	if cfg.Retry.MaxDelayMs != 30000 {
		t.Errorf("expected MaxDelayMs=30000, got %d", cfg.Retry.MaxDelayMs)
	}
	if cfg.Orchestrator.ContinueOnFailure {
		t.Error("expected ContinueOnFailure=false by default")
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	// Ensure no env vars interfere
	t.Setenv("CRUCIBLE_RUNNER", "")
	t.Setenv("CRUCIBLE_WORKDIR", "")
	t.Setenv("CRUCIBLE_DB", "")

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "crucible.yaml")

	cfg := DefaultConfig()
	cfg.Runner.DefaultTimeout = "120s"
	cfg.Orchestrator.ContinueOnFailure = true
	cfg.Retry.MaxRetries = 5

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Runner.DefaultTimeout != "120s" {
		t.Errorf("expected DefaultTimeout=120s, got %s", loaded.Runner.DefaultTimeout)
	}
	if !loaded.Orchestrator.ContinueOnFailure {
		t.Error("expected ContinueOnFailure=true")
	}
	if loaded.Retry.MaxRetries != 5 {
		t.Errorf("expected MaxRetries=5, got %d", loaded.Retry.MaxRetries)
	}
}

func TestConfig_LoadMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("CRUCIBLE_RUNNER", "")
	t.Setenv("CRUCIBLE_WORKDIR", "")

	loaded, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Runner.Binary != "go" {
		t.Errorf("expected default Runner.Binary=go, got %s", loaded.Runner.Binary)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got error: %v", err)
	}

	cfg.Retry.MaxRetries = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for max_retries=0")
	}
	cfg.Retry.MaxRetries = 3

	cfg.Retry.JitterFraction = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for jitter_fraction > 1")
	}
	cfg.Retry.JitterFraction = 0.2

	cfg.Retry.MaxDelayMs = 100
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for max_delay below base_delay")
	}
	cfg.Retry.MaxDelayMs = 30000

	cfg.Xref.Languages = []string{"cobol"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for unknown language")
	}
}

func TestConfig_Helpers(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.GetRunnerTimeout() != 300*time.Second {
		t.Errorf("GetRunnerTimeout=%v, want 300s", cfg.GetRunnerTimeout())
	}
	if cfg.GetQueryTimeout() == 0 {
		t.Error("GetQueryTimeout should return non-zero duration")
	}
	if cfg.GetDebounce() != 2*time.Second {
		t.Errorf("GetDebounce=%v, want 2s", cfg.GetDebounce())
	}

	// Unparseable durations fall back to defaults
	cfg.Runner.DefaultTimeout = "not-a-duration"
	if cfg.GetRunnerTimeout() != 300*time.Second {
		t.Errorf("GetRunnerTimeout fallback=%v, want 300s", cfg.GetRunnerTimeout())
	}
}

// =============================================================================
// USER CONFIG TESTS
// =============================================================================

func TestFindWorkspaceRoot_PrefersCrucibleDir(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".crucible"), 0o755); err != nil {
		t.Fatalf("mkdir .crucible: %v", err)
	}
	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir nested: %v", err)
	}

	origWD, _ := os.Getwd()
	if err := os.Chdir(nested); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWD) })

	got, err := FindWorkspaceRoot()
	if err != nil {
		t.Fatalf("FindWorkspaceRoot: %v", err)
	}
	if got != root {
		t.Fatalf("FindWorkspaceRoot=%q, want %q", got, root)
	}
}

func TestFindWorkspaceRoot_FallsBackToGoMod(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "go.mod"), []byte("module example.com/test\n\ngo 1.22\n"), 0o644); err != nil {
		t.Fatalf("write go.mod: %v", err)
	}
	nested := filepath.Join(root, "subdir")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir nested: %v", err)
	}

	origWD, _ := os.Getwd()
	if err := os.Chdir(nested); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWD) })

	got, err := FindWorkspaceRoot()
	if err != nil {
		t.Fatalf("FindWorkspaceRoot: %v", err)
	}
	if got != root {
		t.Fatalf("FindWorkspaceRoot=%q, want %q", got, root)
	}
}

func TestDefaultUserConfigPath_UsesWorkspaceRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".crucible"), 0o755); err != nil {
		t.Fatalf("mkdir .crucible: %v", err)
	}
	nested := filepath.Join(root, "x", "y")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir nested: %v", err)
	}

	origWD, _ := os.Getwd()
	if err := os.Chdir(nested); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWD) })

	got := DefaultUserConfigPath()
	want := filepath.Join(root, ".crucible", "config.json")
	if got != want {
		t.Fatalf("DefaultUserConfigPath=%q, want %q", got, want)
	}
}

func TestLoadUserConfig_SaveRoundTrip(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, ".crucible", "config.json")

	cfg := &UserConfig{
		Theme: "dark",
		Logging: &LoggingConfig{
			DebugMode:  true,
			Level:      "debug",
			Categories: map[string]bool{"executor": true, "xref": false},
		},
	}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadUserConfig(path)
	if err != nil {
		t.Fatalf("LoadUserConfig: %v", err)
	}
	if loaded.Theme != "dark" {
		t.Fatalf("Theme=%q, want dark", loaded.Theme)
	}
	if loaded.Logging == nil || !loaded.Logging.DebugMode {
		t.Fatal("expected logging.debug_mode=true after round trip")
	}
	if loaded.Logging.Categories["executor"] != true || loaded.Logging.Categories["xref"] != false {
		t.Fatalf("category toggles lost: %+v", loaded.Logging.Categories)
	}
}

func TestUserConfig_GetLogging_Defaults(t *testing.T) {
	empty := &UserConfig{}
	logging := empty.GetLogging()
	if logging.DebugMode {
		t.Error("nil logging section should default to production mode")
	}
	if logging.Level != "info" {
		t.Errorf("Level=%q, want info", logging.Level)
	}

	partial := &UserConfig{Logging: &LoggingConfig{DebugMode: true}}
	logging = partial.GetLogging()
	if !logging.DebugMode {
		t.Error("explicit debug_mode=true should survive defaulting")
	}
	if logging.Level != "info" || logging.Format != "text" {
		t.Errorf("missing fields should be defaulted, got level=%q format=%q", logging.Level, logging.Format)
	}
}
