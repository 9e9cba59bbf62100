// Package logging provides config-driven categorized file-based logging for crucible.
// Logs are written to .crucible/logs/ with separate files per category.
// Logging is controlled by debug_mode in .crucible/config.json - when false, no
// logs are written. CRUCIBLE_DEBUG=1 forces debug mode on regardless of config.
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/system
type Category string

const (
	// Core system categories
	CategoryBoot        Category = "boot"        // Boot/initialization
	CategoryConfig      Category = "config"      // Config load/save/overrides
	CategoryPerformance Category = "performance" // Performance metrics, slow operations

	// Verification pipeline categories
	CategoryMapper       Category = "mapper"       // Claim-to-test attribution
	CategoryExecutor     Category = "executor"     // Single-cluster execution
	CategoryRetry        Category = "retry"        // Retry controller, backoff
	CategoryOrchestrator Category = "orchestrator" // Multi-cluster runs
	CategoryVerdict      Category = "verdict"      // Verdict + re-injection targeting

	// Collaborator categories
	CategoryRunner Category = "runner" // Test runner invocation and parsing
	CategoryXref   Category = "xref"   // Cross-reference scanning
	CategoryLedger Category = "ledger" // Audit ledger writes/queries
	CategoryPlugin Category = "plugin" // Claim-pattern plugin loading
	CategoryWatch  Category = "watch"  // Watch-and-reverify daemon
)

// loggingConfig mirrors the relevant parts of config.LoggingConfig
// to avoid circular imports
type loggingConfig struct {
	DebugMode  bool            `json:"debug_mode"`
	Categories map[string]bool `json:"categories"`
	Level      string          `json:"level"`
	JSONFormat bool            `json:"json_format"`
}

// configFile structure for reading .crucible/config.json
type configFile struct {
	Logging loggingConfig `json:"logging"`
}

// StructuredLogEntry represents a JSON log entry for downstream fact parsing.
// Format: log_entry(Timestamp, Category, Level, Message)
type StructuredLogEntry struct {
	Timestamp int64                  `json:"ts"`  // Unix milliseconds
	Category  string                 `json:"cat"` // Log category
	Level     string                 `json:"lvl"` // debug/info/warn/error
	Message   string                 `json:"msg"` // Log message
	RunID     string                 `json:"run,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger wraps a standard logger with category and file output
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers      = make(map[Category]*Logger)
	loggersMu    sync.RWMutex
	logsDir      string
	workspace    string
	config       loggingConfig
	configLoaded bool
	configMu     sync.RWMutex
	logLevel     int // 0=debug, 1=info, 2=warn, 3=error
)

// Log levels
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Initialize sets up the logging directory and loads config.
// Should be called once at startup with the workspace path.
func Initialize(ws string) error {
	if ws == "" {
		return fmt.Errorf("workspace path required")
	}

	workspace = ws
	logsDir = filepath.Join(workspace, ".crucible", "logs")

	if err := loadConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not load config: %v\n", err)
		config.DebugMode = false
	}

	if os.Getenv("CRUCIBLE_DEBUG") == "1" {
		configMu.Lock()
		config.DebugMode = true
		configMu.Unlock()
	}

	// Only create logs directory if debug mode is enabled
	if !IsDebugMode() {
		return nil // Silent no-op in production mode
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	bootLogger := Get(CategoryBoot)
	bootLogger.Info("=== crucible logging initialized ===")
	bootLogger.Info("Workspace: %s", workspace)
	bootLogger.Info("Logs directory: %s", logsDir)
	bootLogger.Info("Log level: %s", config.Level)

	if len(config.Categories) > 0 {
		enabledCount := 0
		for cat, enabled := range config.Categories {
			if enabled {
				enabledCount++
			}
			bootLogger.Debug("Category '%s': %v", cat, enabled)
		}
		bootLogger.Info("Enabled categories: %d/%d", enabledCount, len(config.Categories))
	} else {
		bootLogger.Info("All categories enabled (no category filter)")
	}

	return nil
}

// loadConfig reads the logging config from .crucible/config.json
func loadConfig() error {
	configMu.Lock()
	defer configMu.Unlock()

	configPath := filepath.Join(workspace, ".crucible", "config.json")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// No config = production mode (no logging)
			config.DebugMode = false
			configLoaded = true
			return nil
		}
		return err
	}

	var cf configFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	config = cf.Logging
	configLoaded = true

	switch config.Level {
	case "debug":
		logLevel = LevelDebug
	case "info":
		logLevel = LevelInfo
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}

	return nil
}

// ReloadConfig reloads the config from disk.
// Call this if config changes at runtime.
func ReloadConfig() error {
	return loadConfig()
}

// IsDebugMode returns whether debug logging is enabled
func IsDebugMode() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return config.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()

	if !config.DebugMode {
		return false
	}

	if config.Categories == nil {
		return true // All enabled by default in debug mode
	}

	enabled, exists := config.Categories[string(category)]
	if !exists {
		return true // Enable by default if not specified
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode is disabled or category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}

	if logsDir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	// Double-check after acquiring write lock
	if l, ok := loggers[category]; ok {
		return l
	}

	// Create log file with date prefix for easy rotation
	date := time.Now().Format("2006-01-02")
	filename := fmt.Sprintf("%s_%s.log", date, category)
	logPath := filepath.Join(logsDir, filename)

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l

	return l
}

// logJSON writes a structured JSON log entry
func (l *Logger) logJSON(level, msg string) {
	entry := StructuredLogEntry{
		Timestamp: time.Now().UnixMilli(),
		Category:  string(l.category),
		Level:     level,
		Message:   msg,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Printf("[%s] %s", level, msg) // Fallback to text
		return
	}
	l.logger.Printf("%s", data)
}

// Debug logs a debug message (only if level <= debug)
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("debug", msg)
	} else {
		l.logger.Printf("[DEBUG] %s", msg)
	}
}

// Info logs an informational message (only if level <= info)
func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("info", msg)
	} else {
		l.logger.Printf("[INFO] %s", msg)
	}
}

// Warn logs a warning message (only if level <= warn)
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("warn", msg)
	} else {
		l.logger.Printf("[WARN] %s", msg)
	}
}

// Error logs an error message (always logged if logger exists)
func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("error", msg)
	} else {
		l.logger.Printf("[ERROR] %s", msg)
	}
}

// StructuredLog writes a fully structured log entry with custom fields
func (l *Logger) StructuredLog(level string, msg string, fields map[string]interface{}) {
	if l.logger == nil {
		return
	}
	entry := StructuredLogEntry{
		Timestamp: time.Now().UnixMilli(),
		Category:  string(l.category),
		Level:     level,
		Message:   msg,
		Fields:    fields,
	}
	if config.JSONFormat {
		data, err := json.Marshal(entry)
		if err == nil {
			l.logger.Printf("%s", data)
			return
		}
	}
	l.logger.Printf("[%s] %s | fields=%v", level, msg, fields)
}

// IsJSONFormat returns whether JSON logging is enabled
func IsJSONFormat() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return config.JSONFormat
}

// CloseAll closes all open log files (call at shutdown)
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if the category is disabled
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

// BootDebug logs debug to the boot category
func BootDebug(format string, args ...interface{}) {
	Get(CategoryBoot).Debug(format, args...)
}

// Config logs to the config category
func Config(format string, args ...interface{}) {
	Get(CategoryConfig).Info(format, args...)
}

// ConfigDebug logs debug to the config category
func ConfigDebug(format string, args ...interface{}) {
	Get(CategoryConfig).Debug(format, args...)
}

// Mapper logs to the mapper category
func Mapper(format string, args ...interface{}) {
	Get(CategoryMapper).Info(format, args...)
}

// MapperDebug logs debug to the mapper category
func MapperDebug(format string, args ...interface{}) {
	Get(CategoryMapper).Debug(format, args...)
}

// Executor logs to the executor category
func Executor(format string, args ...interface{}) {
	Get(CategoryExecutor).Info(format, args...)
}

// ExecutorDebug logs debug to the executor category
func ExecutorDebug(format string, args ...interface{}) {
	Get(CategoryExecutor).Debug(format, args...)
}

// Retry logs to the retry category
func Retry(format string, args ...interface{}) {
	Get(CategoryRetry).Info(format, args...)
}

// RetryDebug logs debug to the retry category
func RetryDebug(format string, args ...interface{}) {
	Get(CategoryRetry).Debug(format, args...)
}

// Orchestrator logs to the orchestrator category
func Orchestrator(format string, args ...interface{}) {
	Get(CategoryOrchestrator).Info(format, args...)
}

// OrchestratorDebug logs debug to the orchestrator category
func OrchestratorDebug(format string, args ...interface{}) {
	Get(CategoryOrchestrator).Debug(format, args...)
}

// Verdict logs to the verdict category
func Verdict(format string, args ...interface{}) {
	Get(CategoryVerdict).Info(format, args...)
}

// VerdictDebug logs debug to the verdict category
func VerdictDebug(format string, args ...interface{}) {
	Get(CategoryVerdict).Debug(format, args...)
}

// Runner logs to the runner category
func Runner(format string, args ...interface{}) {
	Get(CategoryRunner).Info(format, args...)
}

// RunnerDebug logs debug to the runner category
func RunnerDebug(format string, args ...interface{}) {
	Get(CategoryRunner).Debug(format, args...)
}

// Xref logs to the xref category
func Xref(format string, args ...interface{}) {
	Get(CategoryXref).Info(format, args...)
}

// XrefDebug logs debug to the xref category
func XrefDebug(format string, args ...interface{}) {
	Get(CategoryXref).Debug(format, args...)
}

// Ledger logs to the ledger category
func Ledger(format string, args ...interface{}) {
	Get(CategoryLedger).Info(format, args...)
}

// LedgerDebug logs debug to the ledger category
func LedgerDebug(format string, args ...interface{}) {
	Get(CategoryLedger).Debug(format, args...)
}

// Plugin logs to the plugin category
func Plugin(format string, args ...interface{}) {
	Get(CategoryPlugin).Info(format, args...)
}

// PluginDebug logs debug to the plugin category
func PluginDebug(format string, args ...interface{}) {
	Get(CategoryPlugin).Debug(format, args...)
}

// Watch logs to the watch category
func Watch(format string, args ...interface{}) {
	Get(CategoryWatch).Info(format, args...)
}

// WatchDebug logs debug to the watch category
func WatchDebug(format string, args ...interface{}) {
	Get(CategoryWatch).Debug(format, args...)
}

// =============================================================================
// WARN/ERROR CONVENIENCE FUNCTIONS - For the hot-path categories
// =============================================================================

// ExecutorWarn logs warning to the executor category
func ExecutorWarn(format string, args ...interface{}) {
	Get(CategoryExecutor).Warn(format, args...)
}

// ExecutorError logs error to the executor category
func ExecutorError(format string, args ...interface{}) {
	Get(CategoryExecutor).Error(format, args...)
}

// RetryWarn logs warning to the retry category
func RetryWarn(format string, args ...interface{}) {
	Get(CategoryRetry).Warn(format, args...)
}

// OrchestratorWarn logs warning to the orchestrator category
func OrchestratorWarn(format string, args ...interface{}) {
	Get(CategoryOrchestrator).Warn(format, args...)
}

// OrchestratorError logs error to the orchestrator category
func OrchestratorError(format string, args ...interface{}) {
	Get(CategoryOrchestrator).Error(format, args...)
}

// VerdictWarn logs warning to the verdict category
func VerdictWarn(format string, args ...interface{}) {
	Get(CategoryVerdict).Warn(format, args...)
}

// RunnerWarn logs warning to the runner category
func RunnerWarn(format string, args ...interface{}) {
	Get(CategoryRunner).Warn(format, args...)
}

// RunnerError logs error to the runner category
func RunnerError(format string, args ...interface{}) {
	Get(CategoryRunner).Error(format, args...)
}

// XrefWarn logs warning to the xref category
func XrefWarn(format string, args ...interface{}) {
	Get(CategoryXref).Warn(format, args...)
}

// LedgerWarn logs warning to the ledger category
func LedgerWarn(format string, args ...interface{}) {
	Get(CategoryLedger).Warn(format, args...)
}

// LedgerError logs error to the ledger category
func LedgerError(format string, args ...interface{}) {
	Get(CategoryLedger).Error(format, args...)
}

// PluginWarn logs warning to the plugin category
func PluginWarn(format string, args ...interface{}) {
	Get(CategoryPlugin).Warn(format, args...)
}

// WatchWarn logs warning to the watch category
func WatchWarn(format string, args ...interface{}) {
	Get(CategoryWatch).Warn(format, args...)
}

// WatchError logs error to the watch category
func WatchError(format string, args ...interface{}) {
	Get(CategoryWatch).Error(format, args...)
}

// =============================================================================
// RUN ID TRACING - Correlate log lines across one verification run
// =============================================================================

// RunLogger provides run-scoped logging with a correlation ID
type RunLogger struct {
	logger *Logger
	runID  string
	fields map[string]interface{}
}

// WithRunID creates a run-scoped logger so multi-cluster runs can be traced
func WithRunID(category Category, runID string) *RunLogger {
	return &RunLogger{
		logger: Get(category),
		runID:  runID,
		fields: make(map[string]interface{}),
	}
}

// WithField adds a field to the run logger
func (r *RunLogger) WithField(key string, value interface{}) *RunLogger {
	r.fields[key] = value
	return r
}

func (r *RunLogger) formatMsg(format string, args ...interface{}) string {
	msg := fmt.Sprintf(format, args...)
	if len(r.fields) > 0 {
		return fmt.Sprintf("[run:%s] %s | %v", r.runID, msg, r.fields)
	}
	return fmt.Sprintf("[run:%s] %s", r.runID, msg)
}

func (r *RunLogger) Debug(format string, args ...interface{}) {
	if r.logger.logger == nil || logLevel > LevelDebug {
		return
	}
	r.logger.logger.Printf("[DEBUG] %s", r.formatMsg(format, args...))
}

func (r *RunLogger) Info(format string, args ...interface{}) {
	if r.logger.logger == nil || logLevel > LevelInfo {
		return
	}
	r.logger.logger.Printf("[INFO] %s", r.formatMsg(format, args...))
}

func (r *RunLogger) Warn(format string, args ...interface{}) {
	if r.logger.logger == nil || logLevel > LevelWarn {
		return
	}
	r.logger.logger.Printf("[WARN] %s", r.formatMsg(format, args...))
}

func (r *RunLogger) Error(format string, args ...interface{}) {
	if r.logger.logger == nil {
		return
	}
	r.logger.logger.Printf("[ERROR] %s", r.formatMsg(format, args...))
}

// =============================================================================
// TIMING HELPERS - For performance logging
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithInfo ends the timer and logs at info level
func (t *Timer) StopWithInfo() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Info("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
