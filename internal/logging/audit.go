// Package logging provides audit logging that outputs Mangle-queryable facts.
// Audit logs are structured events that can be parsed into Mangle predicates
// for declarative querying and analysis of verification runs.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// AUDIT EVENT TYPES - Maps to Mangle predicates
// =============================================================================

// AuditEventType defines the type of audit event (maps to Mangle predicate)
type AuditEventType string

const (
	// Run lifecycle events -> run_event/5
	AuditRunStart    AuditEventType = "run_start"
	AuditRunComplete AuditEventType = "run_complete"
	AuditRunStopped  AuditEventType = "run_stopped"

	// Cluster execution events -> cluster_event/6
	AuditClusterExecute  AuditEventType = "cluster_execute"
	AuditClusterComplete AuditEventType = "cluster_complete"
	AuditClusterError    AuditEventType = "cluster_error"

	// Retry events -> retry_event/6
	AuditRetryScheduled AuditEventType = "retry_scheduled"
	AuditRetryExhausted AuditEventType = "retry_exhausted"

	// Claim outcomes -> claim_outcome/5
	AuditClaimOutcome AuditEventType = "claim_outcome"

	// Runner invocation -> runner_event/5
	AuditRunnerInvoke  AuditEventType = "runner_invoke"
	AuditRunnerResult  AuditEventType = "runner_result"
	AuditRunnerMissing AuditEventType = "runner_missing"
	AuditRunnerTimeout AuditEventType = "runner_timeout"

	// Verdict events -> verdict_event/5
	AuditVerdictPass AuditEventType = "verdict_pass"
	AuditVerdictFail AuditEventType = "verdict_fail"
	AuditFallback    AuditEventType = "fallback_triggered"

	// Re-injection targets -> reinject_target/4
	AuditReinjectTarget AuditEventType = "reinject_target"

	// Ledger writes -> ledger_event/4
	AuditLedgerAppend AuditEventType = "ledger_append"
	AuditLedgerError  AuditEventType = "ledger_error"

	// Cross-reference scanning -> xref_event/5
	AuditXrefScan AuditEventType = "xref_scan"

	// Watch daemon -> watch_event/4
	AuditWatchTrigger AuditEventType = "watch_trigger"

	// Performance -> perf_metric/4
	AuditPerfMetric AuditEventType = "perf_metric"
	AuditPerfSlow   AuditEventType = "perf_slow"

	// Error events -> error_event/4
	AuditErrorGeneric  AuditEventType = "error_generic"
	AuditErrorCritical AuditEventType = "error_critical"
	AuditErrorRecovery AuditEventType = "error_recovery"
)

// =============================================================================
// AUDIT EVENT STRUCTURE
// =============================================================================

// AuditEvent represents a structured audit log entry that can be parsed to Mangle.
// Format: predicate(timestamp, category, ...args)
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"`      // Unix milliseconds
	EventType  AuditEventType         `json:"event"`   // Maps to Mangle predicate
	Category   string                 `json:"cat"`     // Log category
	RunID      string                 `json:"run"`     // Run correlation
	ClusterID  string                 `json:"cluster"` // Cluster ID if applicable
	Target     string                 `json:"target"`  // Target of operation
	Action     string                 `json:"action"`  // Action being performed
	Success    bool                   `json:"success"` // Operation succeeded
	DurationMs int64                  `json:"dur_ms"`  // Duration in milliseconds
	Error      string                 `json:"error"`   // Error message if failed
	Message    string                 `json:"msg"`     // Human-readable message
	Fields     map[string]interface{} `json:"fields"`  // Additional structured fields
	MangleFact string                 `json:"mangle"`  // Pre-formatted Mangle fact
}

// =============================================================================
// AUDIT LOGGER
// =============================================================================

var (
	auditFile   *os.File
	auditMu     sync.Mutex
	auditLogger *AuditLogger
)

// AuditLogger handles structured audit logging with Mangle fact generation
type AuditLogger struct {
	runID     string
	category  Category
	clusterID string
}

// InitAudit initializes the audit logging system
func InitAudit() error {
	if !IsDebugMode() {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil // Already initialized
	}

	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(logsDir, fmt.Sprintf("%s_audit.log", date))

	file, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file

	header := fmt.Sprintf("# Audit log started at %s\n# Format: Mangle-queryable structured events\n", time.Now().Format(time.RFC3339))
	auditFile.WriteString(header)

	return nil
}

// CloseAudit closes the audit log file
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns the global audit logger
func Audit() *AuditLogger {
	if auditLogger == nil {
		auditLogger = &AuditLogger{}
	}
	return auditLogger
}

// AuditWithRun creates an audit logger scoped to a verification run
func AuditWithRun(runID string) *AuditLogger {
	return &AuditLogger{runID: runID}
}

// AuditWithCluster creates an audit logger scoped to one cluster
func AuditWithCluster(runID, clusterID string) *AuditLogger {
	return &AuditLogger{runID: runID, clusterID: clusterID}
}

// =============================================================================
// AUDIT LOGGING METHODS
// =============================================================================

// Log writes an audit event
func (a *AuditLogger) Log(event AuditEvent) {
	if !IsDebugMode() || auditFile == nil {
		return
	}

	// Fill in defaults
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.RunID == "" && a.runID != "" {
		event.RunID = a.runID
	}
	if event.ClusterID == "" && a.clusterID != "" {
		event.ClusterID = a.clusterID
	}
	if event.Category == "" && a.category != "" {
		event.Category = string(a.category)
	}
	if event.Fields == nil {
		event.Fields = make(map[string]interface{})
	}

	// Generate Mangle fact
	event.MangleFact = generateMangleFact(event)

	auditMu.Lock()
	defer auditMu.Unlock()

	// Write JSON line
	data, err := json.Marshal(event)
	if err == nil {
		auditFile.WriteString(string(data) + "\n")
	}
}

// generateMangleFact creates a Mangle-compatible fact string from an event
func generateMangleFact(e AuditEvent) string {
	switch e.EventType {
	case AuditRunStart, AuditRunComplete, AuditRunStopped:
		return fmt.Sprintf("run_event(%d, /%s, \"%s\", %v, %d).",
			e.Timestamp, e.EventType, e.RunID, e.Success, e.DurationMs)

	case AuditClusterExecute, AuditClusterComplete, AuditClusterError:
		return fmt.Sprintf("cluster_event(%d, /%s, \"%s\", \"%s\", %v, %d).",
			e.Timestamp, e.EventType, e.RunID, e.ClusterID, e.Success, e.DurationMs)

	case AuditRetryScheduled, AuditRetryExhausted:
		attempt := 0
		if n, ok := e.Fields["attempt"].(int); ok {
			attempt = n
		}
		delay := int64(0)
		if d, ok := e.Fields["delay_ms"].(int64); ok {
			delay = d
		}
		return fmt.Sprintf("retry_event(%d, /%s, \"%s\", \"%s\", %d, %d).",
			e.Timestamp, e.EventType, e.ClusterID, e.Target, attempt, delay)

	case AuditClaimOutcome:
		return fmt.Sprintf("claim_outcome(%d, \"%s\", \"%s\", \"%s\", %s).",
			e.Timestamp, e.RunID, e.ClusterID, e.Target, e.Action)

	case AuditRunnerInvoke, AuditRunnerResult, AuditRunnerMissing, AuditRunnerTimeout:
		return fmt.Sprintf("runner_event(%d, /%s, \"%s\", %v, %d).",
			e.Timestamp, e.EventType, escapeString(e.Target), e.Success, e.DurationMs)

	case AuditVerdictPass, AuditVerdictFail, AuditFallback:
		violated := 0
		if v, ok := e.Fields["violated"].(int); ok {
			violated = v
		}
		targets := 0
		if t, ok := e.Fields["targets"].(int); ok {
			targets = t
		}
		return fmt.Sprintf("verdict_event(%d, /%s, \"%s\", %d, %d).",
			e.Timestamp, e.EventType, e.ClusterID, violated, targets)

	case AuditReinjectTarget:
		return fmt.Sprintf("reinject_target(%d, \"%s\", \"%s\", \"%s\").",
			e.Timestamp, e.ClusterID, e.Target, escapeString(e.Action))

	case AuditLedgerAppend, AuditLedgerError:
		return fmt.Sprintf("ledger_event(%d, /%s, \"%s\", %v).",
			e.Timestamp, e.EventType, e.Target, e.Success)

	case AuditXrefScan:
		functions := 0
		if f, ok := e.Fields["functions"].(int); ok {
			functions = f
		}
		return fmt.Sprintf("xref_event(%d, \"%s\", %d, %v, %d).",
			e.Timestamp, escapeString(e.Target), functions, e.Success, e.DurationMs)

	case AuditWatchTrigger:
		return fmt.Sprintf("watch_event(%d, \"%s\", \"%s\", %v).",
			e.Timestamp, e.ClusterID, escapeString(e.Target), e.Success)

	case AuditPerfMetric, AuditPerfSlow:
		return fmt.Sprintf("perf_metric(%d, \"%s\", \"%s\", %d).",
			e.Timestamp, e.Category, e.Action, e.DurationMs)

	case AuditErrorGeneric, AuditErrorCritical, AuditErrorRecovery:
		return fmt.Sprintf("error_event(%d, /%s, \"%s\", \"%s\").",
			e.Timestamp, e.EventType, e.Category, escapeString(e.Error))

	default:
		return fmt.Sprintf("audit_event(%d, /%s, \"%s\", \"%s\", %v).",
			e.Timestamp, e.EventType, e.Category, escapeString(e.Message), e.Success)
	}
}

func escapeString(s string) string {
	// Escape quotes and backslashes for Mangle strings
	var b strings.Builder
	b.Grow(len(s) + len(s)/10)

	for _, c := range s {
		switch c {
		case '"':
			b.WriteString("\\\"")
		case '\\':
			b.WriteString("\\\\")
		case '\n':
			b.WriteString("\\n")
		case '\r':
			b.WriteString("\\r")
		case '\t':
			b.WriteString("\\t")
		default:
			b.WriteRune(c)
		}
	}
	return b.String()
}

// =============================================================================
// CONVENIENCE METHODS FOR COMMON EVENTS
// =============================================================================

// RunStart logs the start of a multi-cluster run
func (a *AuditLogger) RunStart(runID string, clusterCount int) {
	a.Log(AuditEvent{
		EventType: AuditRunStart,
		Category:  string(CategoryOrchestrator),
		RunID:     runID,
		Success:   true,
		Fields:    map[string]interface{}{"clusters": clusterCount},
	})
}

// RunComplete logs the end of a multi-cluster run
func (a *AuditLogger) RunComplete(runID string, success bool, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  AuditRunComplete,
		Category:   string(CategoryOrchestrator),
		RunID:      runID,
		Success:    success,
		DurationMs: durationMs,
	})
}

// RunStopped logs an early stop due to the failure policy
func (a *AuditLogger) RunStopped(runID, clusterID string) {
	a.Log(AuditEvent{
		EventType: AuditRunStopped,
		Category:  string(CategoryOrchestrator),
		RunID:     runID,
		ClusterID: clusterID,
		Success:   false,
	})
}

// ClusterExecute logs the start of one cluster's execution
func (a *AuditLogger) ClusterExecute(clusterID string) {
	a.Log(AuditEvent{
		EventType: AuditClusterExecute,
		Category:  string(CategoryExecutor),
		ClusterID: clusterID,
		Success:   true,
	})
}

// ClusterComplete logs one cluster's outcome
func (a *AuditLogger) ClusterComplete(clusterID string, success bool, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  AuditClusterComplete,
		Category:   string(CategoryExecutor),
		ClusterID:  clusterID,
		Success:    success,
		DurationMs: durationMs,
	})
}

// RetryScheduled logs a backoff sleep before the next attempt
func (a *AuditLogger) RetryScheduled(clusterID, failureType string, attempt int, delayMs int64) {
	a.Log(AuditEvent{
		EventType: AuditRetryScheduled,
		Category:  string(CategoryRetry),
		ClusterID: clusterID,
		Target:    failureType,
		Success:   true,
		Fields:    map[string]interface{}{"attempt": attempt, "delay_ms": delayMs},
	})
}

// RetryExhausted logs a give-up after the retry budget is spent
func (a *AuditLogger) RetryExhausted(clusterID, failureType string, attempts int) {
	a.Log(AuditEvent{
		EventType: AuditRetryExhausted,
		Category:  string(CategoryRetry),
		ClusterID: clusterID,
		Target:    failureType,
		Success:   false,
		Fields:    map[string]interface{}{"attempt": attempts, "delay_ms": int64(0)},
	})
}

// ClaimOutcome logs one claim's final status within a cluster
func (a *AuditLogger) ClaimOutcome(clusterID, claimID, status string) {
	a.Log(AuditEvent{
		EventType: AuditClaimOutcome,
		Category:  string(CategoryMapper),
		ClusterID: clusterID,
		Target:    claimID,
		Action:    status,
		Success:   status == "/passed",
	})
}

// RunnerResult logs a test runner invocation outcome
func (a *AuditLogger) RunnerResult(pattern string, success bool, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  AuditRunnerResult,
		Category:   string(CategoryRunner),
		Target:     pattern,
		Success:    success,
		DurationMs: durationMs,
	})
}

// VerdictDecided logs a cluster verdict with its targeting counts
func (a *AuditLogger) VerdictDecided(clusterID string, pass bool, violated, targets int) {
	eventType := AuditVerdictFail
	if pass {
		eventType = AuditVerdictPass
	} else if violated > 0 && targets == 0 {
		eventType = AuditFallback
	}
	a.Log(AuditEvent{
		EventType: eventType,
		Category:  string(CategoryVerdict),
		ClusterID: clusterID,
		Success:   pass,
		Fields:    map[string]interface{}{"violated": violated, "targets": targets},
	})
}

// ReinjectTarget logs one function selected for regeneration
func (a *AuditLogger) ReinjectTarget(clusterID, functionName, filePath string) {
	a.Log(AuditEvent{
		EventType: AuditReinjectTarget,
		Category:  string(CategoryVerdict),
		ClusterID: clusterID,
		Target:    functionName,
		Action:    filePath,
		Success:   true,
	})
}

// LedgerAppend logs an audit-ledger write attempt
func (a *AuditLogger) LedgerAppend(claimID string, success bool, errMsg string) {
	eventType := AuditLedgerAppend
	if !success {
		eventType = AuditLedgerError
	}
	a.Log(AuditEvent{
		EventType: eventType,
		Category:  string(CategoryLedger),
		Target:    claimID,
		Success:   success,
		Error:     errMsg,
	})
}

// XrefScan logs a cross-reference scan result
func (a *AuditLogger) XrefScan(root string, functions int, success bool, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  AuditXrefScan,
		Category:   string(CategoryXref),
		Target:     root,
		Success:    success,
		DurationMs: durationMs,
		Fields:     map[string]interface{}{"functions": functions},
	})
}

// WatchTrigger logs a watch-daemon re-verification trigger
func (a *AuditLogger) WatchTrigger(clusterID, path string) {
	a.Log(AuditEvent{
		EventType: AuditWatchTrigger,
		Category:  string(CategoryWatch),
		ClusterID: clusterID,
		Target:    path,
		Success:   true,
	})
}

// PerfMetric logs a performance measurement
func (a *AuditLogger) PerfMetric(category Category, operation string, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  AuditPerfMetric,
		Category:   string(category),
		Action:     operation,
		Success:    true,
		DurationMs: durationMs,
	})
}

// ErrorEvent logs a generic error event
func (a *AuditLogger) ErrorEvent(category Category, err error) {
	if err == nil {
		return
	}
	a.Log(AuditEvent{
		EventType: AuditErrorGeneric,
		Category:  string(category),
		Success:   false,
		Error:     err.Error(),
	})
}
