// Package verify implements the verification core: mapping executed tests
// back to spec claims, running clusters through the test runner with typed
// failure classification and bounded retries, and deriving verdicts with
// function-level re-injection targets.
//
// The execution path is strictly sequential. No two clusters, and no two
// attempts of one cluster, ever run concurrently; collaborators may
// parallelize internally but present synchronous interfaces here.
package verify

import (
	"errors"
	"fmt"

	"crucible/internal/xref"
)

// ErrMaxRetriesExceeded marks retry budget exhaustion in logs and audit
// events. Exhaustion itself is not an error return; the controller folds it
// into per-claim /error results.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// ===== CLAIM OUTCOMES =====

// ClaimStatus is the per-claim outcome atom. The leading slash keeps the
// values usable as Mangle name constants in audit facts.
type ClaimStatus string

const (
	ClaimPassed  ClaimStatus = "/passed"
	ClaimFailed  ClaimStatus = "/failed"
	ClaimSkipped ClaimStatus = "/skipped"
	ClaimErrored ClaimStatus = "/error"
)

// ClaimResult is the outcome of one claim for one execution attempt.
// Results are created fresh per attempt and never mutated; a retried
// attempt discards the previous attempt's results entirely.
//
// TestCount counts every matched test. PassedCount and FailedCount only
// count tests that resolved to those terminal statuses, so TestCount may
// exceed their sum when matched tests were individually skipped.
type ClaimResult struct {
	ClaimID     string      `json:"claim_id"`
	Status      ClaimStatus `json:"status"`
	TestCount   int         `json:"test_count"`
	PassedCount int         `json:"passed_count"`
	FailedCount int         `json:"failed_count"`
	FailedTests []string    `json:"failed_tests,omitempty"`
	DurationMs  int64       `json:"duration_ms"`
	Error       string      `json:"error,omitempty"`
}

// ClusterExecutionResult is the outcome of executing one cluster.
//
// Success is true iff at least one claim result exists and none of them is
// /failed. Claims that errored do not flip Success on the normal path;
// exceptional paths (infrastructure failure, panic) set Success false
// explicitly when they synthesize results.
type ClusterExecutionResult struct {
	ClusterID    string        `json:"cluster_id"`
	ClusterName  string        `json:"cluster_name"`
	Success      bool          `json:"success"`
	ClaimResults []ClaimResult `json:"claim_results"`
	TotalTests   int           `json:"total_tests"`
	TotalPassed  int           `json:"total_passed"`
	TotalFailed  int           `json:"total_failed"`
	DurationMs   int64         `json:"duration_ms"`
}

// ClusterExecutionSummary aggregates a whole run. Clusters holds one entry
// per attempted cluster in input order; a run stopped early by failure has
// fewer entries than the input set.
type ClusterExecutionSummary struct {
	RunID           string                    `json:"run_id"`
	Clusters        []*ClusterExecutionResult `json:"clusters"`
	Success         bool                      `json:"success"`
	ClaimsPassed    int                       `json:"claims_passed"`
	ClaimsFailed    int                       `json:"claims_failed"`
	ClaimsSkipped   int                       `json:"claims_skipped"`
	ClaimsErrored   int                       `json:"claims_errored"`
	TotalDurationMs int64                     `json:"total_duration_ms"`
}

// ===== INFRASTRUCTURE FAILURES =====

// FailureType buckets infrastructure failures for retry policy and audit.
type FailureType string

const (
	FailureRunnerNotFound FailureType = "/runner_not_found"
	FailureRunnerCrash    FailureType = "/runner_crash"
	FailureTimeout        FailureType = "/timeout"
	FailureUnknown        FailureType = "/unknown"
)

// InfrastructureFailure describes a failure of the test-execution mechanism
// itself, as opposed to a failing test. Attempts records how many attempts
// were consumed when the failure was last classified.
type InfrastructureFailure struct {
	Type      FailureType `json:"type"`
	Message   string      `json:"message"`
	Stack     string      `json:"stack,omitempty"`
	Retryable bool        `json:"retryable"`
	Attempts  int         `json:"attempts"`
}

// ExecutionFailedError is the typed error the executor returns for
// structural failures. The retry controller inspects Failure to decide
// policy; Err preserves the underlying runner error chain for errors.Is
// and errors.As.
type ExecutionFailedError struct {
	Failure InfrastructureFailure
	Err     error
}

func (e *ExecutionFailedError) Error() string {
	return fmt.Sprintf("cluster execution failed (%s): %s", e.Failure.Type, e.Failure.Message)
}

func (e *ExecutionFailedError) Unwrap() error { return e.Err }

// ===== VERDICTS =====

// ClusterVerdict is the pass/fail determination for a cluster plus the
// remediation plan derived from claim cross-references.
type ClusterVerdict struct {
	Pass                bool                 `json:"pass"`
	ViolatedClaims      []string             `json:"violated_claims"`
	FunctionsToReinject []FunctionToReinject `json:"functions_to_reinject"`
	FallbackTriggered   bool                 `json:"fallback_triggered"`
}

// FunctionToReinject names one function implicated by violated claims.
// ViolatedClaims is the subset of the function's refs that failed;
// AllClaimRefs is every claim the function references, which callers use
// to bound the blast radius of regenerating it.
type FunctionToReinject struct {
	FunctionName   string   `json:"function_name"`
	FilePath       string   `json:"file_path"`
	ViolatedClaims []string `json:"violated_claims"`
	AllClaimRefs   []string `json:"all_claim_refs"`
}

// FunctionClaimMapping maps function names to their claim refs as produced
// by the cross-reference scanner. Built once per verdict evaluation.
type FunctionClaimMapping = map[string]xref.FunctionClaims

// ===== RUN OPTIONS =====

// ProgressFunc receives per-claim progress lines during orchestration.
// Optional; never required for correctness.
type ProgressFunc func(format string, args ...interface{})

// ExecOptions carries the per-run knobs. The zero value is usable: default
// timeout and retry budget apply, the pattern falls back to catch-all, and
// progress goes to the categorized logger.
type ExecOptions struct {
	// Pattern overrides test selection entirely when non-empty.
	Pattern string
	// WorkingDir is handed to the runner unchanged.
	WorkingDir string
	// TimeoutMs bounds a single runner invocation. Defaults to
	// runner.DefaultTimeoutMs.
	TimeoutMs int64
	// MaxRetries bounds attempts per cluster for retryable structural
	// failures. Defaults to DefaultMaxRetries.
	MaxRetries int
	// ContinueOnFailure keeps the orchestrator going past a failed cluster.
	ContinueOnFailure bool
	// ClaimPatternFn derives a test pattern from the cluster's claim IDs
	// when Pattern is empty. Returning "" falls back to catch-all.
	ClaimPatternFn func(claimIDs []string) string
	// Progress receives per-claim progress lines.
	Progress ProgressFunc
}
