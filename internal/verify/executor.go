package verify

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"crucible/internal/cluster"
	"crucible/internal/config"
	"crucible/internal/logging"
	"crucible/internal/runner"
)

// Executor runs clusters through a test runner. It owns no cross-run state;
// the caller constructs one with the runner (and optionally retry tuning)
// and passes it down.
type Executor struct {
	runner runner.Runner

	// Retry tuning. Zero values fall back to the package defaults.
	baseDelayMs int64
	maxDelayMs  int64
	jitterFrac  float64

	// Seams for deterministic tests.
	sleep   func(ctx context.Context, d time.Duration) error
	rnd     func() float64
	runOnce func(ctx context.Context, cl *cluster.ClusterDefinition, opts ExecOptions) (*ClusterExecutionResult, error)
}

// NewExecutor creates an executor with default retry tuning.
func NewExecutor(r runner.Runner) *Executor {
	e := &Executor{
		runner:      r,
		baseDelayMs: DefaultBaseDelayMs,
		maxDelayMs:  DefaultMaxDelayMs,
		jitterFrac:  DefaultJitterFraction,
		sleep:       sleepContext,
		rnd:         rand.Float64,
	}
	e.runOnce = e.ExecuteCluster
	return e
}

// NewExecutorFromConfig wires retry tuning from the loaded config. Invalid
// values keep the defaults rather than erroring; config.Validate is the
// place that rejects them.
func NewExecutorFromConfig(r runner.Runner, rc config.RetryConfig) *Executor {
	e := NewExecutor(r)
	if rc.BaseDelayMs > 0 {
		e.baseDelayMs = rc.BaseDelayMs
	}
	if rc.MaxDelayMs >= e.baseDelayMs {
		e.maxDelayMs = rc.MaxDelayMs
	}
	if rc.JitterFraction >= 0 && rc.JitterFraction <= 1 {
		e.jitterFrac = rc.JitterFraction
	}
	return e
}

// ExecuteCluster runs one cluster once and maps the outcome to claims.
//
// Error contract:
//   - runner unavailable or timed out: (nil, *ExecutionFailedError) with the
//     failure typed and its retryability set; no claim results exist.
//   - any other runner error: the run produced no usable signal, so every
//     claim is marked /error and the caller gets (result, nil).
//   - otherwise: (result, nil) with Success computed from the mapped claim
//     results, not from the runner's raw failed-test count.
func (e *Executor) ExecuteCluster(ctx context.Context, cl *cluster.ClusterDefinition, opts ExecOptions) (*ClusterExecutionResult, error) {
	pattern := selectPattern(cl, opts)
	timeoutMs := opts.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = runner.DefaultTimeoutMs
	}

	logging.Executor("Cluster %s: executing pattern %q (timeout=%dms, workdir=%q)", cl.ID, pattern, timeoutMs, opts.WorkingDir)
	logging.Audit().ClusterExecute(cl.ID)

	start := time.Now()
	raw, err := e.runner.Run(ctx, pattern, runner.Options{
		WorkingDir: opts.WorkingDir,
		TimeoutMs:  timeoutMs,
	})
	elapsedMs := time.Since(start).Milliseconds()

	if err != nil {
		var unavailable *runner.UnavailableError
		if errors.As(err, &unavailable) {
			logging.ExecutorError("Cluster %s: runner unavailable: %v", cl.ID, err)
			return nil, &ExecutionFailedError{
				Failure: InfrastructureFailure{
					Type:      FailureRunnerNotFound,
					Message:   unavailable.Error(),
					Retryable: false,
				},
				Err: err,
			}
		}
		var timeout *runner.TimeoutError
		if errors.As(err, &timeout) {
			logging.ExecutorWarn("Cluster %s: runner timed out: %v", cl.ID, err)
			return nil, &ExecutionFailedError{
				Failure: InfrastructureFailure{
					Type:      FailureTimeout,
					Message:   timeout.Error(),
					Retryable: true,
				},
				Err: err,
			}
		}

		// Not structural. The run produced no usable signal (build failure,
		// cancelled context), so the error is attributed to every claim.
		logging.ExecutorWarn("Cluster %s: runner error attributed to all %d claims: %v", cl.ID, len(cl.ClaimIDs), err)
		return errorResult(cl, err.Error(), elapsedMs), nil
	}

	claimResults := MapClaimResults(raw, cl.ClaimIDs)
	failedClaims := 0
	for _, cr := range claimResults {
		if cr.Status == ClaimFailed {
			failedClaims++
		}
	}

	res := &ClusterExecutionResult{
		ClusterID:    cl.ID,
		ClusterName:  cl.Name,
		Success:      len(claimResults) > 0 && failedClaims == 0,
		ClaimResults: claimResults,
		TotalTests:   raw.TotalTests,
		TotalPassed:  raw.TotalPassed,
		TotalFailed:  raw.TotalFailed,
		DurationMs:   elapsedMs,
	}

	logging.Executor("Cluster %s: %d claims mapped (%d failed), %d/%d tests passed, success=%v",
		cl.ID, len(claimResults), failedClaims, raw.TotalPassed, raw.TotalTests, res.Success)
	logging.Audit().ClusterComplete(cl.ID, res.Success, elapsedMs)
	return res, nil
}

// selectPattern picks the test pattern for a cluster. Priority: explicit
// Pattern, then ClaimPatternFn over the cluster's claim IDs, then catch-all
// (empty pattern runs everything).
func selectPattern(cl *cluster.ClusterDefinition, opts ExecOptions) string {
	if opts.Pattern != "" {
		return opts.Pattern
	}
	if opts.ClaimPatternFn != nil {
		if p := opts.ClaimPatternFn(cl.ClaimIDs); p != "" {
			return p
		}
	}
	return ""
}

// errorResult synthesizes a failed result attributing message to every
// claim in the cluster.
func errorResult(cl *cluster.ClusterDefinition, message string, durationMs int64) *ClusterExecutionResult {
	claims := make([]ClaimResult, 0, len(cl.ClaimIDs))
	for _, id := range cl.ClaimIDs {
		claims = append(claims, ClaimResult{
			ClaimID: id,
			Status:  ClaimErrored,
			Error:   message,
		})
	}
	return &ClusterExecutionResult{
		ClusterID:    cl.ID,
		ClusterName:  cl.Name,
		Success:      false,
		ClaimResults: claims,
		DurationMs:   durationMs,
	}
}

// sleepContext sleeps for d or until ctx is done, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
