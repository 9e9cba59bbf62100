package verify

import (
	"context"
	"errors"
	"time"

	"crucible/internal/cluster"
	"crucible/internal/logging"
)

// Retry tuning defaults. Delay for attempt n is
// min(DefaultMaxDelayMs, DefaultBaseDelayMs * 2^(n-1)) plus uniform jitter
// of up to DefaultJitterFraction of the clamped term.
const (
	DefaultMaxRetries     = 3
	DefaultBaseDelayMs    = 1000
	DefaultMaxDelayMs     = 30000
	DefaultJitterFraction = 0.2
)

// ExecuteClusterWithRetry runs a cluster with bounded retries for retryable
// structural failures.
//
// Attempts are numbered from 1 to MaxRetries. A successful attempt returns
// immediately. A retryable structural failure sleeps the backoff delay and
// tries again; a non-retryable failure or an exhausted budget folds the
// failure into per-claim /error results with a zero duration and a nil
// error. Non-structural errors pass through unchanged without sleeping;
// retry policy applies only to typed, classified failures.
func (e *Executor) ExecuteClusterWithRetry(ctx context.Context, cl *cluster.ClusterDefinition, opts ExecOptions) (*ClusterExecutionResult, error) {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	run := e.runOnce
	if run == nil {
		run = e.ExecuteCluster
	}

	var lastFailure InfrastructureFailure
	for attempt := 1; attempt <= maxRetries; attempt++ {
		result, err := run(ctx, cl, opts)
		if err == nil {
			return result, nil
		}

		var execErr *ExecutionFailedError
		if !errors.As(err, &execErr) {
			return result, err
		}

		execErr.Failure.Attempts = attempt
		lastFailure = execErr.Failure

		if !execErr.Failure.Retryable {
			logging.RetryWarn("Cluster %s: non-retryable %s failure on attempt %d: %s",
				cl.ID, execErr.Failure.Type, attempt, execErr.Failure.Message)
			break
		}
		if attempt == maxRetries {
			logging.RetryWarn("Cluster %s: %v (%d attempts, last failure %s)",
				cl.ID, ErrMaxRetriesExceeded, attempt, execErr.Failure.Type)
			logging.Audit().RetryExhausted(cl.ID, string(execErr.Failure.Type), attempt)
			break
		}

		delay := e.backoffDelay(attempt)
		logging.Retry("Cluster %s: attempt %d/%d failed (%s), retrying in %v",
			cl.ID, attempt, maxRetries, execErr.Failure.Type, delay)
		logging.Audit().RetryScheduled(cl.ID, string(execErr.Failure.Type), attempt, delay.Milliseconds())
		if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
			// Cancellation surfaces on the next attempt as a normal runner
			// error and follows the executor's classification.
			logging.RetryWarn("Cluster %s: backoff interrupted: %v", cl.ID, sleepErr)
		}
	}

	// The failed attempt's timing is not meaningfully attributable, so the
	// synthesized result carries a zero duration.
	res := errorResult(cl, "Infrastructure failure: "+lastFailure.Message, 0)
	return res, nil
}

// backoffDelay computes the delay after a failed attempt: exponential from
// the base, clamped at the cap, plus uniform jitter in [0, jitterFrac) of
// the clamped term.
func (e *Executor) backoffDelay(attempt int) time.Duration {
	base := e.baseDelayMs
	if base <= 0 {
		base = DefaultBaseDelayMs
	}
	ceiling := e.maxDelayMs
	if ceiling <= 0 {
		ceiling = DefaultMaxDelayMs
	}
	frac := e.jitterFrac
	if frac < 0 || frac > 1 {
		frac = DefaultJitterFraction
	}

	shift := attempt - 1
	if shift < 0 {
		shift = 0
	}
	if shift > 20 {
		shift = 20
	}
	ms := base << uint(shift)
	if ms > ceiling || ms <= 0 {
		ms = ceiling
	}

	var jitter int64
	if e.rnd != nil {
		jitter = int64(e.rnd() * frac * float64(ms))
	}
	return time.Duration(ms+jitter) * time.Millisecond
}
