package verify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"crucible/internal/cluster"
	"crucible/internal/config"
	"crucible/internal/runner"
)

func TestExecuteClusterWithRetry_NonRetryableRunsOnce(t *testing.T) {
	fake := &fakeRunner{steps: []runStep{{err: &runner.UnavailableError{Binary: "go", Err: errors.New("not in PATH")}}}}
	e, delays := newTestExecutor(fake)

	res, err := e.ExecuteClusterWithRetry(context.Background(), payCluster(), ExecOptions{MaxRetries: 3})
	if err != nil {
		t.Fatalf("exhausted structural failure must not return an error, got %v", err)
	}
	if fake.calls != 1 {
		t.Errorf("runner invoked %d times, want exactly 1 for non-retryable failure", fake.calls)
	}
	if len(*delays) != 0 {
		t.Errorf("slept %d times, want 0", len(*delays))
	}
	if res.Success {
		t.Error("Success = true, want false")
	}
	if res.DurationMs != 0 {
		t.Errorf("DurationMs = %d, want 0 for synthesized failure result", res.DurationMs)
	}
	if len(res.ClaimResults) != 2 {
		t.Fatalf("got %d claim results, want one per claim", len(res.ClaimResults))
	}
	for _, cr := range res.ClaimResults {
		if cr.Status != ClaimErrored {
			t.Errorf("claim %s status = %s, want %s", cr.ClaimID, cr.Status, ClaimErrored)
		}
		if !strings.HasPrefix(cr.Error, "Infrastructure failure: ") {
			t.Errorf("claim %s error = %q, want Infrastructure failure prefix", cr.ClaimID, cr.Error)
		}
	}
}

func TestExecuteClusterWithRetry_RetryableExhaustsBudget(t *testing.T) {
	fake := &fakeRunner{steps: []runStep{{err: &runner.TimeoutError{Pattern: "PAY", ElapsedMs: 100, Err: context.DeadlineExceeded}}}}
	e, delays := newTestExecutor(fake)

	res, err := e.ExecuteClusterWithRetry(context.Background(), payCluster(), ExecOptions{MaxRetries: 3})
	if err != nil {
		t.Fatalf("exhausted structural failure must not return an error, got %v", err)
	}
	if fake.calls != 3 {
		t.Errorf("runner invoked %d times, want 3", fake.calls)
	}
	if len(*delays) != 2 {
		t.Fatalf("slept %d times, want 2 (no sleep after the final attempt)", len(*delays))
	}
	if (*delays)[0] != 1000*time.Millisecond || (*delays)[1] != 2000*time.Millisecond {
		t.Errorf("delays = %v, want [1s 2s] with zero jitter", *delays)
	}
	if (*delays)[1] < (*delays)[0] {
		t.Errorf("delays decreased: %v", *delays)
	}
	if res.DurationMs != 0 {
		t.Errorf("DurationMs = %d, want 0", res.DurationMs)
	}
	for _, cr := range res.ClaimResults {
		if !strings.HasPrefix(cr.Error, "Infrastructure failure: ") {
			t.Errorf("claim %s error = %q, want Infrastructure failure prefix", cr.ClaimID, cr.Error)
		}
	}
}

func TestExecuteClusterWithRetry_SuccessAfterRetry(t *testing.T) {
	fake := &fakeRunner{steps: []runStep{
		{err: &runner.TimeoutError{Pattern: "PAY", ElapsedMs: 100, Err: context.DeadlineExceeded}},
		{raw: rawWith(
			passing("p.TestRefunds/PAY_001", 5),
			passing("p.TestLedger/PAY_002", 5),
		)},
	}}
	e, delays := newTestExecutor(fake)

	res, err := e.ExecuteClusterWithRetry(context.Background(), payCluster(), ExecOptions{})
	if err != nil {
		t.Fatalf("ExecuteClusterWithRetry: %v", err)
	}
	if fake.calls != 2 {
		t.Errorf("runner invoked %d times, want 2", fake.calls)
	}
	if len(*delays) != 1 {
		t.Errorf("slept %d times, want 1", len(*delays))
	}
	if !res.Success {
		t.Error("Success = false after recovered retry, want true")
	}
}

func TestExecuteClusterWithRetry_DefaultBudget(t *testing.T) {
	fake := &fakeRunner{steps: []runStep{{err: &runner.TimeoutError{Pattern: "PAY", ElapsedMs: 1, Err: context.DeadlineExceeded}}}}
	e, _ := newTestExecutor(fake)

	if _, err := e.ExecuteClusterWithRetry(context.Background(), payCluster(), ExecOptions{}); err != nil {
		t.Fatalf("ExecuteClusterWithRetry: %v", err)
	}
	if fake.calls != DefaultMaxRetries {
		t.Errorf("runner invoked %d times, want default budget %d", fake.calls, DefaultMaxRetries)
	}
}

func TestExecuteClusterWithRetry_NonStructuralPassThrough(t *testing.T) {
	fake := &fakeRunner{}
	e, delays := newTestExecutor(fake)

	wantErr := errors.New("collaborator broke the contract")
	e.runOnce = func(context.Context, *cluster.ClusterDefinition, ExecOptions) (*ClusterExecutionResult, error) {
		return nil, wantErr
	}

	res, err := e.ExecuteClusterWithRetry(context.Background(), payCluster(), ExecOptions{MaxRetries: 3})
	if err != wantErr {
		t.Errorf("err = %v, want the identical error value passed through", err)
	}
	if res != nil {
		t.Errorf("result = %+v, want nil", res)
	}
	if len(*delays) != 0 {
		t.Errorf("slept %d times, want 0 for non-structural errors", len(*delays))
	}
}

func TestExecuteClusterWithRetry_AttemptsRecorded(t *testing.T) {
	e, _ := newTestExecutor(&fakeRunner{})
	failure := &ExecutionFailedError{Failure: InfrastructureFailure{Type: FailureTimeout, Message: "deadline", Retryable: true}}
	e.runOnce = func(context.Context, *cluster.ClusterDefinition, ExecOptions) (*ClusterExecutionResult, error) {
		return nil, failure
	}

	if _, err := e.ExecuteClusterWithRetry(context.Background(), payCluster(), ExecOptions{MaxRetries: 3}); err != nil {
		t.Fatalf("ExecuteClusterWithRetry: %v", err)
	}
	if failure.Failure.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3 after exhaustion", failure.Failure.Attempts)
	}

	failure.Failure = InfrastructureFailure{Type: FailureRunnerNotFound, Message: "gone", Retryable: false}
	if _, err := e.ExecuteClusterWithRetry(context.Background(), payCluster(), ExecOptions{MaxRetries: 3}); err != nil {
		t.Fatalf("ExecuteClusterWithRetry: %v", err)
	}
	if failure.Failure.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1 for non-retryable failure", failure.Failure.Attempts)
	}
}

func TestBackoffDelay_ExponentialWithClamp(t *testing.T) {
	e, _ := newTestExecutor(&fakeRunner{})

	wants := map[int]time.Duration{
		1:  1 * time.Second,
		2:  2 * time.Second,
		3:  4 * time.Second,
		4:  8 * time.Second,
		5:  16 * time.Second,
		6:  30 * time.Second,
		7:  30 * time.Second,
		40: 30 * time.Second,
	}
	for attempt, want := range wants {
		if got := e.backoffDelay(attempt); got != want {
			t.Errorf("backoffDelay(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestBackoffDelay_JitterBounded(t *testing.T) {
	e, _ := newTestExecutor(&fakeRunner{})
	e.rnd = func() float64 { return 0.999 }

	got := e.backoffDelay(1)
	if got < 1000*time.Millisecond || got >= 1200*time.Millisecond {
		t.Errorf("backoffDelay(1) = %v, want within [1s, 1.2s)", got)
	}

	got = e.backoffDelay(6)
	if got < 30*time.Second || got >= 36*time.Second {
		t.Errorf("backoffDelay(6) = %v, want within [30s, 36s)", got)
	}
}

func TestNewExecutorFromConfig_RetryTuning(t *testing.T) {
	e := NewExecutorFromConfig(&fakeRunner{}, config.RetryConfig{
		BaseDelayMs:    500,
		MaxDelayMs:     2000,
		JitterFraction: 0,
	})
	e.rnd = func() float64 { return 0.999 } // fraction 0 must still yield no jitter

	wants := map[int]time.Duration{
		1: 500 * time.Millisecond,
		2: 1 * time.Second,
		3: 2 * time.Second,
		4: 2 * time.Second,
	}
	for attempt, want := range wants {
		if got := e.backoffDelay(attempt); got != want {
			t.Errorf("backoffDelay(%d) = %v, want %v", attempt, got, want)
		}
	}
}
