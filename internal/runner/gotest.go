package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"crucible/internal/config"
	"crucible/internal/logging"
)

// GoTestRunner shells out to `go test -json` and parses the event stream.
type GoTestRunner struct {
	// Binary is the test tool to invoke, normally "go".
	Binary string

	// EnvVars are appended to the inherited environment for each run.
	EnvVars map[string]string

	// ExtraFlags are appended to every go test invocation.
	ExtraFlags []string
}

// NewGoTestRunner builds a runner from config.
func NewGoTestRunner(cfg config.RunnerConfig) *GoTestRunner {
	binary := cfg.Binary
	if binary == "" {
		binary = "go"
	}
	return &GoTestRunner{
		Binary:     binary,
		EnvVars:    cfg.EnvVars,
		ExtraFlags: cfg.ExtraFlags,
	}
}

// Run executes `go test -json` for the pattern and returns normalized results.
//
// Error contract:
//   - missing binary          -> *UnavailableError
//   - deadline exceeded       -> *TimeoutError
//   - exit!=0 with no events  -> plain error (build failure text)
//   - exit!=0 with events     -> normal RawResult; failing tests are data
func (g *GoTestRunner) Run(ctx context.Context, pattern string, opts Options) (*RawResult, error) {
	binary := g.Binary
	if binary == "" {
		binary = "go"
	}

	if _, err := exec.LookPath(binary); err != nil {
		logging.RunnerError("Binary %q not found: %v", binary, err)
		return nil, &UnavailableError{Binary: binary, Err: err}
	}

	timeoutMs := opts.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = DefaultTimeoutMs
	}
	timeout := time.Duration(timeoutMs) * time.Millisecond

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := g.buildArgs(pattern, timeoutMs, opts.Packages)
	logging.Runner("Invoking %s %s (dir=%s)", binary, strings.Join(args, " "), opts.WorkingDir)

	cmd := exec.CommandContext(runCtx, binary, args...)
	cmd.Dir = opts.WorkingDir
	if len(g.EnvVars) > 0 {
		cmd.Env = mergeEnv(os.Environ(), g.EnvVars)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, &UnavailableError{Binary: binary, Err: err}
		}
		return nil, fmt.Errorf("starting %s test: %w", binary, err)
	}

	raw, parseErr := ParseStream(stdout)
	waitErr := cmd.Wait()
	elapsed := time.Since(start)

	// Deadline beats every other classification: a killed process also
	// produces a broken pipe / exit error, which must not mask the timeout.
	if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		logging.RunnerWarn("Run timed out after %s (pattern %q)", elapsed, pattern)
		return nil, &TimeoutError{
			Pattern:   pattern,
			ElapsedMs: elapsed.Milliseconds(),
			Err:       context.DeadlineExceeded,
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if parseErr != nil {
		return nil, parseErr
	}

	if waitErr != nil && len(raw.Tests) == 0 {
		// Nothing usable came back. Surface whatever diagnostics exist.
		msg := strings.TrimSpace(stderr.String())
		if len(raw.BuildErrors) > 0 {
			msg = strings.Join(raw.BuildErrors, "; ")
		}
		if msg == "" {
			msg = waitErr.Error()
		}
		logging.RunnerError("Run produced no test events: %s", msg)
		return nil, fmt.Errorf("go test failed: %s", msg)
	}

	logging.Runner("Run complete: %d tests (%d passed, %d failed, %d skipped) in %s",
		raw.TotalTests, raw.TotalPassed, raw.TotalFailed, raw.TotalSkipped, elapsed)
	if raw.Malformed > 0 {
		logging.RunnerWarn("Skipped %d malformed output lines", raw.Malformed)
	}
	logging.Audit().RunnerResult(pattern, raw.TotalFailed == 0, elapsed.Milliseconds())

	return raw, nil
}

// buildArgs assembles the go test argument list.
func (g *GoTestRunner) buildArgs(pattern string, timeoutMs int64, packages []string) []string {
	args := []string{"test", "-json", "-timeout", fmt.Sprintf("%dms", timeoutMs)}
	if pattern != "" {
		args = append(args, "-run", pattern)
	}
	args = append(args, g.ExtraFlags...)
	if len(packages) == 0 {
		packages = []string{"./..."}
	}
	args = append(args, packages...)
	return args
}

// mergeEnv appends overrides to a base environment in sorted key order.
func mergeEnv(base []string, overrides map[string]string) []string {
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	merged := append([]string(nil), base...)
	for _, k := range keys {
		merged = append(merged, k+"="+overrides[k])
	}
	return merged
}
