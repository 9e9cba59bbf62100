// Package runner invokes the project's test binary and normalizes its
// machine-readable output into a flat list of executed tests.
//
// The verify pipeline only depends on the Runner interface; GoTestRunner
// is the default implementation, shelling out to `go test -json`. Failure
// modes the caller can act on are typed: *UnavailableError when the test
// binary is missing, *TimeoutError when a run exceeds its deadline. Every
// other failure is an ordinary error carrying whatever output the run
// produced.
package runner

import "context"

// Options are the per-invocation knobs for a test run.
type Options struct {
	// WorkingDir is where the test command executes. Empty means the
	// current directory.
	WorkingDir string

	// TimeoutMs bounds the whole run. Zero means DefaultTimeoutMs.
	TimeoutMs int64

	// Packages lists go package patterns to test. Empty means ./...
	Packages []string
}

// DefaultTimeoutMs bounds a test run when no timeout is configured.
const DefaultTimeoutMs = 300000

// Runner executes tests matching a pattern and returns normalized results.
type Runner interface {
	Run(ctx context.Context, pattern string, opts Options) (*RawResult, error)
}
