package runner

import "time"

// TestStatus is the final status of one executed test.
type TestStatus string

const (
	TestPassed  TestStatus = "/passed"
	TestFailed  TestStatus = "/failed"
	TestSkipped TestStatus = "/skipped"
)

// TestEvent represents a single event from go test -json output.
type TestEvent struct {
	Time    time.Time `json:"Time"`
	Action  string    `json:"Action"` // start, run, pass, fail, skip, output, bench, pause, cont
	Package string    `json:"Package"`
	Test    string    `json:"Test"`
	Elapsed float64   `json:"Elapsed"`
	Output  string    `json:"Output"`
}

// Event actions emitted by go test -json.
const (
	ActionStart  = "start"
	ActionRun    = "run"
	ActionPass   = "pass"
	ActionFail   = "fail"
	ActionSkip   = "skip"
	ActionOutput = "output"
)

// TestExecution is one executed test with its resolved status.
// Sub-tests are separate entries with their parent path in the name.
type TestExecution struct {
	// FullName qualifies the test as "<package>.<TestName>".
	FullName string `json:"full_name"`

	Package string `json:"package"`
	Test    string `json:"test"`

	Status     TestStatus `json:"status"`
	DurationMs int64      `json:"duration_ms"`

	// Output holds the test's buffered output lines; populated for
	// failures, nil otherwise.
	Output []string `json:"output,omitempty"`
}

// RawResult is one whole test run, normalized.
type RawResult struct {
	// Tests in encounter order. Tests that never reached a terminal
	// action (binary died mid-run) are not listed.
	Tests []TestExecution `json:"tests"`

	TotalTests   int `json:"total_tests"`
	TotalPassed  int `json:"total_passed"`
	TotalFailed  int `json:"total_failed"`
	TotalSkipped int `json:"total_skipped"`

	// Packages is the number of packages that reported test activity.
	Packages int `json:"packages"`

	// BuildErrors holds compile failure output per broken package.
	BuildErrors []string `json:"build_errors,omitempty"`

	// Panicked is set when any output line looks like a runtime panic.
	Panicked    bool     `json:"panicked,omitempty"`
	PanicOutput []string `json:"panic_output,omitempty"`

	// Coverage is the highest per-package statement coverage seen,
	// zero when tests ran without -cover.
	Coverage float64 `json:"coverage,omitempty"`

	// Malformed counts NDJSON lines that failed to parse.
	Malformed int `json:"malformed,omitempty"`
}
