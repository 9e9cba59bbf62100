package runner

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// ParseStream parses go test -json NDJSON from a reader, line by line.
// Malformed lines are counted, not fatal; a read error is.
func ParseStream(r io.Reader) (*RawResult, error) {
	agg := newAggregator()
	scanner := bufio.NewScanner(r)
	// Allow large lines for verbose test output
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event TestEvent
		if err := json.Unmarshal(line, &event); err != nil {
			agg.malformed++
			continue
		}
		agg.processEvent(event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning test output: %w", err)
	}
	return agg.result(), nil
}

// ParseBytes is a convenience for parsing from a byte slice.
func ParseBytes(data []byte) (*RawResult, error) {
	return ParseStream(strings.NewReader(string(data)))
}

type aggregator struct {
	tests     map[string]*testState // keyed by package + "." + test
	order     []string
	pkgs      map[string]*pkgState
	pkgOrder  []string
	malformed int
	panicked  bool
	panicOut  []string
	coverage  float64
}

type testState struct {
	pkg      string
	name     string
	status   TestStatus
	terminal bool
	elapsed  float64
	output   []string
}

type pkgState struct {
	tested     bool // saw at least one per-test terminal action
	outputBuf  []string
	buildError string
}

func newAggregator() *aggregator {
	return &aggregator{
		tests: make(map[string]*testState),
		pkgs:  make(map[string]*pkgState),
	}
}

func (a *aggregator) getTest(pkg, name string) *testState {
	key := pkg + "." + name
	if ts, ok := a.tests[key]; ok {
		return ts
	}
	ts := &testState{pkg: pkg, name: name}
	a.tests[key] = ts
	a.order = append(a.order, key)
	return ts
}

func (a *aggregator) getPkg(name string) *pkgState {
	if ps, ok := a.pkgs[name]; ok {
		return ps
	}
	ps := &pkgState{}
	a.pkgs[name] = ps
	a.pkgOrder = append(a.pkgOrder, name)
	return ps
}

func (a *aggregator) processEvent(e TestEvent) {
	pkg := a.getPkg(e.Package)

	switch e.Action {
	case ActionPass, ActionFail, ActionSkip:
		if e.Test == "" {
			// Package-level terminal event. A failing package that ran
			// no tests is a build failure; its buffered output is the
			// compiler diagnostics.
			if e.Action == ActionFail && !pkg.tested {
				pkg.buildError = strings.Join(pkg.outputBuf, "\n")
			}
			return
		}
		ts := a.getTest(e.Package, e.Test)
		ts.terminal = true
		ts.elapsed = e.Elapsed
		pkg.tested = true
		switch e.Action {
		case ActionPass:
			ts.status = TestPassed
		case ActionFail:
			ts.status = TestFailed
		case ActionSkip:
			ts.status = TestSkipped
		}

	case ActionRun:
		if e.Test != "" {
			a.getTest(e.Package, e.Test)
		}

	case ActionOutput:
		output := strings.TrimRight(e.Output, "\n")
		if output == "" {
			return
		}
		if e.Test != "" {
			ts := a.getTest(e.Package, e.Test)
			ts.output = append(ts.output, output)
		} else {
			pkg.outputBuf = append(pkg.outputBuf, output)
		}

		// Detect panics
		trimmed := strings.TrimSpace(output)
		if strings.Contains(trimmed, "panic:") || strings.HasPrefix(trimmed, "goroutine ") {
			a.panicked = true
			a.panicOut = append(a.panicOut, output)
		}

		// Parse coverage
		if strings.Contains(output, "coverage:") && strings.Contains(output, "% of statements") {
			var cov float64
			_, _ = fmt.Sscanf(strings.TrimSpace(output), "coverage: %f%% of statements", &cov)
			if cov > a.coverage {
				a.coverage = cov
			}
		}
	}
}

func (a *aggregator) result() *RawResult {
	raw := &RawResult{
		Malformed:   a.malformed,
		Panicked:    a.panicked,
		PanicOutput: a.panicOut,
		Coverage:    a.coverage,
	}

	activePkgs := make(map[string]bool)
	for _, key := range a.order {
		ts := a.tests[key]
		if !ts.terminal {
			// Never reached pass/fail/skip: the binary died mid-run.
			continue
		}

		exec := TestExecution{
			FullName:   ts.pkg + "." + ts.name,
			Package:    ts.pkg,
			Test:       ts.name,
			Status:     ts.status,
			DurationMs: int64(ts.elapsed * 1000),
		}
		switch ts.status {
		case TestPassed:
			raw.TotalPassed++
		case TestFailed:
			raw.TotalFailed++
			exec.Output = ts.output
		case TestSkipped:
			raw.TotalSkipped++
		}
		raw.Tests = append(raw.Tests, exec)
		activePkgs[ts.pkg] = true
	}
	raw.TotalTests = len(raw.Tests)

	for _, name := range a.pkgOrder {
		ps := a.pkgs[name]
		if ps.buildError != "" {
			raw.BuildErrors = append(raw.BuildErrors, fmt.Sprintf("%s: %s", name, ps.buildError))
			continue
		}
		if activePkgs[name] {
			raw.Packages++
		}
	}

	return raw
}
