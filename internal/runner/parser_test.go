package runner

import (
	"strings"
	"testing"
)

func TestParseStream_BasicPassFail(t *testing.T) {
	input := strings.Join([]string{
		`{"Time":"2024-01-01T00:00:00Z","Action":"run","Package":"example.com/pkg","Test":"TestA"}`,
		`{"Time":"2024-01-01T00:00:00Z","Action":"pass","Package":"example.com/pkg","Test":"TestA","Elapsed":0.1}`,
		`{"Time":"2024-01-01T00:00:00Z","Action":"run","Package":"example.com/pkg","Test":"TestB"}`,
		`{"Time":"2024-01-01T00:00:00Z","Action":"output","Package":"example.com/pkg","Test":"TestB","Output":"    assertion failed\n"}`,
		`{"Time":"2024-01-01T00:00:00Z","Action":"fail","Package":"example.com/pkg","Test":"TestB","Elapsed":0.2}`,
		`{"Time":"2024-01-01T00:00:00Z","Action":"fail","Package":"example.com/pkg","Elapsed":0.5}`,
	}, "\n") + "\n"

	raw, err := ParseStream(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}

	if raw.TotalTests != 2 {
		t.Fatalf("TotalTests=%d, want 2", raw.TotalTests)
	}
	if raw.TotalPassed != 1 || raw.TotalFailed != 1 {
		t.Errorf("passed=%d failed=%d, want 1/1", raw.TotalPassed, raw.TotalFailed)
	}

	// Encounter order and full-name qualification
	if raw.Tests[0].FullName != "example.com/pkg.TestA" {
		t.Errorf("FullName=%q, want example.com/pkg.TestA", raw.Tests[0].FullName)
	}
	if raw.Tests[1].Status != TestFailed {
		t.Errorf("TestB status=%s, want /failed", raw.Tests[1].Status)
	}
	if len(raw.Tests[1].Output) != 1 || !strings.Contains(raw.Tests[1].Output[0], "assertion failed") {
		t.Errorf("failure output not captured: %v", raw.Tests[1].Output)
	}
	// Passing tests carry no output
	if raw.Tests[0].Output != nil {
		t.Errorf("passing test should have nil output, got %v", raw.Tests[0].Output)
	}
	if raw.Tests[1].DurationMs != 200 {
		t.Errorf("DurationMs=%d, want 200", raw.Tests[1].DurationMs)
	}
}

func TestParseStream_Subtests(t *testing.T) {
	input := strings.Join([]string{
		`{"Action":"run","Package":"p","Test":"TestRefunds"}`,
		`{"Action":"run","Package":"p","Test":"TestRefunds/PAY_001"}`,
		`{"Action":"pass","Package":"p","Test":"TestRefunds/PAY_001","Elapsed":0.01}`,
		`{"Action":"run","Package":"p","Test":"TestRefunds/PAY_002"}`,
		`{"Action":"fail","Package":"p","Test":"TestRefunds/PAY_002","Elapsed":0.01}`,
		`{"Action":"fail","Package":"p","Test":"TestRefunds","Elapsed":0.03}`,
		`{"Action":"fail","Package":"p","Elapsed":0.05}`,
	}, "\n") + "\n"

	raw, err := ParseStream(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}

	if raw.TotalTests != 3 {
		t.Fatalf("TotalTests=%d, want 3 (parent + 2 subtests)", raw.TotalTests)
	}
	names := []string{raw.Tests[0].FullName, raw.Tests[1].FullName, raw.Tests[2].FullName}
	want := []string{"p.TestRefunds", "p.TestRefunds/PAY_001", "p.TestRefunds/PAY_002"}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Tests[%d]=%q, want %q", i, names[i], want[i])
		}
	}
}

func TestParseStream_Skip(t *testing.T) {
	input := strings.Join([]string{
		`{"Action":"run","Package":"p","Test":"TestWIP"}`,
		`{"Action":"skip","Package":"p","Test":"TestWIP","Elapsed":0}`,
		`{"Action":"pass","Package":"p","Elapsed":0.01}`,
	}, "\n") + "\n"

	raw, err := ParseStream(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	if raw.TotalSkipped != 1 {
		t.Errorf("TotalSkipped=%d, want 1", raw.TotalSkipped)
	}
	if raw.Tests[0].Status != TestSkipped {
		t.Errorf("status=%s, want /skipped", raw.Tests[0].Status)
	}
}

func TestParseStream_BuildError(t *testing.T) {
	input := strings.Join([]string{
		`{"Action":"output","Package":"example.com/broken","Output":"# example.com/broken\n"}`,
		`{"Action":"output","Package":"example.com/broken","Output":"./broken.go:10:2: undefined: Frobnicate\n"}`,
		`{"Action":"fail","Package":"example.com/broken","Elapsed":0}`,
	}, "\n") + "\n"

	raw, err := ParseStream(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	if raw.TotalTests != 0 {
		t.Fatalf("TotalTests=%d, want 0", raw.TotalTests)
	}
	if len(raw.BuildErrors) != 1 {
		t.Fatalf("BuildErrors=%v, want 1 entry", raw.BuildErrors)
	}
	if !strings.Contains(raw.BuildErrors[0], "undefined: Frobnicate") {
		t.Errorf("build error lost diagnostics: %q", raw.BuildErrors[0])
	}
}

func TestParseStream_PanicDetection(t *testing.T) {
	input := strings.Join([]string{
		`{"Action":"run","Package":"p","Test":"TestBad"}`,
		`{"Action":"output","Package":"p","Test":"TestBad","Output":"panic: runtime error: index out of range\n"}`,
		`{"Action":"fail","Package":"p","Test":"TestBad","Elapsed":0}`,
		`{"Action":"fail","Package":"p","Elapsed":0}`,
	}, "\n") + "\n"

	raw, err := ParseStream(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	if !raw.Panicked {
		t.Error("expected panic detected")
	}
	if raw.TotalFailed != 1 {
		t.Errorf("TotalFailed=%d, want 1", raw.TotalFailed)
	}
}

func TestParseStream_NonTerminalTestsDropped(t *testing.T) {
	// Binary died before TestHung finished: no terminal action
	input := strings.Join([]string{
		`{"Action":"run","Package":"p","Test":"TestDone"}`,
		`{"Action":"pass","Package":"p","Test":"TestDone","Elapsed":0.1}`,
		`{"Action":"run","Package":"p","Test":"TestHung"}`,
		`{"Action":"output","Package":"p","Test":"TestHung","Output":"starting...\n"}`,
	}, "\n") + "\n"

	raw, err := ParseStream(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	if raw.TotalTests != 1 {
		t.Fatalf("TotalTests=%d, want 1 (hung test dropped)", raw.TotalTests)
	}
	if raw.Tests[0].Test != "TestDone" {
		t.Errorf("kept test=%q, want TestDone", raw.Tests[0].Test)
	}
}

func TestParseStream_MalformedLinesSkipped(t *testing.T) {
	input := "not json\n{bad json\n" +
		`{"Action":"run","Package":"x","Test":"T"}` + "\n" +
		`{"Action":"pass","Package":"x","Test":"T","Elapsed":0.1}` + "\n" +
		`{"Action":"pass","Package":"x","Elapsed":0.1}` + "\n"

	raw, err := ParseStream(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	if raw.Malformed != 2 {
		t.Errorf("Malformed=%d, want 2", raw.Malformed)
	}
	if raw.TotalPassed != 1 {
		t.Errorf("TotalPassed=%d, want 1", raw.TotalPassed)
	}
}

func TestParseStream_Coverage(t *testing.T) {
	input := strings.Join([]string{
		`{"Action":"run","Package":"p","Test":"TestA"}`,
		`{"Action":"pass","Package":"p","Test":"TestA","Elapsed":0.1}`,
		`{"Action":"output","Package":"p","Output":"coverage: 85.3% of statements\n"}`,
		`{"Action":"pass","Package":"p","Elapsed":0.5}`,
	}, "\n") + "\n"

	raw, err := ParseStream(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	if raw.Coverage < 85.0 || raw.Coverage > 86.0 {
		t.Errorf("Coverage=%f, want ~85.3", raw.Coverage)
	}
}
