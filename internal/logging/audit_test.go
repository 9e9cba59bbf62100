package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGenerateMangleFact(t *testing.T) {
	tests := []struct {
		name  string
		event AuditEvent
		want  string
	}{
		{
			name: "run_start",
			event: AuditEvent{
				Timestamp: 1000,
				EventType: AuditRunStart,
				RunID:     "run-1",
				Success:   true,
			},
			want: `run_event(1000, /run_start, "run-1", true, 0).`,
		},
		{
			name: "cluster_complete",
			event: AuditEvent{
				Timestamp:  2000,
				EventType:  AuditClusterComplete,
				RunID:      "run-1",
				ClusterID:  "auth-cluster",
				Success:    true,
				DurationMs: 4321,
			},
			want: `cluster_event(2000, /cluster_complete, "run-1", "auth-cluster", true, 4321).`,
		},
		{
			name: "retry_scheduled",
			event: AuditEvent{
				Timestamp: 3000,
				EventType: AuditRetryScheduled,
				ClusterID: "auth-cluster",
				Target:    "/timeout",
				Fields:    map[string]interface{}{"attempt": 2, "delay_ms": int64(2000)},
			},
			want: `retry_event(3000, /retry_scheduled, "auth-cluster", "/timeout", 2, 2000).`,
		},
		{
			name: "claim_outcome",
			event: AuditEvent{
				Timestamp: 4000,
				EventType: AuditClaimOutcome,
				RunID:     "run-1",
				ClusterID: "auth-cluster",
				Target:    "CLAIM-007",
				Action:    "/failed",
			},
			want: `claim_outcome(4000, "run-1", "auth-cluster", "CLAIM-007", /failed).`,
		},
		{
			name: "verdict_fallback",
			event: AuditEvent{
				Timestamp: 5000,
				EventType: AuditFallback,
				ClusterID: "auth-cluster",
				Fields:    map[string]interface{}{"violated": 3, "targets": 0},
			},
			want: `verdict_event(5000, /fallback_triggered, "auth-cluster", 3, 0).`,
		},
		{
			name: "reinject_target_escapes_path",
			event: AuditEvent{
				Timestamp: 6000,
				EventType: AuditReinjectTarget,
				ClusterID: "auth-cluster",
				Target:    "ValidateToken",
				Action:    `internal\auth\token.go`,
			},
			want: `reinject_target(6000, "auth-cluster", "ValidateToken", "internal\\auth\\token.go").`,
		},
		{
			name: "ledger_append",
			event: AuditEvent{
				Timestamp: 7000,
				EventType: AuditLedgerAppend,
				Target:    "CLAIM-007",
				Success:   true,
			},
			want: `ledger_event(7000, /ledger_append, "CLAIM-007", true).`,
		},
		{
			name: "error_with_quotes",
			event: AuditEvent{
				Timestamp: 8000,
				EventType: AuditErrorGeneric,
				Category:  "runner",
				Error:     `exec: "go": not found`,
			},
			want: `error_event(8000, /error_generic, "runner", "exec: \"go\": not found").`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := generateMangleFact(tt.event)
			if got != tt.want {
				t.Errorf("generateMangleFact() mismatch\n got: %s\nwant: %s", got, tt.want)
			}
		})
	}
}

// TestAuditLogWrites exercises the full path: init, convenience methods, JSONL on disk.
func TestAuditLogWrites(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("CRUCIBLE_DEBUG", "")

	writeTestConfig(t, tempDir, `{"logging": {"level": "debug", "debug_mode": true}}`)

	resetState()
	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := InitAudit(); err != nil {
		t.Fatalf("InitAudit: %v", err)
	}

	audit := AuditWithRun("run-42")
	audit.RunStart("run-42", 3)
	audit.ClusterExecute("payments")
	audit.ClaimOutcome("payments", "CLAIM-001", "/passed")
	audit.ClaimOutcome("payments", "CLAIM-002", "/failed")
	audit.RetryScheduled("payments", "/runner_crash", 1, 1000)
	audit.VerdictDecided("payments", false, 1, 2)
	audit.ReinjectTarget("payments", "ChargeCard", "internal/pay/charge.go")
	audit.LedgerAppend("CLAIM-002", true, "")
	audit.RunComplete("run-42", false, 9876)

	CloseAudit()
	CloseAll()

	logsPath := filepath.Join(tempDir, ".crucible", "logs")
	entries, err := os.ReadDir(logsPath)
	if err != nil {
		t.Fatalf("read logs dir: %v", err)
	}

	var auditContent string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), "_audit.log") {
			data, err := os.ReadFile(filepath.Join(logsPath, e.Name()))
			if err != nil {
				t.Fatalf("read audit log: %v", err)
			}
			auditContent = string(data)
		}
	}
	if auditContent == "" {
		t.Fatal("no audit log file written")
	}

	for _, predicate := range []string{
		"run_event(",
		"cluster_event(",
		"claim_outcome(",
		"retry_event(",
		"verdict_event(",
		"reinject_target(",
		"ledger_event(",
	} {
		if !strings.Contains(auditContent, predicate) {
			t.Errorf("audit log missing %s fact", predicate)
		}
	}

	// Run correlation should be stamped on scoped events
	if !strings.Contains(auditContent, `"run":"run-42"`) {
		t.Error("expected run ID correlation in audit events")
	}
}

// TestAuditDisabledInProduction verifies audit is a no-op without debug mode.
func TestAuditDisabledInProduction(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("CRUCIBLE_DEBUG", "")

	resetState()
	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := InitAudit(); err != nil {
		t.Fatalf("InitAudit: %v", err)
	}

	Audit().RunStart("run-0", 1)
	Audit().ClaimOutcome("c", "CLAIM-0", "/passed")

	CloseAudit()
	CloseAll()

	logsPath := filepath.Join(tempDir, ".crucible", "logs")
	if _, err := os.Stat(logsPath); err == nil {
		entries, _ := os.ReadDir(logsPath)
		if len(entries) > 0 {
			t.Errorf("expected no audit output in production mode, found %d files", len(entries))
		}
	}
}

func TestEscapeString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`plain`, `plain`},
		{`has "quotes"`, `has \"quotes\"`},
		{`back\slash`, `back\\slash`},
		{"line\nbreak", `line\nbreak`},
		{"tab\there", `tab\there`},
	}
	for _, tt := range tests {
		if got := escapeString(tt.in); got != tt.want {
			t.Errorf("escapeString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func BenchmarkEscapeString(b *testing.B) {
	// Create a string that requires escaping
	input := "Hello \"World\"\nThis is a backslash: \\ \tAnd a tab."
	// Make it long enough to matter
	input = strings.Repeat(input, 100)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = escapeString(input)
	}
}

func BenchmarkEscapeStringNoEscapes(b *testing.B) {
	// Create a string that requires NO escaping
	input := "Hello World This is a normal string without special chars."
	// Make it long
	input = strings.Repeat(input, 100)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = escapeString(input)
	}
}
