package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestNewSQLiteLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "ledger.db")

	led, err := NewSQLiteLedger(path)
	if err != nil {
		t.Fatalf("NewSQLiteLedger() error = %v", err)
	}
	defer led.Close()

	if led.db == nil {
		t.Fatal("database connection is nil")
	}

	// Schema should exist: an empty query must succeed.
	entries, err := led.Query(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("Query() on fresh ledger error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("fresh ledger has %d entries, want 0", len(entries))
	}
}

func TestSQLiteLedgerAppendAndQuery(t *testing.T) {
	led, err := NewSQLiteLedger(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("NewSQLiteLedger() error = %v", err)
	}
	defer led.Close()

	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	seed := []Entry{
		{ID: "e1", Category: "testing", Constraint: "claim PAY_001 violated in cluster payments", Source: "cluster:payments", Confidence: "inferred", Phase: "verify", CreatedAt: base},
		{ID: "e2", Category: "testing", Constraint: "claim PAY_002 violated in cluster payments", Source: "cluster:payments", Confidence: "inferred", Phase: "verify", CreatedAt: base.Add(time.Hour)},
		{ID: "e3", Category: "architecture", Constraint: "claim AUTH_001 violated in cluster auth", Source: "cluster:auth", Confidence: "explicit", Phase: "triage", CreatedAt: base.Add(2 * time.Hour)},
	}
	for _, e := range seed {
		if err := led.Append(ctx, e); err != nil {
			t.Fatalf("Append(%s) error = %v", e.ID, err)
		}
	}

	all, err := led.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Query() returned %d entries, want 3", len(all))
	}

	// Newest first.
	wantOrder := []string{"e3", "e2", "e1"}
	for i, want := range wantOrder {
		if all[i].ID != want {
			t.Errorf("entry %d = %s, want %s", i, all[i].ID, want)
		}
	}
	if all[0].Constraint != "claim AUTH_001 violated in cluster auth" {
		t.Errorf("constraint round trip failed: %q", all[0].Constraint)
	}

	byCategory, err := led.Query(ctx, Filter{Category: "testing"})
	if err != nil {
		t.Fatalf("Query(category) error = %v", err)
	}
	if len(byCategory) != 2 {
		t.Errorf("Query(category=testing) returned %d entries, want 2", len(byCategory))
	}

	byPhase, err := led.Query(ctx, Filter{Phase: "triage"})
	if err != nil {
		t.Fatalf("Query(phase) error = %v", err)
	}
	if len(byPhase) != 1 || byPhase[0].ID != "e3" {
		t.Errorf("Query(phase=triage) = %v, want [e3]", byPhase)
	}

	bySource, err := led.Query(ctx, Filter{Source: "cluster:payments", Limit: 1})
	if err != nil {
		t.Fatalf("Query(source+limit) error = %v", err)
	}
	if len(bySource) != 1 || bySource[0].ID != "e2" {
		t.Errorf("Query(source, limit=1) = %v, want [e2]", bySource)
	}
}

func TestSQLiteLedgerFillsDefaults(t *testing.T) {
	led, err := NewSQLiteLedger(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("NewSQLiteLedger() error = %v", err)
	}
	defer led.Close()

	ctx := context.Background()
	if err := led.Append(ctx, Entry{Category: "testing", Constraint: "claim X_001 violated in cluster x"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	entries, err := led.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Query() returned %d entries, want 1", len(entries))
	}
	if entries[0].ID == "" {
		t.Error("entry ID was not generated")
	}
	if entries[0].CreatedAt.IsZero() {
		t.Error("entry CreatedAt was not filled in")
	}
}

func TestSQLiteLedgerAppendOnly(t *testing.T) {
	led, err := NewSQLiteLedger(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("NewSQLiteLedger() error = %v", err)
	}
	defer led.Close()

	ctx := context.Background()
	first := Entry{ID: "dup", Category: "testing", Constraint: "claim A violated in cluster a"}
	if err := led.Append(ctx, first); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	// A second append with the same ID must fail rather than overwrite.
	second := Entry{ID: "dup", Category: "testing", Constraint: "rewritten"}
	if err := led.Append(ctx, second); err == nil {
		t.Fatal("Append() with duplicate ID succeeded, want error")
	}

	entries, err := led.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Constraint != "claim A violated in cluster a" {
		t.Errorf("original entry was modified: %+v", entries)
	}
}

func TestSQLiteLedgerRejectsEmptyConstraint(t *testing.T) {
	led, err := NewSQLiteLedger(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("NewSQLiteLedger() error = %v", err)
	}
	defer led.Close()

	if err := led.Append(context.Background(), Entry{Category: "testing"}); err == nil {
		t.Fatal("Append() with empty constraint succeeded, want error")
	}
}

func TestSQLiteLedgerPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	led, err := NewSQLiteLedger(path)
	if err != nil {
		t.Fatalf("NewSQLiteLedger() error = %v", err)
	}
	if err := led.Append(ctx, Entry{ID: "keep", Category: "testing", Constraint: "claim K violated in cluster k"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := led.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewSQLiteLedger(path)
	if err != nil {
		t.Fatalf("NewSQLiteLedger() reopen error = %v", err)
	}
	defer reopened.Close()

	entries, err := reopened.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query() after reopen error = %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "keep" {
		t.Errorf("reopened ledger = %v, want the one appended entry", entries)
	}
}
