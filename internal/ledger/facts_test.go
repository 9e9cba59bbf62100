package ledger

import (
	"context"
	"testing"
	"time"
)

func violationEntry(id, claim, clusterName string) Entry {
	return Entry{
		ID:         id,
		Category:   "testing",
		Constraint: "claim " + claim + " violated in cluster " + clusterName,
		Source:     "cluster:" + clusterName,
		Confidence: "inferred",
		Phase:      "verify",
	}
}

func TestFactsEngineQueryEntries(t *testing.T) {
	eng, err := NewFactsEngine()
	if err != nil {
		t.Fatalf("NewFactsEngine() error = %v", err)
	}

	entries := []Entry{
		violationEntry("e1", "PAY_001", "payments"),
		violationEntry("e2", "AUTH_001", "auth"),
	}
	if err := eng.Load(entries); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	rows, err := eng.Query(ctx, "ledger_entry(Id, Category, Constraint, Source, Confidence, Phase)")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Query() returned %d rows, want 2", len(rows))
	}

	ids := map[string]bool{}
	for _, row := range rows {
		id, ok := row["Id"].(string)
		if !ok {
			t.Fatalf("Id binding is %T, want string", row["Id"])
		}
		ids[id] = true
		if row["Category"] != "testing" {
			t.Errorf("Category binding = %v, want testing", row["Category"])
		}
	}
	if !ids["e1"] || !ids["e2"] {
		t.Errorf("entry IDs = %v, want e1 and e2", ids)
	}
}

func TestFactsEngineQueryWithConstant(t *testing.T) {
	eng, err := NewFactsEngine()
	if err != nil {
		t.Fatalf("NewFactsEngine() error = %v", err)
	}

	entries := []Entry{
		violationEntry("e1", "PAY_001", "payments"),
		violationEntry("e2", "PAY_002", "payments"),
	}
	if err := eng.Load(entries); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	rows, err := eng.Query(ctx, `claim_violation(E, "PAY_002")`)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Query() returned %d rows, want 1", len(rows))
	}
	if rows[0]["E"] != "e2" {
		t.Errorf("E binding = %v, want e2", rows[0]["E"])
	}
}

func TestFactsEngineHotClaim(t *testing.T) {
	eng, err := NewFactsEngine()
	if err != nil {
		t.Fatalf("NewFactsEngine() error = %v", err)
	}

	entries := []Entry{
		// PAY_001 violated twice, PAY_002 once.
		violationEntry("e1", "PAY_001", "payments"),
		violationEntry("e2", "PAY_001", "billing"),
		violationEntry("e3", "PAY_002", "payments"),
		// Not a violation constraint; must not produce claim_violation facts.
		{ID: "e4", Category: "architecture", Constraint: "handlers never import storage directly", Phase: "triage"},
	}
	if err := eng.Load(entries); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	rows, err := eng.Query(ctx, "hot_claim(Claim)")
	if err != nil {
		t.Fatalf("Query(hot_claim) error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("hot_claim returned %d rows, want 1. Rows: %v", len(rows), rows)
	}
	if rows[0]["Claim"] != "PAY_001" {
		t.Errorf("hot claim = %v, want PAY_001", rows[0]["Claim"])
	}

	counts, err := eng.Query(ctx, "violation_count(Claim, N)")
	if err != nil {
		t.Fatalf("Query(violation_count) error = %v", err)
	}
	if len(counts) != 2 {
		t.Fatalf("violation_count returned %d rows, want 2. Rows: %v", len(counts), counts)
	}
	for _, row := range counts {
		switch row["Claim"] {
		case "PAY_001":
			if row["N"] != int64(2) {
				t.Errorf("PAY_001 count = %v, want 2", row["N"])
			}
		case "PAY_002":
			if row["N"] != int64(1) {
				t.Errorf("PAY_002 count = %v, want 1", row["N"])
			}
		default:
			t.Errorf("unexpected claim in counts: %v", row["Claim"])
		}
	}
}

func TestFactsEngineUndeclaredPredicate(t *testing.T) {
	eng, err := NewFactsEngine()
	if err != nil {
		t.Fatalf("NewFactsEngine() error = %v", err)
	}
	if err := eng.Load(nil); err != nil {
		t.Fatalf("Load(nil) error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := eng.Query(ctx, "no_such_predicate(X)"); err == nil {
		t.Fatal("Query() on undeclared predicate succeeded, want error")
	}
}

func TestViolatedClaim(t *testing.T) {
	tests := []struct {
		name       string
		constraint string
		wantClaim  string
		wantOK     bool
	}{
		{"violation", "claim PAY_001 violated in cluster payments", "PAY_001", true},
		{"cluster name with spaces", "claim A_1 violated in cluster auth flow", "A_1", true},
		{"no prefix", "handlers never import storage", "", false},
		{"missing marker", "claim PAY_001 broke something", "", false},
		{"empty claim", "claim  violated in cluster x", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claim, ok := violatedClaim(tt.constraint)
			if ok != tt.wantOK || claim != tt.wantClaim {
				t.Errorf("violatedClaim(%q) = (%q, %v), want (%q, %v)", tt.constraint, claim, ok, tt.wantClaim, tt.wantOK)
			}
		})
	}
}
