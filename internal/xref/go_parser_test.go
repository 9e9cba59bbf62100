package xref

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// refsByName flattens parser output for order-independent comparison.
func refsByName(refs []FunctionRef) map[string][]string {
	out := make(map[string][]string, len(refs))
	for _, r := range refs {
		out[r.Name] = r.ClaimRefs
	}
	return out
}

func TestGoParser_Parse(t *testing.T) {
	src := `package pay

// Account holds a balance.
type Account struct {
	balance int64
}

// Withdraw removes funds from the account.
// CLAIM_REF: PAY_001, PAY_002
func (a *Account) Withdraw(amount int64) error {
	a.balance -= amount
	return nil
}

// Deposit adds funds.
// CLAIM_REF: PAY_003
func Deposit(a *Account, amount int64) {
	a.balance += amount
}

// helper has documentation but no references.
func helper() {}

func undocumented() {}
`

	parser := NewGoParser()
	if parser.Language() != "go" {
		t.Errorf("Expected 'go', got %s", parser.Language())
	}
	if exts := parser.SupportedExtensions(); len(exts) != 1 || exts[0] != ".go" {
		t.Errorf("Expected [.go], got %v", exts)
	}

	refs, err := parser.Parse("pay.go", []byte(src))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	want := map[string][]string{
		"Account.Withdraw": {"PAY_001", "PAY_002"},
		"Deposit":          {"PAY_003"},
	}
	if diff := cmp.Diff(want, refsByName(refs)); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestGoParser_MultipleRefLines(t *testing.T) {
	src := `package pay

// Transfer moves funds between accounts.
// CLAIM_REF: PAY_010
// It debits then credits.
// CLAIM_REF: PAY_011, PAY_012
func Transfer() {}
`

	refs, err := NewGoParser().Parse("transfer.go", []byte(src))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	want := map[string][]string{
		"Transfer": {"PAY_010", "PAY_011", "PAY_012"},
	}
	if diff := cmp.Diff(want, refsByName(refs)); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestGoParser_GenericReceiver(t *testing.T) {
	src := `package store

type Cache[K comparable, V any] struct {
	items map[K]V
}

// Get returns a cached value.
// CLAIM_REF: STORE_001
func (c *Cache[K, V]) Get(key K) (V, bool) {
	v, ok := c.items[key]
	return v, ok
}
`

	refs, err := NewGoParser().Parse("cache.go", []byte(src))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	want := map[string][]string{
		"Cache.Get": {"STORE_001"},
	}
	if diff := cmp.Diff(want, refsByName(refs)); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestGoParser_SyntaxError(t *testing.T) {
	if _, err := NewGoParser().Parse("broken.go", []byte("package {{{")); err == nil {
		t.Fatal("Expected error for unparsable source, got nil")
	}
}
