// Package ledger persists the append-only audit trail of verification
// outcomes. Every violated claim becomes one entry; entries are never
// updated or deleted. The SQLite store is the durable form, and facts.go
// projects entries into Mangle facts for ad-hoc datalog queries.
package ledger

import (
	"context"
	"time"
)

// Entry is one immutable audit record.
type Entry struct {
	ID         string    `json:"id"`
	Category   string    `json:"category"`
	Constraint string    `json:"constraint"`
	Rationale  string    `json:"rationale"`
	Source     string    `json:"source"`
	Confidence string    `json:"confidence"`
	Phase      string    `json:"phase"`
	CreatedAt  time.Time `json:"created_at"`
}

// Filter narrows Query results. Zero-value fields match everything;
// Limit <= 0 means no limit.
type Filter struct {
	Category string
	Phase    string
	Source   string
	Limit    int
}

// Ledger is the surface the verdict layer writes through. Append failures
// are tolerated by callers (logged and skipped), so implementations should
// fail fast rather than block.
type Ledger interface {
	Append(ctx context.Context, e Entry) error
	Query(ctx context.Context, f Filter) ([]Entry, error)
}
