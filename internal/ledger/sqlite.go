package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"crucible/internal/logging"
)

// SQLiteLedger is the durable Ledger implementation. One writer at a time;
// the connection pool is pinned to a single connection so WAL and the
// busy timeout behave predictably under concurrent verdicts.
type SQLiteLedger struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ Ledger = (*SQLiteLedger)(nil)

// NewSQLiteLedger opens (or creates) the ledger database at dbPath.
func NewSQLiteLedger(dbPath string) (*SQLiteLedger, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			logging.LedgerDebug("Failed to set pragma %s: %v", pragma, err)
		}
	}

	led := &SQLiteLedger{db: db}
	if err := led.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger: %w", err)
	}

	logging.Ledger("Audit ledger opened: %s", dbPath)
	return led, nil
}

// initialize creates the schema. "constraint" is reserved in SQLite, so the
// column is constraint_text.
func (l *SQLiteLedger) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		category TEXT NOT NULL,
		constraint_text TEXT NOT NULL,
		rationale TEXT,
		source TEXT,
		confidence TEXT,
		phase TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ledger_category ON ledger_entries(category);
	CREATE INDEX IF NOT EXISTS idx_ledger_phase ON ledger_entries(phase);
	CREATE INDEX IF NOT EXISTS idx_ledger_source ON ledger_entries(source);
	`
	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return nil
}

// Append inserts one entry. Entries are immutable: there is no update or
// delete path, and duplicate IDs are an error rather than an upsert. An
// empty ID and a zero CreatedAt are filled in here.
func (l *SQLiteLedger) Append(ctx context.Context, e Entry) error {
	timer := logging.StartTimer(logging.CategoryLedger, "SQLiteLedger.Append")
	defer timer.Stop()

	if e.Constraint == "" {
		return fmt.Errorf("ledger entry constraint required")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, category, constraint_text, rationale, source, confidence, phase, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Category, e.Constraint, e.Rationale, e.Source, e.Confidence, e.Phase, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}

	logging.LedgerDebug("Appended entry %s (category=%s phase=%s)", e.ID, e.Category, e.Phase)
	return nil
}

// Query returns entries newest first. Zero-value filter fields match
// everything.
func (l *SQLiteLedger) Query(ctx context.Context, f Filter) ([]Entry, error) {
	timer := logging.StartTimer(logging.CategoryLedger, "SQLiteLedger.Query")
	defer timer.Stop()

	l.mu.RLock()
	defer l.mu.RUnlock()

	var conditions []string
	var args []interface{}
	if f.Category != "" {
		conditions = append(conditions, "category = ?")
		args = append(args, f.Category)
	}
	if f.Phase != "" {
		conditions = append(conditions, "phase = ?")
		args = append(args, f.Phase)
	}
	if f.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, f.Source)
	}

	query := "SELECT id, category, constraint_text, rationale, source, confidence, phase, created_at FROM ledger_entries"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Category, &e.Constraint, &e.Rationale, &e.Source, &e.Confidence, &e.Phase, &e.CreatedAt); err != nil {
			logging.LedgerWarn("Skipping unreadable ledger row: %v", err)
			continue
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ledger rows: %w", err)
	}

	logging.LedgerDebug("Query returned %d entries", len(entries))
	return entries, nil
}

// Close releases the underlying database.
func (l *SQLiteLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}
