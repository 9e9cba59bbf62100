package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"crucible/cmd/crucible/ui"
	"crucible/internal/ledger"
)

var (
	ledgerCategory string
	ledgerPhase    string
	ledgerSource   string
	ledgerLimit    int
)

// ledgerCmd groups the audit ledger subcommands.
var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the append-only audit ledger",
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent ledger entries",
	RunE:  runLedgerList,
}

var ledgerQueryCmd = &cobra.Command{
	Use:   "query <atom>",
	Short: "Evaluate a Datalog query over ledger facts",
	Long: `Projects every ledger entry into Datalog facts and evaluates one
query atom against them.

Available predicates:
  ledger_entry(Id, Category, Constraint, Source, Confidence, Phase)
  claim_violation(Entry, Claim)
  violation_count(Claim, N)
  hot_claim(Claim)

Examples:
  crucible ledger query 'hot_claim(Claim)'
  crucible ledger query 'claim_violation(E, "PAY_002")'`,
	Args: cobra.ExactArgs(1),
	RunE: runLedgerQuery,
}

func runLedgerList(cmd *cobra.Command, args []string) error {
	led, err := openLedger()
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	if led == nil {
		return fmt.Errorf("audit ledger is disabled (ledger.enabled: false)")
	}
	defer led.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.GetQueryTimeout())
	defer cancel()

	entries, err := led.Query(ctx, ledger.Filter{
		Category: ledgerCategory,
		Phase:    ledgerPhase,
		Source:   ledgerSource,
		Limit:    ledgerLimit,
	})
	if err != nil {
		return fmt.Errorf("ledger query failed: %w", err)
	}

	if jsonOut {
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode entries: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	if len(entries) == 0 {
		fmt.Println("Ledger is empty for this filter.")
		return nil
	}

	styles := ui.DefaultStyles()
	table := ui.NewTable(
		"Audit ledger",
		ui.Column{Header: "ID"},
		ui.Column{Header: "CATEGORY"},
		ui.Column{Header: "CONSTRAINT"},
		ui.Column{Header: "SOURCE"},
		ui.Column{Header: "PHASE"},
		ui.Column{Header: "CREATED"},
	)
	for _, e := range entries {
		table.AddRow(
			shortID(e.ID),
			e.Category,
			truncate(e.Constraint, 48),
			e.Source,
			e.Phase,
			e.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	fmt.Print(table.View(styles))
	fmt.Println(styles.Muted.Render(fmt.Sprintf("%d entries", len(entries))))
	return nil
}

func runLedgerQuery(cmd *cobra.Command, args []string) error {
	led, err := openLedger()
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	if led == nil {
		return fmt.Errorf("audit ledger is disabled (ledger.enabled: false)")
	}
	defer led.Close()

	entries, err := led.Query(cmd.Context(), ledger.Filter{})
	if err != nil {
		return fmt.Errorf("failed to load ledger entries: %w", err)
	}

	engine, err := ledger.NewFactsEngine()
	if err != nil {
		return fmt.Errorf("failed to build facts engine: %w", err)
	}
	if err := engine.Load(entries); err != nil {
		return fmt.Errorf("failed to load facts: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.GetQueryTimeout())
	defer cancel()

	rows, err := engine.Query(ctx, args[0])
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if jsonOut {
		data, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode results: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	styles := ui.DefaultStyles()
	if len(rows) == 0 {
		fmt.Println(styles.Muted.Render("No results."))
		return nil
	}

	// Ground atoms bind no variables; the match count is the whole answer.
	vars := make([]string, 0, len(rows[0]))
	for v := range rows[0] {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	if len(vars) == 0 {
		fmt.Println(styles.Pass.Render(fmt.Sprintf("satisfied (%d matches)", len(rows))))
		return nil
	}

	cols := make([]ui.Column, 0, len(vars))
	for _, v := range vars {
		cols = append(cols, ui.Column{Header: v})
	}
	table := ui.NewTable(args[0], cols...)
	for _, row := range rows {
		cells := make([]string, 0, len(vars))
		for _, v := range vars {
			cells = append(cells, fmt.Sprintf("%v", row[v]))
		}
		table.AddRow(cells...)
	}
	fmt.Print(table.View(styles))
	fmt.Println(styles.Muted.Render(fmt.Sprintf("%d results", len(rows))))
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
