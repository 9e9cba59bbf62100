// Verdict report generator.
//
// Reads an audit ledger database produced by crucible and writes a markdown
// report of recorded claim violations grouped by cluster, with per-phase
// counts and the most recent rationale for each claim. Useful for attaching
// to a regeneration ticket after a failed campaign.
//
// Usage:
//
//	go run ./cmd/tools/verdict_report <ledger.db> [report.md]
package main

import (
	"database/sql"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type violation struct {
	Claim     string
	Phase     string
	Rationale string
	CreatedAt string
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: verdict_report <ledger.db> [report.md]")
		os.Exit(1)
	}
	dbPath := os.Args[1]
	outPath := "verdict_report.md"
	if len(os.Args) > 2 {
		outPath = os.Args[2]
	}

	fmt.Println("==========================================")
	fmt.Println("  Verdict Report Generator")
	fmt.Println("==========================================")
	fmt.Printf("Ledger: %s\n", dbPath)
	fmt.Printf("Report: %s\n\n", outPath)

	if _, err := os.Stat(dbPath); err != nil {
		fmt.Printf("ERROR: ledger database not found: %v\n", err)
		os.Exit(1)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		fmt.Printf("ERROR: failed to open ledger: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	// Step 1: overall counts
	var total, violations int
	if err := db.QueryRow("SELECT COUNT(*) FROM ledger_entries").Scan(&total); err != nil {
		fmt.Printf("ERROR: failed to count entries: %v\n", err)
		os.Exit(1)
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM ledger_entries WHERE category = 'testing'").Scan(&violations); err != nil {
		fmt.Printf("ERROR: failed to count violations: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("[OK] Ledger holds %d entries (%d claim violations)\n", total, violations)

	// Step 2: per-cluster summary
	rows, err := db.Query(`
		SELECT source, COUNT(*) AS n, MAX(created_at)
		FROM ledger_entries
		WHERE category = 'testing'
		GROUP BY source
		ORDER BY n DESC, source`)
	if err != nil {
		fmt.Printf("ERROR: summary query failed: %v\n", err)
		os.Exit(1)
	}
	type clusterCount struct {
		Source string
		Count  int
		Latest string
	}
	var summary []clusterCount
	for rows.Next() {
		var c clusterCount
		if err := rows.Scan(&c.Source, &c.Count, &c.Latest); err != nil {
			fmt.Printf("ERROR: failed to scan summary row: %v\n", err)
			os.Exit(1)
		}
		summary = append(summary, c)
	}
	rows.Close()

	fmt.Println("\nViolations by cluster:")
	for _, c := range summary {
		fmt.Printf("  %-30s %4d  (latest %s)\n", c.Source, c.Count, c.Latest)
	}
	if len(summary) == 0 {
		fmt.Println("  (none)")
	}

	// Step 3: load individual violations
	rows, err = db.Query(`
		SELECT source, constraint_text, COALESCE(rationale, ''), COALESCE(phase, ''), created_at
		FROM ledger_entries
		WHERE category = 'testing'
		ORDER BY source, created_at DESC`)
	if err != nil {
		fmt.Printf("ERROR: violation query failed: %v\n", err)
		os.Exit(1)
	}
	byCluster := make(map[string][]violation)
	for rows.Next() {
		var source, constraint string
		var v violation
		if err := rows.Scan(&source, &constraint, &v.Rationale, &v.Phase, &v.CreatedAt); err != nil {
			fmt.Printf("ERROR: failed to scan violation row: %v\n", err)
			os.Exit(1)
		}
		v.Claim = claimFromConstraint(constraint)
		byCluster[source] = append(byCluster[source], v)
	}
	rows.Close()
	fmt.Printf("[OK] Loaded %d violation records\n", violations)

	// Step 4: per-phase breakdown
	rows, err = db.Query(`
		SELECT COALESCE(NULLIF(phase, ''), '(untagged)'), COUNT(*)
		FROM ledger_entries
		WHERE category = 'testing'
		GROUP BY 1
		ORDER BY 2 DESC`)
	if err != nil {
		fmt.Printf("ERROR: phase query failed: %v\n", err)
		os.Exit(1)
	}
	phaseCounts := make(map[string]int)
	var phases []string
	for rows.Next() {
		var phase string
		var n int
		if err := rows.Scan(&phase, &n); err != nil {
			fmt.Printf("ERROR: failed to scan phase row: %v\n", err)
			os.Exit(1)
		}
		phaseCounts[phase] = n
		phases = append(phases, phase)
	}
	rows.Close()

	// Step 5: write the report
	report := buildReport(dbPath, violations, byCluster, phases, phaseCounts)
	if err := os.WriteFile(outPath, []byte(report), 0644); err != nil {
		fmt.Printf("ERROR: failed to write report: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("[OK] Wrote %s (%d bytes)\n", outPath, len(report))

	if violations == 0 {
		fmt.Println("\nWARNING: no violations recorded; report is a stub")
	}
	fmt.Println("\nDone.")
}

// claimFromConstraint pulls the claim ID out of the canonical constraint
// text "claim <ID> violated in cluster <name>". Unrecognized text comes
// back whole so hand-written entries still show up.
func claimFromConstraint(constraint string) string {
	fields := strings.Fields(constraint)
	if len(fields) >= 3 && fields[0] == "claim" && fields[2] == "violated" {
		return fields[1]
	}
	return constraint
}

func buildReport(dbPath string, violations int, byCluster map[string][]violation, phases []string, phaseCounts map[string]int) string {
	var b strings.Builder

	b.WriteString("# Verdict Report\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&b, "Ledger: `%s`\n\n", dbPath)
	fmt.Fprintf(&b, "Total claim violations: **%d**\n\n", violations)

	if violations == 0 {
		b.WriteString("No violations recorded. Nothing to regenerate.\n")
		return b.String()
	}

	if len(phases) > 0 {
		b.WriteString("## By phase\n\n")
		b.WriteString("| Phase | Violations |\n|-------|-----------:|\n")
		for _, phase := range phases {
			fmt.Fprintf(&b, "| %s | %d |\n", phase, phaseCounts[phase])
		}
		b.WriteString("\n")
	}

	clusters := make([]string, 0, len(byCluster))
	for source := range byCluster {
		clusters = append(clusters, source)
	}
	sort.Strings(clusters)

	for _, source := range clusters {
		vs := byCluster[source]
		fmt.Fprintf(&b, "## %s (%d violations)\n\n", source, len(vs))
		b.WriteString("| Claim | Phase | Recorded | Rationale |\n")
		b.WriteString("|-------|-------|----------|-----------|\n")
		for _, v := range vs {
			phase := v.Phase
			if phase == "" {
				phase = "(untagged)"
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
				v.Claim, phase, v.CreatedAt, mdCell(v.Rationale))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// mdCell flattens free text into a single markdown table cell.
func mdCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "|", "\\|")
	if len(s) > 120 {
		s = s[:117] + "..."
	}
	return s
}
