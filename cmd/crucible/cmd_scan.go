package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"crucible/cmd/crucible/ui"
	"crucible/internal/xref"
)

var scanClaim string

// scanCmd walks the source tree and reports claim references.
var scanCmd = &cobra.Command{
	Use:   "scan [root]",
	Short: "Scan source files for claim references",
	Long: `Walks the project tree and extracts [claim:ID] markers from function
doc comments using tree-sitter, producing the function-to-claim map that
verdict triage uses to pick re-injection targets.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	root := workspace
	if len(args) > 0 {
		root = resolvePath(args[0])
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	scanner := xref.NewScanner(cfg.Xref)
	mapping, err := scanner.Scan(ctx, root)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if scanClaim != "" {
		filtered := make(map[string]xref.FunctionClaims)
		for name, fc := range mapping {
			for _, ref := range fc.ClaimRefs {
				if ref == scanClaim {
					filtered[name] = fc
					break
				}
			}
		}
		mapping = filtered
	}

	if jsonOut {
		data, err := json.MarshalIndent(mapping, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode scan result: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	if len(mapping) == 0 {
		fmt.Println("No claim references found.")
		return nil
	}

	names := make([]string, 0, len(mapping))
	for name := range mapping {
		names = append(names, name)
	}
	sort.Strings(names)

	styles := ui.DefaultStyles()
	table := ui.NewTable(
		fmt.Sprintf("Claim references under %s", root),
		ui.Column{Header: "FUNCTION"},
		ui.Column{Header: "FILE"},
		ui.Column{Header: "CLAIMS"},
	)
	for _, name := range names {
		fc := mapping[name]
		table.AddRow(name, fc.FilePath, strings.Join(fc.ClaimRefs, ", "))
	}
	fmt.Print(table.View(styles))
	fmt.Println(styles.Muted.Render(
		fmt.Sprintf("%d functions carry claim references", len(names))))
	return nil
}
