package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"crucible/cmd/crucible/ui"
	"crucible/internal/cluster"
	"crucible/internal/verify"
	"crucible/internal/xref"
)

var (
	verifyPretty bool
	verifyPhase  string
)

// verifyCmd runs a single cluster and derives its verdict.
var verifyCmd = &cobra.Command{
	Use:   "verify <cluster-id> [manifest]",
	Short: "Run one cluster and derive its verdict",
	Long: `Runs a single cluster's test suite and turns the per-claim outcomes
into a verdict: pass, or fail with the list of violated claims and the
source functions that reference them (the re-injection targets).

Violations are appended to the audit ledger when it is enabled. When no
function references a violated claim the verdict falls back to
whole-cluster regeneration.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	clusterID := args[0]
	manifestPath := resolvePath(cluster.DefaultManifestPath)
	if len(args) > 1 {
		manifestPath = resolvePath(args[1])
	}
	manifest, err := cluster.LoadManifest(manifestPath)
	if err != nil {
		return err
	}
	cl := manifest.Get(clusterID)
	if cl == nil {
		known := make([]string, 0, len(manifest.Clusters))
		for _, c := range manifest.Clusters {
			known = append(known, c.ID)
		}
		return fmt.Errorf("cluster %q not found in %s (known: %s)",
			clusterID, manifestPath, strings.Join(known, ", "))
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	exec := buildExecutor()
	summary := exec.ExecuteClusters(ctx, []cluster.ClusterDefinition{*cl}, buildExecOptions())
	if len(summary.Clusters) == 0 {
		return fmt.Errorf("cluster %s produced no result", clusterID)
	}
	result := summary.Clusters[0]

	deps := verify.VerdictDeps{
		Scanner:     xref.NewScanner(cfg.Xref),
		ProjectRoot: resolvePath(manifest.ProjectRoot),
		Phase:       verifyPhase,
	}
	led, err := openLedger()
	if err != nil {
		logger.Warn("Ledger unavailable, verdict will not be persisted", zap.Error(err))
	} else if led != nil {
		defer led.Close()
		deps.Ledger = led
	}

	verdict, err := verify.ProcessClusterVerdict(ctx, cl, result.ClaimResults, deps)
	if err != nil {
		return fmt.Errorf("verdict evaluation failed: %w", err)
	}

	switch {
	case jsonOut:
		payload := struct {
			Result  *verify.ClusterExecutionResult `json:"result"`
			Verdict *verify.ClusterVerdict         `json:"verdict"`
		}{result, verdict}
		data, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode verdict: %w", err)
		}
		fmt.Println(string(data))
	case verifyPretty:
		md := verdictMarkdown(cl, result, verdict)
		out, err := renderMarkdown(md)
		if err != nil {
			fmt.Print(md)
		} else {
			fmt.Print(out)
		}
	default:
		printVerdict(cl, result, verdict)
	}

	if !verdict.Pass {
		return fmt.Errorf("cluster %s failed: %d claims violated",
			cl.ID, len(verdict.ViolatedClaims))
	}
	return nil
}

func printVerdict(cl *cluster.ClusterDefinition, result *verify.ClusterExecutionResult, verdict *verify.ClusterVerdict) {
	styles := ui.DefaultStyles()

	table := ui.NewTable(
		fmt.Sprintf("Cluster %s (%s)", cl.ID, cl.Name),
		ui.Column{Header: "CLAIM"},
		ui.Column{Header: "STATUS", Status: true},
		ui.Column{Header: "TESTS", Align: ui.AlignRight},
		ui.Column{Header: "FAILED", Align: ui.AlignRight},
	)
	for _, cr := range result.ClaimResults {
		table.AddRow(
			cr.ClaimID,
			strings.TrimPrefix(string(cr.Status), "/"),
			fmt.Sprintf("%d", cr.TestCount),
			fmt.Sprintf("%d", cr.FailedCount),
		)
	}
	fmt.Print(table.View(styles))

	if verdict.Pass {
		fmt.Println(styles.Pass.Render("VERDICT: PASS"))
		return
	}
	fmt.Println(styles.Fail.Render("VERDICT: FAIL"))
	fmt.Println(styles.Body.Render("Violated claims: " + strings.Join(verdict.ViolatedClaims, ", ")))
	if verdict.FallbackTriggered {
		fmt.Println(styles.Warning.Render("No function-level targets found; regenerate the whole cluster"))
		return
	}
	fmt.Println(styles.Bold.Render("Re-injection targets:"))
	for _, fn := range verdict.FunctionsToReinject {
		fmt.Printf("  %s  %s\n", styles.Info.Render(fn.FunctionName), styles.Muted.Render(fn.FilePath))
		fmt.Printf("    violated: %s\n", strings.Join(fn.ViolatedClaims, ", "))
	}
}

// verdictMarkdown builds the report rendered by --pretty.
func verdictMarkdown(cl *cluster.ClusterDefinition, result *verify.ClusterExecutionResult, verdict *verify.ClusterVerdict) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Verdict: %s\n\n", cl.ID)
	fmt.Fprintf(&b, "**%s** | %d tests, %d failed | %dms\n\n",
		cl.Name, result.TotalTests, result.TotalFailed, result.DurationMs)

	b.WriteString("## Claims\n\n")
	b.WriteString("| Claim | Status | Tests | Failed |\n")
	b.WriteString("|-------|--------|------:|-------:|\n")
	for _, cr := range result.ClaimResults {
		fmt.Fprintf(&b, "| %s | %s | %d | %d |\n",
			cr.ClaimID, strings.TrimPrefix(string(cr.Status), "/"), cr.TestCount, cr.FailedCount)
	}
	b.WriteString("\n")

	if verdict.Pass {
		b.WriteString("## Result: PASS\n\nAll claims verified.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "## Result: FAIL\n\nViolated claims: %s\n\n",
		strings.Join(verdict.ViolatedClaims, ", "))
	if verdict.FallbackTriggered {
		b.WriteString("No source function references a violated claim. ")
		b.WriteString("Regenerate the whole cluster.\n")
		return b.String()
	}

	b.WriteString("### Re-injection targets\n\n")
	for _, fn := range verdict.FunctionsToReinject {
		fmt.Fprintf(&b, "- `%s` in `%s`\n", fn.FunctionName, fn.FilePath)
		fmt.Fprintf(&b, "  - violated: %s\n", strings.Join(fn.ViolatedClaims, ", "))
		fmt.Fprintf(&b, "  - all refs: %s\n", strings.Join(fn.AllClaimRefs, ", "))
	}
	return b.String()
}

// renderMarkdown renders markdown for the terminal, matching the detected
// background.
func renderMarkdown(md string) (string, error) {
	var renderer *glamour.TermRenderer
	var err error
	if ui.DetectTheme().IsDark {
		renderer, err = glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(100),
		)
	} else {
		renderer, err = glamour.NewTermRenderer(
			glamour.WithStylePath("light"),
			glamour.WithWordWrap(100),
		)
	}
	if err != nil {
		return "", err
	}
	return renderer.Render(md)
}
