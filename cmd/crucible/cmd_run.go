package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"crucible/cmd/crucible/ui"
	"crucible/internal/cluster"
	"crucible/internal/verify"
)

var (
	runContinue   bool
	runPattern    string
	runTimeout    time.Duration
	runMaxRetries int
	runTUI        bool
)

// runCmd executes every cluster in the manifest.
var runCmd = &cobra.Command{
	Use:   "run [manifest]",
	Short: "Run verification for every cluster in the manifest",
	Long: `Loads the cluster manifest and runs each cluster through the
verification pipeline in declaration order: derive the test pattern from
the cluster's claims, execute the suite, retry infrastructure failures
with exponential backoff, and aggregate per-claim outcomes.

By default execution stops at the first failed cluster; pass
--continue-on-failure to run the rest anyway. Exit code is 0 only when
every executed claim passed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runClusters,
}

func runClusters(cmd *cobra.Command, args []string) error {
	manifestPath := manifestArg(args)
	manifest, err := cluster.LoadManifest(manifestPath)
	if err != nil {
		return err
	}
	logger.Info("Manifest loaded",
		zap.String("path", manifestPath),
		zap.Int("clusters", len(manifest.Clusters)))

	exec := buildExecutor()
	opts := buildExecOptions()
	if runPattern != "" {
		opts.Pattern = runPattern
	}
	if runTimeout > 0 {
		opts.TimeoutMs = runTimeout.Milliseconds()
	}
	if runMaxRetries > 0 {
		opts.MaxRetries = runMaxRetries
	}
	if runContinue {
		opts.ContinueOnFailure = true
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	if runTUI {
		outcome, err := ui.RunDashboard(ctx, manifest.Clusters, exec, opts)
		if err != nil {
			return fmt.Errorf("dashboard failed: %w", err)
		}
		if outcome.Aborted {
			return fmt.Errorf("run aborted before completion")
		}
		if !outcome.Success {
			return fmt.Errorf("run failed: %d claims failed, %d errored",
				outcome.ClaimsFailed, outcome.ClaimsErrored)
		}
		return nil
	}

	summary := exec.ExecuteClusters(ctx, manifest.Clusters, opts)

	if jsonOut {
		data, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode summary: %w", err)
		}
		fmt.Println(string(data))
	} else {
		printRunSummary(summary)
	}

	if !summary.Success {
		return fmt.Errorf("run %s failed: %d claims failed, %d errored",
			shortID(summary.RunID), summary.ClaimsFailed, summary.ClaimsErrored)
	}
	return nil
}

func printRunSummary(summary *verify.ClusterExecutionSummary) {
	styles := ui.DefaultStyles()

	table := ui.NewTable(
		fmt.Sprintf("Verification run %s", shortID(summary.RunID)),
		ui.Column{Header: "CLUSTER"},
		ui.Column{Header: "STATUS", Status: true},
		ui.Column{Header: "CLAIMS", Align: ui.AlignRight},
		ui.Column{Header: "TESTS", Align: ui.AlignRight},
		ui.Column{Header: "FAILED", Align: ui.AlignRight},
		ui.Column{Header: "TIME", Align: ui.AlignRight},
	)
	for _, res := range summary.Clusters {
		status := "PASS"
		if !res.Success {
			status = "FAIL"
		}
		table.AddRow(
			res.ClusterID,
			status,
			fmt.Sprintf("%d", len(res.ClaimResults)),
			fmt.Sprintf("%d", res.TotalTests),
			fmt.Sprintf("%d", res.TotalFailed),
			fmt.Sprintf("%dms", res.DurationMs),
		)
	}
	fmt.Print(table.View(styles))

	totals := fmt.Sprintf("claims: %d passed, %d failed, %d skipped, %d errored (%dms)",
		summary.ClaimsPassed, summary.ClaimsFailed, summary.ClaimsSkipped,
		summary.ClaimsErrored, summary.TotalDurationMs)
	if summary.Success {
		fmt.Println(styles.Pass.Render("PASS"), styles.Muted.Render(totals))
	} else {
		fmt.Println(styles.Fail.Render("FAIL"), styles.Muted.Render(totals))
	}
}
