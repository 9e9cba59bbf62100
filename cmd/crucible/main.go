package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"crucible/internal/cluster"
	"crucible/internal/config"
	"crucible/internal/ledger"
	"crucible/internal/logging"
	"crucible/internal/plugin"
	"crucible/internal/runner"
	"crucible/internal/verify"
)

var (
	// Global flags
	verbose   bool
	jsonOut   bool
	cfgPath   string
	workspace string

	// Built by the root pre-run for every invocation
	logger *zap.Logger
	cfg    *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "crucible",
	Short: "crucible - claim verification and triage engine",
	Long: `crucible is the verification half of a spec-driven code pipeline.

It executes cluster test suites, maps test outcomes back to spec claims,
retries infrastructure failures with exponential backoff, and derives
verdicts with function-level re-injection targets for failed claims.

Outcomes are persisted to an append-only audit ledger that can be queried
with Datalog (see 'crucible ledger query').`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if workspace == "" {
			wd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to resolve working directory: %w", err)
			}
			workspace = wd
		}

		// User settings feed the theme probe unless the env already decided.
		if uc, err := config.LoadUserConfig(filepath.Join(workspace, ".crucible", "config.json")); err == nil {
			if uc.Theme == "dark" && os.Getenv("CRUCIBLE_DARK_MODE") == "" {
				_ = os.Setenv("CRUCIBLE_DARK_MODE", "1")
			}
		}

		// Initialize logger
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if err := logging.Initialize(workspace); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		if err := logging.InitAudit(); err != nil {
			logger.Warn("Audit fact log unavailable", zap.Error(err))
		}

		path := cfgPath
		if path == "" {
			path = filepath.Join(workspace, ".crucible", "config.yaml")
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAudit()
		logging.CloseAll()
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of styled tables")
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Config file (default: <workspace>/.crucible/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")

	// Run flags
	runCmd.Flags().BoolVar(&runContinue, "continue-on-failure", false, "Keep running clusters after one fails")
	runCmd.Flags().StringVar(&runPattern, "pattern", "", "Override test selection for every cluster")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Per-cluster runner timeout (default from config)")
	runCmd.Flags().IntVar(&runMaxRetries, "max-retries", 0, "Retry budget for infrastructure failures (default from config)")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show the live run dashboard")

	// Verify flags
	verifyCmd.Flags().BoolVar(&verifyPretty, "pretty", false, "Render the verdict report as styled markdown")
	verifyCmd.Flags().StringVar(&verifyPhase, "phase", "", "Pipeline phase tag for ledger entries")

	// Scan flags
	scanCmd.Flags().StringVar(&scanClaim, "claim", "", "Only show functions referencing this claim")

	// Ledger flags
	ledgerListCmd.Flags().StringVar(&ledgerCategory, "category", "", "Filter by category")
	ledgerListCmd.Flags().StringVar(&ledgerPhase, "phase", "", "Filter by phase")
	ledgerListCmd.Flags().StringVar(&ledgerSource, "source", "", "Filter by source")
	ledgerListCmd.Flags().IntVar(&ledgerLimit, "limit", 20, "Maximum entries to show")
	ledgerCmd.AddCommand(ledgerListCmd)
	ledgerCmd.AddCommand(ledgerQueryCmd)

	// Add commands to root
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolvePath anchors a relative path at the workspace.
func resolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workspace, p)
}

// manifestArg picks the manifest path from the first positional argument,
// falling back to the conventional location under the workspace.
func manifestArg(args []string) string {
	if len(args) > 0 {
		return resolvePath(args[0])
	}
	return resolvePath(cluster.DefaultManifestPath)
}

func buildExecutor() *verify.Executor {
	return verify.NewExecutorFromConfig(runner.NewGoTestRunner(cfg.Runner), cfg.Retry)
}

// buildExecOptions maps the loaded config onto run options and loads the
// optional claim-pattern plugin. Plugin load failures degrade to the
// catch-all pattern, they never block a run.
func buildExecOptions() verify.ExecOptions {
	opts := verify.ExecOptions{
		WorkingDir:        resolvePath(cfg.Runner.WorkingDir),
		TimeoutMs:         cfg.GetRunnerTimeout().Milliseconds(),
		MaxRetries:        cfg.Retry.MaxRetries,
		ContinueOnFailure: cfg.Orchestrator.ContinueOnFailure,
	}
	if cfg.Plugin.PatternPlugin != "" {
		loader := plugin.NewLoader(cfg.GetPluginEvalTimeout())
		opts.ClaimPatternFn = loader.LoadClaimPattern(resolvePath(cfg.Plugin.PatternPlugin))
	}
	return opts
}

// openLedger opens the configured audit ledger. Returns nil without error
// when the ledger is disabled.
func openLedger() (*ledger.SQLiteLedger, error) {
	if !cfg.IsLedgerEnabled() {
		return nil, nil
	}
	return ledger.NewSQLiteLedger(resolvePath(cfg.Ledger.DatabasePath))
}

// signalContext derives a context cancelled by SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			logger.Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// shortID trims a run UUID for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
