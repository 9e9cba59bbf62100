package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"crucible/internal/watch"
)

// watchCmd re-verifies affected clusters on file changes.
var watchCmd = &cobra.Command{
	Use:   "watch [manifest]",
	Short: "Watch module directories and re-verify affected clusters",
	Long: `Watches every module directory named in the manifest and re-runs
verification for the clusters whose modules changed. Rapid saves are
debounced into a single run. Editing the manifest reloads the cluster
set without restarting.

Runs until interrupted with Ctrl-C.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	w, err := watch.NewWatcher(manifestArg(args), buildExecutor(), cfg.Watch, buildExecOptions())
	if err != nil {
		return fmt.Errorf("failed to build watcher: %w", err)
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	dirs := w.WatchedDirs()
	fmt.Printf("Watching %d directories (debounce %s). Ctrl-C to stop.\n",
		len(dirs), cfg.Watch.Debounce)
	logger.Info("Watch mode started", zap.Int("dirs", len(dirs)))

	<-ctx.Done()
	w.Stop()

	stats := w.GetStats()
	fmt.Printf("Stopped: %d events, %d runs (%d failed), %d manifest reloads\n",
		stats.EventsSeen, stats.RunsTriggered, stats.RunFailures, stats.ManifestReloads)
	return nil
}
