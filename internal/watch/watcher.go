// Package watch re-verifies clusters when their source files change. A
// fsnotify watcher covers the manifest and every cluster module directory;
// changes are debounced so a burst of saves triggers one run.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"crucible/internal/cluster"
	"crucible/internal/config"
	"crucible/internal/logging"
	"crucible/internal/verify"
)

const (
	// sweepInterval is how often settled events are collected.
	sweepInterval = 100 * time.Millisecond
	// defaultSettle is the quiet period a file must hold before it is
	// acted on, when the config carries no usable debounce.
	defaultSettle = 2 * time.Second
)

var skipDirs = map[string]bool{"vendor": true, "node_modules": true, "testdata": true}

// Runner re-executes verification for the affected clusters. Satisfied by
// the verify executor; the returned summary is never nil.
type Runner interface {
	ExecuteClusters(ctx context.Context, clusters []cluster.ClusterDefinition, opts verify.ExecOptions) *verify.ClusterExecutionSummary
}

// WatcherStats tracks daemon activity for the status surface and tests.
type WatcherStats struct {
	EventsSeen      int
	RunsTriggered   int
	RunFailures     int
	ManifestReloads int
	Errors          int
	LastEventTime   time.Time
	LastEventPath   string
	LastEventType   string
}

// Watcher owns the fsnotify loop. Create with NewWatcher, then Start; Stop
// drains the loop before returning.
type Watcher struct {
	mu           sync.RWMutex
	watcher      *fsnotify.Watcher
	runner       Runner
	opts         verify.ExecOptions
	manifestPath string
	manifest     *cluster.Manifest
	projectRoot  string
	extensions   map[string]bool
	debounceMap  map[string]time.Time
	settleDur    time.Duration
	stopCh       chan struct{}
	doneCh       chan struct{}
	running      bool

	stats WatcherStats
}

// NewWatcher loads the manifest at manifestPath and prepares a watcher
// that re-runs the affected clusters through runner on settled changes.
func NewWatcher(manifestPath string, runner Runner, cfg config.WatchConfig, opts verify.ExecOptions) (*Watcher, error) {
	man, err := cluster.LoadManifest(manifestPath)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	settle, err := time.ParseDuration(cfg.Debounce)
	if err != nil || settle <= 0 {
		settle = defaultSettle
	}

	exts := cfg.Extensions
	if len(exts) == 0 {
		exts = []string{".go", ".py", ".ts"}
	}
	extensions := make(map[string]bool, len(exts))
	for _, ext := range exts {
		extensions[ext] = true
	}

	return &Watcher{
		watcher:      fsw,
		runner:       runner,
		opts:         opts,
		manifestPath: filepath.Clean(manifestPath),
		manifest:     man,
		projectRoot:  man.ProjectRoot,
		extensions:   extensions,
		debounceMap:  make(map[string]time.Time),
		settleDur:    settle,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; the loop runs until Stop or ctx
// cancellation. Directories that cannot be watched are logged and skipped
// so a partially missing module layout still watches the rest.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.manifestPath)); err != nil {
		logging.WatchWarn("Cannot watch manifest directory: %v", err)
	}
	w.addModuleWatches()

	logging.Watch("Watching %d clusters (settle %v): %s", len(w.manifest.Clusters), w.settleDur, w.manifestPath)
	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the loop to drain.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.WatchError("Error closing watcher: %v", err)
	}
	logging.Watch("Watcher stopped")
}

// IsWatching reports whether the loop is running.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// GetStats returns a copy of the current statistics.
func (w *Watcher) GetStats() WatcherStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// ResetStats clears the statistics.
func (w *Watcher) ResetStats() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats = WatcherStats{}
}

// WatchedDirs returns the directories currently being watched.
func (w *Watcher) WatchedDirs() []string {
	return w.watcher.WatchList()
}

// addModuleWatches watches every cluster module directory recursively.
// fsnotify watches are not recursive, so each subdirectory is added.
func (w *Watcher) addModuleWatches() {
	w.mu.RLock()
	man := w.manifest
	root := w.projectRoot
	w.mu.RUnlock()

	seen := map[string]bool{}
	for _, cl := range man.Clusters {
		for _, module := range cl.Modules {
			dir := filepath.Join(root, module)
			if seen[dir] {
				continue
			}
			seen[dir] = true
			w.addDirTree(dir)
		}
	}
}

// addDirTree adds dir and its subdirectories to the watcher.
func (w *Watcher) addDirTree(dir string) {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			logging.WatchDebug("Skipping unwatchable path %s: %v", path, walkErr)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != dir && (strings.HasPrefix(name, ".") || skipDirs[name]) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			logging.WatchDebug("Cannot watch %s: %v", path, err)
		}
		return nil
	})
	if err != nil {
		logging.WatchWarn("Module directory %s not watched: %v", dir, err)
	}
}

// run is the event loop.
func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	sweepTicker := time.NewTicker(sweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Watch("Context cancelled")
			return

		case <-w.stopCh:
			logging.WatchDebug("Stop signal received")
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				logging.WatchDebug("Event channel closed")
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				logging.WatchDebug("Error channel closed")
				return
			}
			logging.WatchError("Watcher error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-sweepTicker.C:
			w.sweep(ctx)
		}
	}
}

// handleEvent records one filesystem event in the debounce map.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	var eventType string
	switch {
	case event.Op&fsnotify.Create != 0:
		eventType = "create"
	case event.Op&fsnotify.Write != 0:
		eventType = "modify"
	case event.Op&fsnotify.Remove != 0:
		eventType = "delete"
	case event.Op&fsnotify.Rename != 0:
		eventType = "rename"
	default:
		return
	}

	// New directories join the watch; their contents event on their own.
	if eventType == "create" {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.addDirTree(event.Name)
			return
		}
	}

	if !w.tracked(event.Name) {
		return
	}

	logging.WatchDebug("%s event for %s", eventType, event.Name)

	w.mu.Lock()
	w.stats.EventsSeen++
	w.stats.LastEventTime = time.Now()
	w.stats.LastEventPath = event.Name
	w.stats.LastEventType = eventType
	w.debounceMap[event.Name] = time.Now()
	w.mu.Unlock()
}

// tracked reports whether a path participates in debounced processing:
// the manifest itself, or a source file with a watched extension.
func (w *Watcher) tracked(path string) bool {
	if filepath.Clean(path) == w.manifestPath {
		return true
	}
	return w.extensions[filepath.Ext(path)]
}

// sweep collects events that have settled past the debounce window, then
// reloads the manifest or re-verifies the affected clusters.
func (w *Watcher) sweep(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for path, eventTime := range w.debounceMap {
		if now.Sub(eventTime) >= w.settleDur {
			settled = append(settled, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	if len(settled) == 0 {
		return
	}

	var sources []string
	manifestChanged := false
	for _, path := range settled {
		if filepath.Clean(path) == w.manifestPath {
			manifestChanged = true
		} else {
			sources = append(sources, path)
		}
	}

	if manifestChanged {
		w.reloadManifest()
	}
	if len(sources) > 0 {
		w.reverify(ctx, sources)
	}
}

// reloadManifest swaps in the manifest's current cluster set. A manifest
// that no longer loads keeps the previous set.
func (w *Watcher) reloadManifest() {
	man, err := cluster.LoadManifest(w.manifestPath)
	if err != nil {
		logging.WatchWarn("Manifest reload failed, keeping %d known clusters: %v", len(w.manifest.Clusters), err)
		w.mu.Lock()
		w.stats.Errors++
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	w.manifest = man
	w.projectRoot = man.ProjectRoot
	w.stats.ManifestReloads++
	w.mu.Unlock()

	w.addModuleWatches()
	logging.Watch("Manifest reloaded: %d clusters", len(man.Clusters))
}

// reverify maps the settled source paths to clusters by module prefix and
// runs just those clusters.
func (w *Watcher) reverify(ctx context.Context, sources []string) {
	affected := w.affectedClusters(sources)
	if len(affected) == 0 {
		logging.WatchDebug("%d settled changes outside any cluster module", len(sources))
		return
	}

	for _, cl := range affected {
		logging.Audit().WatchTrigger(cl.ID, sources[0])
	}
	logging.Watch("%d settled changes touch %d clusters, re-verifying", len(sources), len(affected))

	summary := w.runner.ExecuteClusters(ctx, affected, w.opts)

	w.mu.Lock()
	w.stats.RunsTriggered++
	if !summary.Success {
		w.stats.RunFailures++
	}
	w.mu.Unlock()

	logging.Watch("Re-verification run %s: success=%v passed=%d failed=%d errored=%d",
		summary.RunID, summary.Success, summary.ClaimsPassed, summary.ClaimsFailed, summary.ClaimsErrored)
}

// affectedClusters returns the clusters, in manifest order, whose module
// prefixes cover any of the given paths.
func (w *Watcher) affectedClusters(paths []string) []cluster.ClusterDefinition {
	w.mu.RLock()
	man := w.manifest
	root := w.projectRoot
	w.mu.RUnlock()

	var affected []cluster.ClusterDefinition
	for _, cl := range man.Clusters {
		if clusterCovers(cl, root, paths) {
			affected = append(affected, cl)
		}
	}
	return affected
}

// clusterCovers reports whether any path falls under one of the cluster's
// module directories.
func clusterCovers(cl cluster.ClusterDefinition, root string, paths []string) bool {
	for _, path := range paths {
		rel, err := filepath.Rel(root, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		rel = filepath.ToSlash(rel)
		for _, module := range cl.Modules {
			module = filepath.ToSlash(filepath.Clean(module))
			if rel == module || strings.HasPrefix(rel, module+"/") {
				return true
			}
		}
	}
	return false
}
