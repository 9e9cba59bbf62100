package xref

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"crucible/internal/config"
	"crucible/internal/logging"
)

// defaultParallelism bounds concurrent file parses when the config does not.
const defaultParallelism = 8

// Always skipped regardless of configuration. Hidden directories are
// skipped by name prefix during the walk.
var builtinExcludeDirs = []string{"vendor", "node_modules", "testdata"}

// DefaultScanner walks a project tree and builds the function-to-claims
// mapping consumed by verdict evaluation. File parsing fans out across a
// bounded errgroup with results merged under a mutex. Individual file parse
// failures are logged and skipped, never fatal to the scan.
type DefaultScanner struct {
	parsers     map[string]Parser // keyed by file extension
	excludeDirs map[string]bool
	parallelism int
	maxFileKB   int
}

var _ Scanner = (*DefaultScanner)(nil)

// NewScanner builds a scanner for the configured languages. Unknown language
// names are logged and ignored.
func NewScanner(cfg config.XrefConfig) *DefaultScanner {
	s := &DefaultScanner{
		parsers:     make(map[string]Parser),
		excludeDirs: make(map[string]bool),
		parallelism: cfg.Parallelism,
		maxFileKB:   cfg.MaxFileKB,
	}
	if s.parallelism < 1 {
		s.parallelism = defaultParallelism
	}
	for _, dir := range builtinExcludeDirs {
		s.excludeDirs[dir] = true
	}
	for _, dir := range cfg.ExcludeDirs {
		s.excludeDirs[dir] = true
	}

	for _, lang := range cfg.Languages {
		switch strings.ToLower(lang) {
		case "go":
			s.register(NewGoParser())
		case "python", "py":
			s.register(NewPythonParser())
		case "typescript", "ts", "javascript", "js":
			s.register(NewTypeScriptParser())
		default:
			logging.XrefWarn("Unknown xref language %q ignored", lang)
		}
	}
	return s
}

// register maps every extension a parser supports to that parser.
func (s *DefaultScanner) register(p Parser) {
	for _, ext := range p.SupportedExtensions() {
		s.parsers[ext] = p
	}
}

// Scan walks projectRoot, parses every supported source file, and returns
// the merged function-to-claims mapping. Only the walk itself or context
// cancellation fail the scan; unparsable files are skipped.
func (s *DefaultScanner) Scan(ctx context.Context, projectRoot string) (map[string]FunctionClaims, error) {
	start := time.Now()
	logging.Xref("Starting cross-reference scan: %s", projectRoot)

	files, err := s.collectFiles(projectRoot)
	if err != nil {
		logging.Get(logging.CategoryXref).Error("Workspace walk failed: %v", err)
		logging.Audit().XrefScan(projectRoot, 0, false, time.Since(start).Milliseconds())
		return nil, fmt.Errorf("xref scan: %w", err)
	}

	var (
		mu      sync.Mutex
		mapping = make(map[string]FunctionClaims)
		parsed  int
		skipped int
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.parallelism)
	for _, path := range files {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			refs, err := s.parseFile(path)
			if err != nil {
				logging.XrefWarn("Skipping unparsable file %s: %v", path, err)
				mu.Lock()
				skipped++
				mu.Unlock()
				return nil
			}
			mu.Lock()
			for _, ref := range refs {
				mergeFunction(mapping, ref, path)
			}
			parsed++
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		logging.Audit().XrefScan(projectRoot, len(mapping), false, time.Since(start).Milliseconds())
		return nil, fmt.Errorf("xref scan: %w", err)
	}

	logging.Xref("Cross-reference scan complete: %d files parsed, %d skipped, %d annotated functions in %v",
		parsed, skipped, len(mapping), time.Since(start))
	logging.Audit().XrefScan(projectRoot, len(mapping), true, time.Since(start).Milliseconds())
	return mapping, nil
}

// collectFiles walks the tree and gathers parseable file paths. Hidden,
// excluded, and oversized entries are skipped; unreadable subtrees are
// logged and skipped.
func (s *DefaultScanner) collectFiles(projectRoot string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(projectRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == projectRoot {
				return walkErr
			}
			logging.XrefWarn("Skipping unreadable path %s: %v", path, walkErr)
			return nil
		}

		name := d.Name()
		if d.IsDir() {
			if path == projectRoot {
				return nil
			}
			if strings.HasPrefix(name, ".") || s.excludeDirs[name] {
				return filepath.SkipDir
			}
			return nil
		}

		if _, ok := s.parsers[strings.ToLower(filepath.Ext(name))]; !ok {
			return nil
		}
		if s.maxFileKB > 0 {
			if info, ierr := d.Info(); ierr == nil && info.Size() > int64(s.maxFileKB)*1024 {
				logging.XrefDebug("Skipping oversized file %s (%d bytes)", path, info.Size())
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// parseFile reads and parses one file with the parser registered for its
// extension.
func (s *DefaultScanner) parseFile(path string) ([]FunctionRef, error) {
	parser := s.parsers[strings.ToLower(filepath.Ext(path))]
	if parser == nil {
		return nil, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parser.Parse(path, content)
}

// mergeFunction unions claim refs for a function declared in several places.
// FilePath keeps the first declaration seen so targets stay stable within
// one scan.
func mergeFunction(mapping map[string]FunctionClaims, ref FunctionRef, path string) {
	fc, ok := mapping[ref.Name]
	if !ok {
		fc = FunctionClaims{FilePath: path}
	}
	for _, claim := range ref.ClaimRefs {
		if !containsClaim(fc.ClaimRefs, claim) {
			fc.ClaimRefs = append(fc.ClaimRefs, claim)
		}
	}
	mapping[ref.Name] = fc
}

func containsClaim(refs []string, claim string) bool {
	for _, r := range refs {
		if r == claim {
			return true
		}
	}
	return false
}
