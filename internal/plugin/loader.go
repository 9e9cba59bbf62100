// Package plugin loads the optional claim-pattern plugin: a Go source file
// interpreted at runtime by yaegi instead of compiled in, so projects can
// customize test selection without rebuilding the binary.
//
// Plugin code runs restricted:
//   - Only whitelisted stdlib imports (no os, os/exec, net, syscall, unsafe)
//   - Evaluation timeout enforced via context
//   - Failures degrade to the catch-all pattern, never to a crash
package plugin

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"crucible/internal/logging"
)

// claimPatternSymbol is the function every plugin must define.
const claimPatternSymbol = "main.ClaimPattern"

// Loader interprets claim-pattern plugin sources.
type Loader struct {
	allowedPackages map[string]bool
	evalTimeout     time.Duration
}

// NewLoader creates a loader whose plugin calls are bounded by evalTimeout.
func NewLoader(evalTimeout time.Duration) *Loader {
	return &Loader{
		evalTimeout: evalTimeout,
		allowedPackages: map[string]bool{
			"strings":       true,
			"strconv":       true,
			"fmt":           true,
			"math":          true,
			"regexp":        true,
			"encoding/json": true,
			"time":          true,
			"sort":          true,
			"bytes":         true,
			"path":          true,

			// Blocked (unsafe in plugin code):
			// "os" - filesystem access
			// "os/exec" - command execution
			// "net", "net/http" - network access
			// "syscall", "unsafe" - escape hatches
		},
	}
}

// LoadClaimPattern reads and interprets the plugin at path and returns it
// adapted to the verify layer's pattern hook: claim IDs are joined with
// commas on the way in, and an error or timeout yields "" so the caller
// falls back to the catch-all pattern. A load failure is a warning, not an
// error; the returned hook is nil and verification proceeds without it.
func (l *Loader) LoadClaimPattern(path string) func(claimIDs []string) string {
	if path == "" {
		return nil
	}

	fn, err := l.load(path)
	if err != nil {
		logging.PluginWarn("Claim-pattern plugin %s not loaded: %v", path, err)
		return nil
	}

	logging.Plugin("Claim-pattern plugin loaded: %s", path)
	return func(claimIDs []string) string {
		out, err := l.call(fn, strings.Join(claimIDs, ","))
		if err != nil {
			logging.PluginWarn("Claim-pattern plugin failed: %v", err)
			return ""
		}
		return out
	}
}

// load reads, validates, and evaluates the plugin source, returning the
// ClaimPattern function it defines.
func (l *Loader) load(path string) (func(string) (string, error), error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin source: %w", err)
	}
	code := string(source)

	if err := l.validateImports(code); err != nil {
		return nil, fmt.Errorf("invalid imports: %w", err)
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("failed to load stdlib: %w", err)
	}

	if _, err := i.Eval(wrapCode(code)); err != nil {
		return nil, fmt.Errorf("plugin evaluation failed: %w", err)
	}

	sym, err := i.Eval(claimPatternSymbol)
	if err != nil {
		return nil, fmt.Errorf("ClaimPattern function not found: %w", err)
	}

	fn, ok := sym.Interface().(func(string) (string, error))
	if !ok {
		return nil, fmt.Errorf("ClaimPattern has incorrect signature (expected: func(string) (string, error))")
	}
	return fn, nil
}

// call runs the plugin function under the eval timeout. The interpreted
// function cannot be cancelled mid-flight; a timed-out call is abandoned.
func (l *Loader) call(fn func(string) (string, error), input string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), l.evalTimeout)
	defer cancel()

	resultChan := make(chan string, 1)
	errChan := make(chan error, 1)

	go func() {
		result, err := fn(input)
		if err != nil {
			errChan <- err
			return
		}
		resultChan <- result
	}()

	select {
	case result := <-resultChan:
		return result, nil
	case err := <-errChan:
		return "", err
	case <-ctx.Done():
		return "", fmt.Errorf("plugin execution timed out: %w", ctx.Err())
	}
}

// validateImports checks that the code only imports allowed packages.
func (l *Loader) validateImports(code string) error {
	var imports []string

	inImportBlock := false
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "import (") {
			inImportBlock = true
			continue
		}
		if inImportBlock && strings.HasPrefix(trimmed, ")") {
			inImportBlock = false
			continue
		}

		if inImportBlock {
			if trimmed == "" || strings.HasPrefix(trimmed, "//") {
				continue
			}
			imports = append(imports, parseImportPath(trimmed))
		} else if strings.HasPrefix(trimmed, "import ") {
			imports = append(imports, parseImportPath(strings.TrimPrefix(trimmed, "import ")))
		}
	}

	var forbidden []string
	for _, pkg := range imports {
		if !l.allowedPackages[pkg] {
			forbidden = append(forbidden, pkg)
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden imports: %v", forbidden)
	}
	return nil
}

// parseImportPath strips an optional alias and the quotes from one import
// spec line.
func parseImportPath(spec string) string {
	spec = strings.TrimSpace(spec)
	if idx := strings.IndexByte(spec, '"'); idx > 0 {
		spec = spec[idx:]
	}
	return strings.Trim(spec, `"`)
}

// wrapCode wraps the plugin code in a main package if needed.
func wrapCode(code string) string {
	if strings.Contains(code, "package main") {
		return code
	}
	return "package main\n\n" + code
}
