// Package xref extracts claim cross-references from source code.
//
// A cross-reference is a `CLAIM_REF: id1, id2` line inside a function's
// documentation comment. The scanner walks a project tree, parses every
// supported source file, and returns a map from function name to the file
// that declares it plus every claim ID its documentation references. The
// verdict layer consumes that map to turn violated claims into concrete
// re-injection targets.
package xref

import "context"

// FunctionClaims records where a function is declared and which claim IDs
// its documentation references. A function declared in several files keeps
// one entry; ClaimRefs is the union across declarations and FilePath is the
// first declaration seen.
type FunctionClaims struct {
	FilePath  string   `json:"file_path"`
	ClaimRefs []string `json:"claim_refs"`
}

// Scanner produces the function-to-claims mapping for a project tree.
// Implementations must be safe to call repeatedly and must treat individual
// file parse failures as skips, not scan failures.
type Scanner interface {
	Scan(ctx context.Context, projectRoot string) (map[string]FunctionClaims, error)
}
