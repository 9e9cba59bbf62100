package xref

// FunctionRef is a single function or method declaration together with the
// claim IDs its documentation references. Parsers only report declarations
// that carry at least one reference.
type FunctionRef struct {
	Name      string
	ClaimRefs []string
}

// Parser extracts claim-referencing functions from one source file.
// Implementations exist for Go (go/ast) and for Python and
// TypeScript/JavaScript (Tree-sitter).
type Parser interface {
	// Parse extracts annotated function declarations from source code.
	// An empty result is normal for files without annotations.
	Parse(path string, content []byte) ([]FunctionRef, error)

	// SupportedExtensions returns the file extensions this parser handles,
	// dots included.
	SupportedExtensions() []string

	// Language returns a short language identifier for logging.
	Language() string
}
