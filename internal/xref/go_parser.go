package xref

import (
	"go/ast"
	"go/parser"
	"go/token"
	"path/filepath"
	"time"

	"crucible/internal/logging"
)

// GoParser extracts CLAIM_REF annotations from Go function and method doc
// comments using the standard library AST.
type GoParser struct{}

// NewGoParser creates a Go source parser.
func NewGoParser() *GoParser {
	return &GoParser{}
}

// Language returns "go".
func (p *GoParser) Language() string {
	return "go"
}

// SupportedExtensions returns Go source extensions.
func (p *GoParser) SupportedExtensions() []string {
	return []string{".go"}
}

// Parse walks every top-level function declaration and collects the claim
// IDs referenced in its doc comment. Methods are recorded under
// "Receiver.Name" so the same method name on different types stays distinct.
func (p *GoParser) Parse(path string, content []byte) ([]FunctionRef, error) {
	start := time.Now()

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, content, parser.ParseComments)
	if err != nil {
		return nil, err
	}

	var refs []FunctionRef
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Doc == nil {
			continue
		}
		claims := extractClaimRefs(fn.Doc.Text())
		if len(claims) == 0 {
			continue
		}

		name := fn.Name.Name
		if fn.Recv != nil && len(fn.Recv.List) > 0 {
			if recv := receiverTypeName(fn.Recv.List[0].Type); recv != "" {
				name = recv + "." + name
			}
		}
		refs = append(refs, FunctionRef{Name: name, ClaimRefs: claims})
	}

	logging.XrefDebug("GoParser: %s - %d annotated functions in %v",
		filepath.Base(path), len(refs), time.Since(start))
	return refs, nil
}

// receiverTypeName unwraps a receiver type expression to its base type name,
// handling value, pointer, and generic receivers.
func receiverTypeName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return receiverTypeName(t.X)
	case *ast.IndexExpr:
		return receiverTypeName(t.X)
	case *ast.IndexListExpr:
		return receiverTypeName(t.X)
	}
	return ""
}
