package xref

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"crucible/internal/logging"
)

// TypeScriptParser extracts CLAIM_REF annotations from TypeScript and
// JavaScript functions using Tree-sitter. References live in block or line
// comments directly above the declaration.
type TypeScriptParser struct{}

// NewTypeScriptParser creates a TypeScript/JavaScript source parser.
func NewTypeScriptParser() *TypeScriptParser {
	return &TypeScriptParser{}
}

// Language returns "ts".
func (p *TypeScriptParser) Language() string {
	return "ts"
}

// SupportedExtensions returns TypeScript and JavaScript extensions.
func (p *TypeScriptParser) SupportedExtensions() []string {
	return []string{".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs"}
}

// Parse extracts annotated functions from TypeScript/JavaScript source.
// The grammar is chosen by extension; a fresh Tree-sitter parser is built
// per call because sitter.Parser is not safe for concurrent use.
func (p *TypeScriptParser) Parse(path string, content []byte) ([]FunctionRef, error) {
	start := time.Now()

	lang := typescript.GetLanguage()
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".js" || ext == ".jsx" || ext == ".mjs" || ext == ".cjs" {
		lang = javascript.GetLanguage()
	}

	parser := sitter.NewParser()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	var refs []FunctionRef
	p.walkNode(tree.RootNode(), content, "", &refs)

	logging.XrefDebug("TypeScriptParser: %s - %d annotated functions in %v",
		filepath.Base(path), len(refs), time.Since(start))
	return refs, nil
}

// walkNode recursively collects annotated declarations. Methods inside a
// class are recorded under "Class.name".
func (p *TypeScriptParser) walkNode(node *sitter.Node, content []byte, class string, refs *[]FunctionRef) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)

		switch child.Type() {
		case "function_declaration", "method_definition":
			p.collect(child, content, class, refs)

		case "class_declaration":
			nameNode := child.ChildByFieldName("name")
			body := child.ChildByFieldName("body")
			if nameNode == nil || body == nil {
				continue
			}
			name := string(content[nameNode.StartByte():nameNode.EndByte()])
			p.walkNode(body, content, name, refs)

		default:
			p.walkNode(child, content, class, refs)
		}
	}
}

// collect records one declaration when the comment block above it carries
// references. Exported declarations are wrapped in an export_statement, so
// the comment sits above the wrapper.
func (p *TypeScriptParser) collect(node *sitter.Node, content []byte, class string, refs *[]FunctionRef) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}

	anchor := node
	if parent := node.Parent(); parent != nil && parent.Type() == "export_statement" {
		anchor = parent
	}

	claims := extractClaimRefs(commentBlockAbove(anchor, content))
	if len(claims) == 0 {
		return
	}

	name := string(content[nameNode.StartByte():nameNode.EndByte()])
	if class != "" {
		name = class + "." + name
	}
	*refs = append(*refs, FunctionRef{Name: name, ClaimRefs: claims})
}
