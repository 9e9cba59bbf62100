package xref

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"crucible/internal/logging"
)

// PythonParser extracts CLAIM_REF annotations from Python functions using
// Tree-sitter. References may live in the function's docstring or in '#'
// comment lines stacked directly above the definition.
type PythonParser struct{}

// NewPythonParser creates a Python source parser.
func NewPythonParser() *PythonParser {
	return &PythonParser{}
}

// Language returns "python".
func (p *PythonParser) Language() string {
	return "python"
}

// SupportedExtensions returns Python source extensions.
func (p *PythonParser) SupportedExtensions() []string {
	return []string{".py"}
}

// Parse extracts annotated functions from Python source. A fresh Tree-sitter
// parser is built per call; sitter.Parser is not safe for concurrent use and
// scans parse files in parallel.
func (p *PythonParser) Parse(path string, content []byte) ([]FunctionRef, error) {
	start := time.Now()

	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	var refs []FunctionRef
	p.walkNode(tree.RootNode(), content, "", &refs)

	logging.XrefDebug("PythonParser: %s - %d annotated functions in %v",
		filepath.Base(path), len(refs), time.Since(start))
	return refs, nil
}

// walkNode recursively collects annotated function definitions. Functions
// inside a class are recorded under "Class.name".
func (p *PythonParser) walkNode(node *sitter.Node, content []byte, class string, refs *[]FunctionRef) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)

		switch child.Type() {
		case "function_definition":
			p.collectFunction(child, child, content, class, refs)

		case "decorated_definition":
			def := child.ChildByFieldName("definition")
			if def == nil {
				continue
			}
			// Comments sit above the decorators, not the definition.
			switch def.Type() {
			case "function_definition":
				p.collectFunction(child, def, content, class, refs)
			case "class_definition":
				p.walkClass(def, content, refs)
			}

		case "class_definition":
			p.walkClass(child, content, refs)

		default:
			p.walkNode(child, content, class, refs)
		}
	}
}

// walkClass descends into a class body with the class name as qualifier.
func (p *PythonParser) walkClass(node *sitter.Node, content []byte, refs *[]FunctionRef) {
	nameNode := node.ChildByFieldName("name")
	body := node.ChildByFieldName("body")
	if nameNode == nil || body == nil {
		return
	}
	class := string(content[nameNode.StartByte():nameNode.EndByte()])
	p.walkNode(body, content, class, refs)
}

// collectFunction reads the docstring and any comment block above outer,
// records the function if references are found, then descends into the body
// for nested definitions.
func (p *PythonParser) collectFunction(outer, def *sitter.Node, content []byte, class string, refs *[]FunctionRef) {
	nameNode := def.ChildByFieldName("name")
	if nameNode == nil {
		return
	}

	doc := docstringText(def, content)
	if comments := commentBlockAbove(outer, content); comments != "" {
		doc = comments + "\n" + doc
	}

	if claims := extractClaimRefs(doc); len(claims) > 0 {
		name := string(content[nameNode.StartByte():nameNode.EndByte()])
		if class != "" {
			name = class + "." + name
		}
		*refs = append(*refs, FunctionRef{Name: name, ClaimRefs: claims})
	}

	if body := def.ChildByFieldName("body"); body != nil {
		p.walkNode(body, content, class, refs)
	}
}

// docstringText returns the leading docstring of a function body with its
// quotes stripped, or "" when the body does not start with a string literal.
func docstringText(def *sitter.Node, content []byte) string {
	body := def.ChildByFieldName("body")
	if body == nil || body.NamedChildCount() == 0 {
		return ""
	}
	first := body.NamedChild(0)
	if first.Type() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}
	str := first.NamedChild(0)
	if str.Type() != "string" {
		return ""
	}

	text := string(content[str.StartByte():str.EndByte()])
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(text, q) && strings.HasSuffix(text, q) && len(text) >= 2*len(q) {
			return text[len(q) : len(text)-len(q)]
		}
	}
	return text
}

// commentBlockAbove gathers the comment lines stacked directly above a node,
// in source order. A blank line breaks the block.
func commentBlockAbove(node *sitter.Node, content []byte) string {
	var parts []string
	expect := int(node.StartPoint().Row)
	for sib := node.PrevNamedSibling(); sib != nil && sib.Type() == "comment"; sib = sib.PrevNamedSibling() {
		if int(sib.EndPoint().Row) < expect-1 {
			break
		}
		parts = append(parts, string(content[sib.StartByte():sib.EndByte()]))
		expect = int(sib.StartPoint().Row)
	}

	// Collected bottom-up; restore source order.
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "\n")
}
