package ledger

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
	"github.com/google/mangle/unionfind"

	"crucible/internal/logging"
)

// factsSchema declares the datalog projection of the ledger plus the
// derived rules shipped with it. claim_violation links violation entries
// to the claim they name; hot_claim surfaces claims violated in two or
// more entries. Every predicate carries a mode declaration because any of
// them can be the target of an ad-hoc query.
const factsSchema = `
# Ledger projection

Decl ledger_entry(Id, Category, Constraint, Source, Confidence, Phase) descr [mode("-", "-", "-", "-", "-", "-")].
Decl claim_violation(Entry, Claim) descr [mode("-", "-")].

# Derived rules

Decl violation_count(Claim, N) descr [mode("-", "-")].
violation_count(Claim, N) :-
    claim_violation(_, Claim) |>
    do fn:group_by(Claim),
    let N = fn:count().

Decl hot_claim(Claim) descr [mode("-")].
hot_claim(Claim) :- violation_count(Claim, N), N >= 2.
`

const defaultQueryTimeout = 5 * time.Second

// FactsEngine projects ledger entries into an in-memory Mangle store and
// answers ad-hoc datalog queries over them. Build one, Load the entry set
// once, then Query any declared or derived predicate.
type FactsEngine struct {
	mu           sync.Mutex
	store        factstore.ConcurrentFactStore
	programInfo  *analysis.ProgramInfo
	predIndex    map[string]ast.PredicateSym
	queryContext *mengine.QueryContext
}

// NewFactsEngine parses and analyzes the built-in schema over an empty
// fact store.
func NewFactsEngine() (*FactsEngine, error) {
	unit, err := parse.Unit(bytes.NewReader([]byte(factsSchema)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ledger schema: %w", err)
	}

	programInfo, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze ledger schema: %w", err)
	}

	predIndex := make(map[string]ast.PredicateSym, len(programInfo.Decls))
	predToDecl := make(map[ast.PredicateSym]*ast.Decl, len(programInfo.Decls))
	for sym, decl := range programInfo.Decls {
		predIndex[sym.Symbol] = sym
		predToDecl[sym] = decl
	}

	predToRules := make(map[ast.PredicateSym][]ast.Clause)
	for _, clause := range programInfo.Rules {
		predToRules[clause.Head.Predicate] = append(predToRules[clause.Head.Predicate], clause)
	}

	store := factstore.NewConcurrentFactStore(factstore.NewSimpleInMemoryStore())
	return &FactsEngine{
		store:       store,
		programInfo: programInfo,
		predIndex:   predIndex,
		queryContext: &mengine.QueryContext{
			PredToRules: predToRules,
			PredToDecl:  predToDecl,
			Store:       store,
		},
	}, nil
}

// Load projects entries into the fact store and evaluates the derived
// rules. Entries whose constraint names a violated claim also produce a
// claim_violation fact.
func (f *FactsEngine) Load(entries []Entry) error {
	timer := logging.StartTimer(logging.CategoryLedger, "FactsEngine.Load")
	defer timer.Stop()

	f.mu.Lock()
	defer f.mu.Unlock()

	entrySym := f.predIndex["ledger_entry"]
	violationSym := f.predIndex["claim_violation"]

	for _, e := range entries {
		f.store.Add(ast.Atom{
			Predicate: entrySym,
			Args: []ast.BaseTerm{
				ast.String(e.ID),
				ast.String(e.Category),
				ast.String(e.Constraint),
				ast.String(e.Source),
				ast.String(e.Confidence),
				ast.String(e.Phase),
			},
		})

		if claim, ok := violatedClaim(e.Constraint); ok {
			f.store.Add(ast.Atom{
				Predicate: violationSym,
				Args:      []ast.BaseTerm{ast.String(e.ID), ast.String(claim)},
			})
		}
	}

	if _, err := mengine.EvalProgramWithStats(f.programInfo, f.store); err != nil {
		return fmt.Errorf("failed to evaluate ledger rules: %w", err)
	}

	logging.LedgerDebug("Projected %d ledger entries into fact store", len(entries))
	return nil
}

// Query evaluates one Mangle atom, e.g. "hot_claim(C)" or
// "ledger_entry(Id, Cat, Con, Src, Conf, \"verify\")". Each variable in
// the atom becomes a binding column; one row per matching fact.
func (f *FactsEngine) Query(ctx context.Context, query string) ([]map[string]interface{}, error) {
	shape, err := parseFactQuery(query)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	decl, ok := f.queryContext.PredToDecl[shape.atom.Predicate]
	if !ok {
		f.mu.Unlock()
		return nil, fmt.Errorf("predicate %s is not declared", shape.atom.Predicate.Symbol)
	}
	if len(decl.Modes()) == 0 {
		f.mu.Unlock()
		return nil, fmt.Errorf("predicate %s has no modes declared", shape.atom.Predicate.Symbol)
	}
	mode := decl.Modes()[0]
	f.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultQueryTimeout)
		defer cancel()
	}

	start := time.Now()
	resultChan := make(chan []map[string]interface{}, 1)
	errChan := make(chan error, 1)

	go func() {
		var rows []map[string]interface{}
		err := f.queryContext.EvalQuery(shape.atom, mode, unionfind.New(), func(fact ast.Atom) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			row := make(map[string]interface{}, len(shape.bindings))
			for _, b := range shape.bindings {
				if b.Index >= len(fact.Args) {
					continue
				}
				row[b.Name] = termToValue(fact.Args[b.Index])
			}
			rows = append(rows, row)
			return nil
		})
		if err != nil {
			errChan <- err
			return
		}
		resultChan <- rows
	}()

	select {
	case rows := <-resultChan:
		logging.LedgerDebug("Datalog query %q: %d rows in %v", query, len(rows), time.Since(start))
		return rows, nil
	case err := <-errChan:
		return nil, err
	case <-ctx.Done():
		return nil, fmt.Errorf("datalog query timed out after %v: %w", time.Since(start), ctx.Err())
	}
}

// violatedClaim extracts the claim ID from a violation constraint of the
// form "claim <id> violated in cluster <name>".
func violatedClaim(constraint string) (string, bool) {
	rest, ok := strings.CutPrefix(constraint, "claim ")
	if !ok {
		return "", false
	}
	claim, _, ok := strings.Cut(rest, " violated in cluster ")
	if !ok || claim == "" {
		return "", false
	}
	return claim, true
}

type factBinding struct {
	Name  string
	Index int
}

type factQuery struct {
	atom     ast.Atom
	bindings []factBinding
}

func parseFactQuery(query string) (*factQuery, error) {
	clean := strings.TrimSpace(query)
	if clean == "" {
		return nil, fmt.Errorf("empty query")
	}

	if strings.HasPrefix(clean, "?") {
		clean = strings.TrimSpace(clean[1:])
	}
	if strings.HasSuffix(clean, ".") {
		clean = strings.TrimSpace(clean[:len(clean)-1])
	}

	atom, err := parse.Atom(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to parse query %q: %w", query, err)
	}

	bindings := make([]factBinding, 0, len(atom.Args))
	for idx, arg := range atom.Args {
		if variable, ok := arg.(ast.Variable); ok {
			if variable.Symbol == "_" {
				continue
			}
			bindings = append(bindings, factBinding{Name: variable.Symbol, Index: idx})
		}
	}

	return &factQuery{atom: atom, bindings: bindings}, nil
}

func termToValue(term ast.BaseTerm) interface{} {
	constant, ok := term.(ast.Constant)
	if !ok {
		return fmt.Sprintf("%v", term)
	}
	switch constant.Type {
	case ast.StringType, ast.NameType:
		return constant.Symbol
	case ast.NumberType:
		return constant.NumValue
	default:
		return constant.String()
	}
}
