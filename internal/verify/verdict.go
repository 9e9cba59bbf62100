package verify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"crucible/internal/cluster"
	"crucible/internal/ledger"
	"crucible/internal/logging"
	"crucible/internal/xref"
)

// VerdictDeps carries the collaborators the verdict processor consumes.
// Scanner and Ledger are optional; a nil scanner (or a failed scan) degrades
// to whole-cluster fallback, and a nil ledger skips audit appends.
type VerdictDeps struct {
	Scanner     xref.Scanner
	Ledger      ledger.Ledger
	ProjectRoot string
	// Phase tags ledger entries with the pipeline phase that produced the
	// verified code.
	Phase string
}

// EvaluateVerdict derives a cluster verdict from claim results and the
// function-claim mapping.
//
// Stage A collects distinct /failed claim IDs in first-occurrence order;
// none means an immediate pass with no targeting. Stage B intersects each
// mapped function's claim refs with the violated set; functions with a
// non-empty intersection become re-injection targets, emitted in function
// name order so identical inputs always produce identical verdicts. Zero
// targets despite violations set FallbackTriggered: the caller must
// regenerate the whole module set.
func EvaluateVerdict(claimResults []ClaimResult, mapping FunctionClaimMapping) ClusterVerdict {
	violated := make([]string, 0)
	violatedSet := make(map[string]bool)
	for _, cr := range claimResults {
		if cr.Status != ClaimFailed || violatedSet[cr.ClaimID] {
			continue
		}
		violatedSet[cr.ClaimID] = true
		violated = append(violated, cr.ClaimID)
	}

	verdict := ClusterVerdict{
		Pass:                len(violated) == 0,
		ViolatedClaims:      violated,
		FunctionsToReinject: make([]FunctionToReinject, 0),
	}
	if verdict.Pass {
		return verdict
	}

	names := make([]string, 0, len(mapping))
	for name := range mapping {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fc := mapping[name]
		var overlap []string
		for _, ref := range fc.ClaimRefs {
			if violatedSet[ref] {
				overlap = append(overlap, ref)
			}
		}
		if len(overlap) == 0 {
			continue
		}
		verdict.FunctionsToReinject = append(verdict.FunctionsToReinject, FunctionToReinject{
			FunctionName:   name,
			FilePath:       fc.FilePath,
			ViolatedClaims: overlap,
			AllClaimRefs:   fc.ClaimRefs,
		})
	}

	verdict.FallbackTriggered = len(verdict.FunctionsToReinject) == 0
	return verdict
}

// ProcessClusterVerdict evaluates a cluster's verdict and records violated
// claims in the audit ledger.
//
// A passing Stage A skips scanning entirely. When violations exist, the
// scanner builds the function-claim mapping; a scan failure is logged and
// degrades to fallback, never an error return. One ledger entry is appended
// per violated claim; a failed append is logged and skipped without
// touching the remaining appends or the verdict.
func ProcessClusterVerdict(ctx context.Context, cl *cluster.ClusterDefinition, claimResults []ClaimResult, deps VerdictDeps) (*ClusterVerdict, error) {
	quick := EvaluateVerdict(claimResults, nil)
	if quick.Pass {
		logging.Verdict("Cluster %s: verdict pass (%d claims, none violated)", cl.ID, len(claimResults))
		logging.Audit().VerdictDecided(cl.ID, true, 0, 0)
		return &quick, nil
	}

	mapping := FunctionClaimMapping{}
	if deps.Scanner != nil {
		timer := logging.StartTimer(logging.CategoryXref, "verdict xref scan")
		scanned, err := deps.Scanner.Scan(ctx, deps.ProjectRoot)
		timer.Stop()
		if err != nil {
			logging.VerdictWarn("Cluster %s: xref scan failed, falling back to whole-cluster regeneration: %v", cl.ID, err)
		} else {
			mapping = scanned
		}
	}

	verdict := EvaluateVerdict(claimResults, mapping)

	logging.Verdict("Cluster %s: verdict fail, %d violated claims, %d re-injection targets, fallback=%v",
		cl.ID, len(verdict.ViolatedClaims), len(verdict.FunctionsToReinject), verdict.FallbackTriggered)
	logging.Audit().VerdictDecided(cl.ID, false, len(verdict.ViolatedClaims), len(verdict.FunctionsToReinject))
	for _, fn := range verdict.FunctionsToReinject {
		logging.VerdictDebug("Cluster %s: re-inject %s (%s), violated=%v refs=%v",
			cl.ID, fn.FunctionName, fn.FilePath, fn.ViolatedClaims, fn.AllClaimRefs)
		logging.Audit().ReinjectTarget(cl.ID, fn.FunctionName, fn.FilePath)
	}

	recordViolations(ctx, deps.Ledger, cl, verdict.ViolatedClaims, claimResults, deps.Phase)
	return &verdict, nil
}

// recordViolations appends one ledger entry per element of violated, in
// order. The list is taken literally: duplicates append duplicates. Append
// failures are logged and skipped; the remaining appends still run.
func recordViolations(ctx context.Context, led ledger.Ledger, cl *cluster.ClusterDefinition, violated []string, claimResults []ClaimResult, phase string) {
	if led == nil || len(violated) == 0 {
		return
	}

	for _, claimID := range violated {
		entry := ledger.Entry{
			ID:         uuid.NewString(),
			Category:   "testing",
			Constraint: fmt.Sprintf("claim %s violated in cluster %s", claimID, cl.Name),
			Rationale:  violationRationale(claimResults, claimID),
			Source:     "cluster:" + cl.ID,
			Confidence: "inferred",
			Phase:      phase,
			CreatedAt:  time.Now(),
		}
		if err := led.Append(ctx, entry); err != nil {
			logging.LedgerWarn("Cluster %s: ledger append for claim %s failed: %v", cl.ID, claimID, err)
			logging.Audit().LedgerAppend(claimID, false, err.Error())
			continue
		}
		logging.LedgerDebug("Cluster %s: recorded violation of claim %s", cl.ID, claimID)
		logging.Audit().LedgerAppend(claimID, true, "")
	}
}

// violationRationale summarizes why a claim is considered violated.
func violationRationale(claimResults []ClaimResult, claimID string) string {
	var failing []string
	for _, cr := range claimResults {
		if cr.ClaimID == claimID {
			failing = append(failing, cr.FailedTests...)
		}
	}
	if len(failing) == 0 {
		return "claim marked failed with no failing test names recorded"
	}
	return "failing tests: " + strings.Join(failing, ", ")
}
