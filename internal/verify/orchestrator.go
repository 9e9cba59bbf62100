package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"crucible/internal/cluster"
	"crucible/internal/logging"
)

// ExecuteClusters runs every cluster strictly in input order and aggregates
// the outcome under a fresh run ID.
//
// Each cluster goes through the retry controller inside a panic-isolating
// wrapper; a collaborator panic or an unhandled error becomes per-claim
// /error results for that cluster, never an escape. A cluster that did not
// succeed stops the run unless ContinueOnFailure is set, so the summary may
// record fewer clusters than were given. Run-wide Success is true iff no
// recorded claim failed and none errored.
//
// Always returns a summary, never an error.
func (e *Executor) ExecuteClusters(ctx context.Context, clusters []cluster.ClusterDefinition, opts ExecOptions) *ClusterExecutionSummary {
	summary := &ClusterExecutionSummary{
		RunID:    uuid.NewString(),
		Clusters: make([]*ClusterExecutionResult, 0, len(clusters)),
	}
	progress := opts.Progress
	if progress == nil {
		progress = logging.Orchestrator
	}

	logging.Orchestrator("Run %s: %d clusters queued", summary.RunID, len(clusters))
	logging.Audit().RunStart(summary.RunID, len(clusters))
	audit := logging.AuditWithRun(summary.RunID)

	start := time.Now()
	for i := range clusters {
		cl := &clusters[i]
		result := e.executeClusterSafe(ctx, cl, opts)
		summary.Clusters = append(summary.Clusters, result)

		for _, cr := range result.ClaimResults {
			progress("[%s] claim %s: %s", cl.ID, cr.ClaimID, cr.Status)
			logging.OrchestratorDebug("Cluster %s: claim %s => %s (tests=%d passed=%d failed=%d)",
				cl.ID, cr.ClaimID, cr.Status, cr.TestCount, cr.PassedCount, cr.FailedCount)
			audit.ClaimOutcome(cl.ID, cr.ClaimID, string(cr.Status))
		}

		if !result.Success && !opts.ContinueOnFailure {
			logging.OrchestratorWarn("Run %s: cluster %s did not succeed, stopping after %d/%d clusters",
				summary.RunID, cl.ID, i+1, len(clusters))
			logging.Audit().RunStopped(summary.RunID, cl.ID)
			break
		}
	}
	summary.TotalDurationMs = time.Since(start).Milliseconds()

	for _, res := range summary.Clusters {
		for _, cr := range res.ClaimResults {
			switch cr.Status {
			case ClaimPassed:
				summary.ClaimsPassed++
			case ClaimFailed:
				summary.ClaimsFailed++
			case ClaimSkipped:
				summary.ClaimsSkipped++
			case ClaimErrored:
				summary.ClaimsErrored++
			}
		}
	}
	summary.Success = summary.ClaimsFailed == 0 && summary.ClaimsErrored == 0

	logging.Orchestrator("Run %s: success=%v passed=%d failed=%d skipped=%d errored=%d (%dms)",
		summary.RunID, summary.Success, summary.ClaimsPassed, summary.ClaimsFailed,
		summary.ClaimsSkipped, summary.ClaimsErrored, summary.TotalDurationMs)
	logging.Audit().RunComplete(summary.RunID, summary.Success, summary.TotalDurationMs)
	return summary
}

// executeClusterSafe isolates one cluster's execution. Panics and unhandled
// errors from collaborators are folded into a synthesized failed result so
// the run loop always gets something to record.
func (e *Executor) executeClusterSafe(ctx context.Context, cl *cluster.ClusterDefinition, opts ExecOptions) (result *ClusterExecutionResult) {
	defer func() {
		if r := recover(); r != nil {
			logging.OrchestratorError("PANIC RECOVERED in cluster %s: %v", cl.ID, r)
			result = errorResult(cl, fmt.Sprintf("panic during cluster execution: %v", r), 0)
		}
	}()

	res, err := e.ExecuteClusterWithRetry(ctx, cl, opts)
	if err != nil {
		logging.OrchestratorError("Cluster %s: unhandled execution error: %v", cl.ID, err)
		return errorResult(cl, err.Error(), 0)
	}
	if res == nil {
		return errorResult(cl, "executor returned no result", 0)
	}
	return res
}
