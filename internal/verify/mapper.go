package verify

import (
	"regexp"

	"crucible/internal/runner"
)

// MapClaimResults maps executed tests back to claims. Each claim ID becomes
// a case-insensitive whole-word pattern matched against every test's fully
// qualified name; matched tests are aggregated into one ClaimResult per
// claim, in claim input order.
//
// Status derivation per claim, in priority order: no matched tests means
// /skipped; any failed match means /failed; any passed match means /passed;
// matches that all resolved to neither (individually skipped tests) mean
// /skipped, since they produced no verification signal.
//
// Pure function: no logging, no collaborators, safe to call from tests with
// synthetic raw results.
func MapClaimResults(raw *runner.RawResult, claimIDs []string) []ClaimResult {
	var tests []runner.TestExecution
	if raw != nil {
		tests = raw.Tests
	}

	results := make([]ClaimResult, 0, len(claimIDs))
	for _, id := range claimIDs {
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(id) + `\b`)

		cr := ClaimResult{ClaimID: id}
		for _, t := range tests {
			if !re.MatchString(t.FullName) {
				continue
			}
			cr.TestCount++
			cr.DurationMs += t.DurationMs
			switch t.Status {
			case runner.TestPassed:
				cr.PassedCount++
			case runner.TestFailed:
				cr.FailedCount++
				cr.FailedTests = append(cr.FailedTests, t.FullName)
			}
		}

		switch {
		case cr.TestCount == 0:
			cr.Status = ClaimSkipped
		case cr.FailedCount > 0:
			cr.Status = ClaimFailed
		case cr.PassedCount > 0:
			cr.Status = ClaimPassed
		default:
			cr.Status = ClaimSkipped
		}
		results = append(results, cr)
	}
	return results
}
