package xref

import "strings"

// claimRefMarker introduces a cross-reference line inside function docs.
const claimRefMarker = "CLAIM_REF:"

// extractClaimRefs pulls claim IDs out of documentation text. A reference
// line has the form "CLAIM_REF: id1, id2" and must start the line once
// comment leaders are stripped. Comment leaders for every supported language
// are tolerated so parsers can pass raw comment text. IDs are returned in
// encounter order without deduplication; callers union them.
func extractClaimRefs(doc string) []string {
	var refs []string
	for _, line := range strings.Split(doc, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "//")
		line = strings.TrimPrefix(line, "/*")
		line = strings.TrimSuffix(line, "*/")
		line = strings.TrimPrefix(line, "#")
		line = strings.TrimPrefix(line, "*")
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, claimRefMarker) {
			continue
		}
		for _, id := range strings.Split(line[len(claimRefMarker):], ",") {
			id = strings.TrimSpace(id)
			if id != "" {
				refs = append(refs, id)
			}
		}
	}
	return refs
}
