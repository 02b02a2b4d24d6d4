package guard

import "regexp"

// bypassSignals records scoping-evasion findings for one statement.
type bypassSignals struct {
	hasOrBypass         bool
	hasUnprotectedUnion bool
	detail              string
}

// Fallback patterns, applied only when the WHERE clause falls outside the
// expression grammar. They run over text with string literals blanked out.
var (
	tenantWordPattern  = regexp.MustCompile(`\btenant_id\b`)
	orAdjacencyPattern = regexp.MustCompile(`\btenant_id\s*=\s*(?:\$\d+|[a-z0-9_.]+)?\s*\bor\b|\bor\s+(?:[a-z0-9_]+\.)?tenant_id\s*=`)
	parenOrTenant      = regexp.MustCompile(`\([^()]*\bor\b[^()]*\btenant_id\b[^()]*\)|\([^()]*\btenant_id\b[^()]*\bor\b[^()]*\)`)
	orTruePattern      = regexp.MustCompile(`\bor\s+true\b`)
	orOneEqOnePattern  = regexp.MustCompile(`\bor\s+1\s*=\s*1\b`)
	orIsNullPattern    = regexp.MustCompile(`\bor\s+[a-z0-9_.]+\s+is\s+null\b`)
)

// detectBypass fills q.bypass. When the WHERE clause parsed, OR reachability
// comes from the expression tree, which lets safe shapes like
// tenant_id = $1 AND (a OR b) pass while catching the predicate inside any OR
// branch. Unparseable clauses fall back to the pattern checks.
func detectBypass(q *ParsedQuery) {
	for _, b := range q.UnionBranches {
		if !b.HasValidTenantPredicate {
			q.bypass.hasUnprotectedUnion = true
			break
		}
	}

	if !q.HasWhereClause || q.whereText == "" {
		return
	}

	if q.predicate.parsed {
		if q.predicate.found && q.predicate.orReachable {
			q.bypass.hasOrBypass = true
			q.bypass.detail = "tenant_id predicate is reachable through OR"
		}
		return
	}

	blanked := asciiLower(blankStrings(q.whereText, analyzeText(q.whereText)))
	if !tenantWordPattern.MatchString(blanked) {
		return
	}
	switch {
	case orAdjacencyPattern.MatchString(blanked):
		q.bypass.hasOrBypass = true
		q.bypass.detail = "tenant_id predicate adjacent to OR"
	case parenOrTenant.MatchString(blanked):
		q.bypass.hasOrBypass = true
		q.bypass.detail = "tenant_id predicate grouped with OR"
	case orTruePattern.MatchString(blanked), orOneEqOnePattern.MatchString(blanked), orIsNullPattern.MatchString(blanked):
		q.bypass.hasOrBypass = true
		q.bypass.detail = "tautology branch alongside tenant_id predicate"
	}
}
