package guard

// RiskLevel classifies how likely a statement is to leak cross-tenant data.
// Levels are totally ordered by severity: RiskSafe < RiskLow < RiskMedium <
// RiskHigh < RiskCritical.
type RiskLevel int

const (
	RiskSafe RiskLevel = iota
	RiskLow
	RiskMedium
	RiskHigh
	RiskCritical
)

// String returns the human-readable name of the risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskSafe:
		return "SAFE"
	case RiskLow:
		return "LOW"
	case RiskMedium:
		return "MEDIUM"
	case RiskHigh:
		return "HIGH"
	case RiskCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// classifyRisk combines parser and bypass detector signals into a single risk
// level. The rules are evaluated in order; the first match wins:
//
//  1. Any OR-bypass pattern -> CRITICAL
//  2. Any UNION branch lacking a valid tenant predicate -> CRITICAL
//  3. Multi-tenant table with no tenant scoping at all -> HIGH
//  4. Multi-tenant table with complex boolean logic around a valid
//     predicate (multiple ORs or deep nesting) -> MEDIUM
//  5. Multi-tenant table, valid predicate, mildly complex logic -> LOW
//  6. Otherwise -> SAFE
func classifyRisk(q *ParsedQuery) RiskLevel {
	if q.bypass.hasOrBypass {
		return RiskCritical
	}
	if q.bypass.hasUnprotectedUnion {
		return RiskCritical
	}

	if !q.IsMultiTenant {
		return RiskSafe
	}

	scoped := q.HasTenantPredicate
	if q.StatementType == StatementInsert {
		// INSERT carries no WHERE clause; the tenant column in the column
		// list is its scoping equivalent.
		scoped = q.mentionsTenantColumn
	}

	if !scoped {
		return RiskHigh
	}

	if q.HasComplexBooleanLogic {
		// A valid predicate survives, but heavy OR usage or deep nesting
		// lowers confidence in the textual analysis.
		if q.complexity.orCount > 1 || q.complexity.maxDepth > 2 {
			return RiskMedium
		}
		return RiskLow
	}

	return RiskSafe
}
