package guard

import (
	"context"
	"regexp"

	"go.uber.org/zap"

	"github.com/fenceworks/sqlfence/pkg/logging"
)

// AuditSink receives security findings from the enforcement pipeline. The
// gateway, MCP server, and CLI all share one enforcer, so every front end
// produces the same audit trail.
type AuditSink interface {
	QueryBlocked(ctx context.Context, tenantID, requestID, query string, violation *Violation)
	RiskWarning(ctx context.Context, tenantID, requestID, query string, risk RiskLevel)
	TenantParamCorrected(ctx context.Context, tenantID, requestID, query string, paramIndex int)
}

// denyPatterns are operations refused unconditionally, for any caller and any
// table. Matched against lowercased text with string literals blanked.
var denyPatterns = []struct {
	pattern *regexp.Regexp
	label   string
}{
	{regexp.MustCompile(`\bdrop\b`), "DROP"},
	{regexp.MustCompile(`\bcreate\s+user\b`), "CREATE USER"},
	{regexp.MustCompile(`\balter\s+user\b`), "ALTER USER"},
	{regexp.MustCompile(`\bgrant\b`), "GRANT"},
	{regexp.MustCompile(`\brevoke\b`), "REVOKE"},
	{regexp.MustCompile(`\binformation_schema\b`), "information_schema access"},
	{regexp.MustCompile(`\bpg_catalog\b`), "pg_catalog access"},
	{regexp.MustCompile(`\bpg_roles\b`), "pg_roles access"},
	{regexp.MustCompile(`\bpg_user\b`), "pg_user access"},
	{regexp.MustCompile(`\bpg_shadow\b`), "pg_shadow access"},
	{regexp.MustCompile(`\bxp_cmdshell\b`), "xp_cmdshell"},
	{regexp.MustCompile(`\bpg_read_file\b`), "pg_read_file"},
	{regexp.MustCompile(`\bpg_ls_dir\b`), "pg_ls_dir"},
	{regexp.MustCompile(`\bpg_sleep\b`), "pg_sleep"},
	{regexp.MustCompile(`\blo_import\b`), "lo_import"},
	{regexp.MustCompile(`\blo_export\b`), "lo_export"},
	{regexp.MustCompile(`\bdblink\b`), "dblink"},
	{regexp.MustCompile(`\bcopy\b[\s\S]*\bprogram\b`), "COPY PROGRAM"},
}

var truncateWordPattern = regexp.MustCompile(`\btruncate\b`)

// enhancedPatterns catch tenant_id misuse that survives the structural
// checks: null-matching, inequality, negation, OR attachment, and IN lists
// that would let one query span several tenants.
var enhancedPatterns = []struct {
	pattern *regexp.Regexp
	label   string
}{
	{regexp.MustCompile(`\btenant_id\s+is\s+null\b`), "tenant_id IS NULL"},
	{regexp.MustCompile(`\btenant_id\s*(?:!=|<>)`), "tenant_id inequality"},
	{regexp.MustCompile(`\bnot\s+tenant_id\b`), "negated tenant_id"},
	{regexp.MustCompile(`\bnot\s*\(\s*tenant_id\s*=`), "negated tenant_id"},
	{regexp.MustCompile(`\bor\s+tenant_id\s*=`), "OR-attached tenant_id"},
	{regexp.MustCompile(`\btenant_id\s+in\s*\(`), "tenant_id IN list"},
}

// PolicyEnforcer applies the blocking rules to a parsed statement, in a fixed
// order so the most specific violation wins. A nil audit sink disables audit
// events but never enforcement.
type PolicyEnforcer struct {
	logger *zap.Logger
	audit  AuditSink
}

func NewPolicyEnforcer(logger *zap.Logger, sink AuditSink) *PolicyEnforcer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PolicyEnforcer{logger: logger, audit: sink}
}

// Validate returns nil when the statement may execute, or a *Violation
// explaining the refusal. The rule order is: absolute denylist, multiple
// statements, OR bypass, unprotected UNION, residual critical risk,
// statement-type rules, enhanced bypass sweep. Health-check probes skip
// everything past the denylist. Statements that pass with elevated risk are
// allowed but logged and audited.
func (e *PolicyEnforcer) Validate(ctx context.Context, q *ParsedQuery, tenantID, requestID string) error {
	if v := e.checkDenylist(q); v != nil {
		e.recordBlocked(ctx, tenantID, requestID, q, v)
		return v
	}
	if q.multiStatement {
		v := newViolation(CodeMultipleStatements, "multiple SQL statements in one call are not allowed", q.raw)
		e.recordBlocked(ctx, tenantID, requestID, q, v)
		return v
	}
	if q.healthCheck {
		return nil
	}

	if q.bypass.hasOrBypass {
		msg := "OR condition can bypass tenant isolation"
		if q.bypass.detail != "" {
			msg += ": " + q.bypass.detail
		}
		v := newViolation(CodeOrBypass, msg, q.raw)
		e.recordBlocked(ctx, tenantID, requestID, q, v)
		return v
	}
	if q.bypass.hasUnprotectedUnion {
		v := newViolation(CodeUnionUnprotected, "UNION branch without tenant isolation", q.raw)
		e.recordBlocked(ctx, tenantID, requestID, q, v)
		return v
	}
	if q.SecurityRisk == RiskCritical {
		v := newViolation(CodeCriticalRisk, "query classified as critical risk", q.raw)
		e.recordBlocked(ctx, tenantID, requestID, q, v)
		return v
	}

	switch q.StatementType {
	case StatementSelect, StatementUpdate, StatementDelete:
		if q.IsMultiTenant && !q.HasTenantPredicate {
			v := newViolation(CodeMissingTenantPredicate, "statement on a tenant table must filter by tenant_id", q.raw)
			e.recordBlocked(ctx, tenantID, requestID, q, v)
			return v
		}
	case StatementInsert:
		if q.IsMultiTenant && !q.mentionsTenantColumn {
			v := newViolation(CodeMissingTenantColumn, "INSERT into a tenant table must set tenant_id", q.raw)
			e.recordBlocked(ctx, tenantID, requestID, q, v)
			return v
		}
	case StatementTruncate:
		v := newViolation(CodeTruncateProhibited, "TRUNCATE is not allowed through this gateway", q.raw)
		e.recordBlocked(ctx, tenantID, requestID, q, v)
		return v
	}

	if q.IsMultiTenant {
		blanked := blankStrings(q.lower, q.shape)
		for _, p := range enhancedPatterns {
			if p.pattern.MatchString(blanked) {
				v := newViolation(CodeEnhancedBypass, "suspicious tenant_id usage: "+p.label, q.raw)
				e.recordBlocked(ctx, tenantID, requestID, q, v)
				return v
			}
		}
	}

	if q.SecurityRisk != RiskSafe {
		e.logger.Warn("query allowed with elevated risk",
			zap.String("risk", q.SecurityRisk.String()),
			zap.String("tenant_id", tenantID),
			zap.String("request_id", requestID),
			zap.String("query", logging.SanitizeQuery(q.raw)),
		)
		if e.audit != nil {
			e.audit.RiskWarning(ctx, tenantID, requestID, q.raw, q.SecurityRisk)
		}
	}
	return nil
}

func (e *PolicyEnforcer) checkDenylist(q *ParsedQuery) *Violation {
	blanked := blankStrings(q.lower, q.shape)
	for _, d := range denyPatterns {
		if d.pattern.MatchString(blanked) {
			return newViolation(CodeDangerousOperation, "dangerous operation: "+d.label, q.raw)
		}
	}
	if q.StatementType == StatementTruncate && len(q.Tables) == 0 {
		return newViolation(CodeDangerousOperation, "TRUNCATE without a target table", q.raw)
	}
	if semi := semicolonIndex(q.text, q.shape); semi >= 0 && truncateWordPattern.MatchString(blanked[semi:]) {
		return newViolation(CodeDangerousOperation, "chained TRUNCATE", q.raw)
	}
	if hasCommentMarker(q.text, q.shape) {
		return newViolation(CodeDangerousOperation, "SQL comment markers are not allowed", q.raw)
	}
	return nil
}

func (e *PolicyEnforcer) recordBlocked(ctx context.Context, tenantID, requestID string, q *ParsedQuery, v *Violation) {
	e.logger.Warn("query blocked",
		zap.String("violation", string(v.Code)),
		zap.String("statement_type", string(q.StatementType)),
		zap.String("tenant_id", tenantID),
		zap.String("request_id", requestID),
		zap.String("query", logging.SanitizeQuery(q.raw)),
	)
	if e.audit != nil {
		e.audit.QueryBlocked(ctx, tenantID, requestID, q.raw, v)
	}
}
