package guard

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/fenceworks/sqlfence/pkg/logging"
)

var (
	// ErrTenantRequired is returned when a statement reaches the pipeline
	// without an authoritative tenant id.
	ErrTenantRequired = errors.New("tenant id is required")

	// ErrTenantParamOutOfRange is returned when the statement binds
	// tenant_id to a placeholder with no corresponding parameter.
	ErrTenantParamOutOfRange = errors.New("tenant_id placeholder exceeds parameter count")
)

var (
	tenantParamPattern = regexp.MustCompile(`\btenant_id\s*=\s*\$(\d+)`)
	placeholderPattern = regexp.MustCompile(`\$(\d+)`)
)

// InjectionResult is the statement as it will actually execute.
type InjectionResult struct {
	SQL       string
	Params    []any
	Injected  bool
	Corrected bool
}

// TenantContextInjector guarantees that a validated statement executes under
// the caller's authoritative tenant id, no matter what the statement text
// says. Tenant values bound by the caller are overwritten, never trusted.
type TenantContextInjector struct {
	logger *zap.Logger
	audit  AuditSink
}

func NewTenantContextInjector(logger *zap.Logger, sink AuditSink) *TenantContextInjector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TenantContextInjector{logger: logger, audit: sink}
}

// EnsureTenantContext returns the statement to execute. When the text already
// binds tenant_id to placeholders, every such parameter is corrected to
// tenantID. Otherwise a multi-tenant SELECT, UPDATE, or DELETE is rewritten
// to carry WHERE tenant_id = $N as a top-level conjunct, with the original
// WHERE body parenthesized so no OR can widen the scope. INSERTs and UNION
// statements are never rewritten. The pass is idempotent: running it over its
// own output only re-applies the parameter correction.
func (j *TenantContextInjector) EnsureTenantContext(ctx context.Context, q *ParsedQuery, tenantID, requestID string, params []any) (*InjectionResult, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	res := &InjectionResult{SQL: q.text, Params: params}

	blanked := blankStrings(q.lower, q.shape)
	matches := tenantParamPattern.FindAllStringSubmatch(blanked, -1)
	if len(matches) > 0 {
		corrected, changed, err := j.correctParams(ctx, q, matches, tenantID, requestID, params)
		if err != nil {
			return nil, err
		}
		res.Params = corrected
		res.Corrected = changed
		return res, nil
	}

	if !q.IsMultiTenant || len(q.UnionBranches) > 0 {
		return res, nil
	}
	switch q.StatementType {
	case StatementSelect, StatementUpdate, StatementDelete:
	default:
		return res, nil
	}

	next := maxPlaceholder(blanked) + 1
	placeholder := "$" + strconv.Itoa(next)

	var rewritten string
	if q.HasWhereClause {
		body := strings.TrimSpace(q.text[q.whereBodyStart:q.whereBodyEnd])
		suffix := q.text[q.whereBodyEnd:]
		rewritten = q.text[:q.whereBodyStart] + " tenant_id = " + placeholder + " AND (" + body + ")"
		if strings.TrimSpace(suffix) != "" {
			rewritten += " " + strings.TrimSpace(suffix)
		}
	} else {
		at := clauseInsertionPoint(q.lower, q.shape)
		head := strings.TrimRight(q.text[:at], " \t\n\r")
		rewritten = head + " WHERE tenant_id = " + placeholder
		if tail := strings.TrimSpace(q.text[at:]); tail != "" {
			rewritten += " " + tail
		}
	}

	res.SQL = rewritten
	res.Params = append(append(make([]any, 0, len(params)+1), params...), tenantID)
	res.Injected = true
	j.logger.Debug("tenant predicate injected",
		zap.String("tenant_id", tenantID),
		zap.String("request_id", requestID),
		zap.String("statement_type", string(q.StatementType)),
	)
	return res, nil
}

// correctParams overwrites every parameter bound to a tenant_id equality.
// A mismatched caller value is corrected silently toward the authoritative
// id, with an audit event so the attempt is still visible.
func (j *TenantContextInjector) correctParams(ctx context.Context, q *ParsedQuery, matches [][]string, tenantID, requestID string, params []any) ([]any, bool, error) {
	out := append(make([]any, 0, len(params)), params...)
	changed := false
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 {
			return nil, false, fmt.Errorf("invalid tenant_id placeholder %q", m[0])
		}
		idx := n - 1
		if idx >= len(out) {
			return nil, false, fmt.Errorf("%w: $%d with %d parameters", ErrTenantParamOutOfRange, n, len(out))
		}
		if s, ok := out[idx].(string); ok && s == tenantID {
			continue
		}
		out[idx] = tenantID
		changed = true
		j.logger.Info("tenant parameter corrected",
			zap.Int("param_index", n),
			zap.String("tenant_id", tenantID),
			zap.String("request_id", requestID),
			zap.String("query", logging.SanitizeQuery(q.raw)),
		)
		if j.audit != nil {
			j.audit.TenantParamCorrected(ctx, tenantID, requestID, q.raw, n)
		}
	}
	return out, changed, nil
}

// clauseInsertionPoint finds where a synthesized WHERE belongs: before the
// first top-level trailing clause, or at the end of the statement. For
// UPDATE this lands after the SET list, for DELETE after the target table.
func clauseInsertionPoint(lower string, shape *textShape) int {
	at := len(lower)
	for _, term := range whereTerminators {
		if idx := indexKeyword(lower, shape, term, 0, true); idx >= 0 && idx < at {
			at = idx
		}
	}
	return at
}

func maxPlaceholder(blanked string) int {
	max := 0
	for _, m := range placeholderPattern.FindAllStringSubmatch(blanked, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n > max {
			max = n
		}
	}
	return max
}
