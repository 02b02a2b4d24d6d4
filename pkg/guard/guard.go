// Package guard analyzes, validates, and rewrites SQL statements so that
// every statement touching a multi-tenant table executes under exactly one
// authoritative tenant id. The gateway, the MCP server, and the CLI all run
// statements through this one pipeline.
package guard

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Guard bundles the pipeline stages behind one entry point: parse, screen
// parameters, enforce policy, inject tenant context.
type Guard struct {
	parser   *Parser
	enforcer *PolicyEnforcer
	injector *TenantContextInjector
	logger   *zap.Logger
}

// CheckResult carries the analysis and the statement as it should execute.
type CheckResult struct {
	Query     *ParsedQuery
	Injection *InjectionResult
}

func New(tables *TableClassifier, logger *zap.Logger, sink AuditSink) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		parser:   NewParser(tables),
		enforcer: NewPolicyEnforcer(logger, sink),
		injector: NewTenantContextInjector(logger, sink),
		logger:   logger,
	}
}

// Prepare runs the full pipeline short of execution. On success the returned
// injection result holds the SQL text and parameters to hand to the driver.
// Health-check probes pass through untouched and without a tenant id; every
// other statement requires one.
func (g *Guard) Prepare(ctx context.Context, sqlText, tenantID, requestID string, params []any) (*CheckResult, error) {
	q := g.parser.Parse(sqlText)

	if flagged := ScreenParams(params); len(flagged) > 0 {
		v := newViolation(CodeParameterInjection,
			fmt.Sprintf("parameter $%d failed injection screening (%s)", flagged[0].ParamIndex, flagged[0].Fingerprint),
			q.raw)
		g.enforcer.recordBlocked(ctx, tenantID, requestID, q, v)
		return nil, v
	}

	if err := g.enforcer.Validate(ctx, q, tenantID, requestID); err != nil {
		return nil, err
	}

	if q.healthCheck {
		return &CheckResult{
			Query:     q,
			Injection: &InjectionResult{SQL: q.text, Params: params},
		}, nil
	}
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	inj, err := g.injector.EnsureTenantContext(ctx, q, tenantID, requestID, params)
	if err != nil {
		return nil, err
	}
	return &CheckResult{Query: q, Injection: inj}, nil
}

// Check validates a statement without rewriting it, for offline linting.
// The parsed analysis comes back even when validation fails.
func (g *Guard) Check(ctx context.Context, sqlText, tenantID string) (*ParsedQuery, error) {
	q := g.parser.Parse(sqlText)
	err := g.enforcer.Validate(ctx, q, tenantID, "")
	return q, err
}

// Parse exposes the analysis stage alone.
func (g *Guard) Parse(sqlText string) *ParsedQuery {
	return g.parser.Parse(sqlText)
}
