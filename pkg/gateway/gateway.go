// Package gateway executes guard-approved SQL against PostgreSQL. Every
// statement entering through this package runs the full guard pipeline
// first, so nothing reaches the pool without tenant scoping. The gateway
// also feeds the query profiler and applies the configured per-call timeout.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/fenceworks/sqlfence/pkg/guard"
	"github.com/fenceworks/sqlfence/pkg/logging"
	"github.com/fenceworks/sqlfence/pkg/profiler"
)

// Pool is the slice of pgxpool.Pool the gateway needs. *database.DB
// satisfies it.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Operation is one statement inside a transaction.
type Operation struct {
	Query  string
	Params []any
}

// Config carries the gateway knobs.
type Config struct {
	// QueryTimeout bounds every entry point via context.WithTimeout.
	// Zero disables the deadline and leaves pool defaults in charge.
	QueryTimeout time.Duration
	// SetSessionTenant sets app.current_tenant_id inside transactions so
	// row-level security policies can read it.
	SetSessionTenant bool
}

// ConnectionGateway is the only execution path to the database.
type ConnectionGateway struct {
	pool     Pool
	guard    *guard.Guard
	profiler *profiler.Profiler
	logger   *zap.Logger
	cfg      Config
}

// New creates a gateway. The profiler may be nil to disable metrics.
func New(pool Pool, g *guard.Guard, prof *profiler.Profiler, logger *zap.Logger, cfg Config) *ConnectionGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionGateway{
		pool:     pool,
		guard:    g,
		profiler: prof,
		logger:   logger,
		cfg:      cfg,
	}
}

// ExecuteSQL validates, scopes, and runs one statement for the given tenant.
func (g *ConnectionGateway) ExecuteSQL(ctx context.Context, query string, params []any, tenantID string) (*Result, error) {
	requestID := uuid.NewString()

	checked, err := g.guard.Prepare(ctx, query, tenantID, requestID, params)
	if err != nil {
		return nil, err
	}

	ctx, cancel := g.applyTimeout(ctx)
	defer cancel()

	start := time.Now()
	rows, err := g.pool.Query(ctx, checked.Injection.SQL, checked.Injection.Params...)
	if err != nil {
		return nil, mapTimeout(fmt.Errorf("failed to execute query: %w", err))
	}
	result, err := collectResult(rows)
	if err != nil {
		return nil, mapTimeout(err)
	}

	g.observe(checked.Injection.SQL, tenantID, requestID, time.Since(start), result.RowCount)
	return result, nil
}

// ExecuteTransaction runs the operations atomically for the given tenant.
// Every operation is validated and scoped before any of them executes; the
// first runtime failure rolls the transaction back and comes back as a
// *TransactionError naming the failing operation.
func (g *ConnectionGateway) ExecuteTransaction(ctx context.Context, ops []Operation, tenantID string) ([]*Result, error) {
	if len(ops) == 0 {
		return nil, errors.New("transaction requires at least one operation")
	}
	requestID := uuid.NewString()

	prepared := make([]*guard.CheckResult, len(ops))
	for i, op := range ops {
		checked, err := g.guard.Prepare(ctx, op.Query, tenantID, requestID, op.Params)
		if err != nil {
			return nil, &TransactionError{Index: i, Err: err}
		}
		prepared[i] = checked
	}

	ctx, cancel := g.applyTimeout(ctx)
	defer cancel()

	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return nil, mapTimeout(fmt.Errorf("failed to begin transaction: %w", err))
	}
	// No-op once the transaction committed.
	defer func() { _ = tx.Rollback(ctx) }()

	if err := g.setSessionTenant(ctx, tx, tenantID); err != nil {
		return nil, err
	}

	results := make([]*Result, 0, len(ops))
	for i, checked := range prepared {
		start := time.Now()
		rows, err := tx.Query(ctx, checked.Injection.SQL, checked.Injection.Params...)
		if err != nil {
			return nil, &TransactionError{Index: i, Err: mapTimeout(err)}
		}
		result, err := collectResult(rows)
		if err != nil {
			return nil, &TransactionError{Index: i, Err: mapTimeout(err)}
		}
		results = append(results, result)
		g.observe(checked.Injection.SQL, tenantID, requestID, time.Since(start), result.RowCount)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapTimeout(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return results, nil
}

// WithTransaction leases one transaction and hands fn a client whose every
// Query runs the full guard pipeline. A nil return from fn commits; an error
// rolls back and comes back to the caller. The connection is released on
// every exit path.
func (g *ConnectionGateway) WithTransaction(ctx context.Context, tenantID string, fn func(*SecuredClient) error) error {
	if tenantID == "" {
		return guard.ErrTenantRequired
	}

	ctx, cancel := g.applyTimeout(ctx)
	defer cancel()

	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return mapTimeout(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := g.setSessionTenant(ctx, tx, tenantID); err != nil {
		return err
	}

	client := &SecuredClient{
		gateway:   g,
		tx:        tx,
		tenantID:  tenantID,
		requestID: uuid.NewString(),
	}
	if err := fn(client); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return mapTimeout(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// setSessionTenant sets the transaction-local tenant variable for row-level
// security policies. set_config with is_local=true resets at COMMIT/ROLLBACK,
// so nothing leaks to the next lease of the connection.
func (g *ConnectionGateway) setSessionTenant(ctx context.Context, tx pgx.Tx, tenantID string) error {
	if !g.cfg.SetSessionTenant || tenantID == "" {
		return nil
	}
	if _, err := tx.Exec(ctx, "SELECT set_config('app.current_tenant_id', $1, true)", tenantID); err != nil {
		return mapTimeout(fmt.Errorf("failed to set session tenant: %w", err))
	}
	return nil
}

func (g *ConnectionGateway) applyTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.cfg.QueryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.cfg.QueryTimeout)
}

func (g *ConnectionGateway) observe(query, tenantID, requestID string, took time.Duration, rowCount int64) {
	if g.profiler != nil {
		g.profiler.Record(profiler.QueryMetrics{
			Query:         query,
			ExecutionTime: took,
			RowCount:      rowCount,
			TenantID:      tenantID,
			RequestID:     requestID,
			Timestamp:     time.Now().UTC(),
		})
	}
	g.logger.Debug("Statement executed",
		zap.String("request_id", requestID),
		zap.String("tenant_id", tenantID),
		zap.Duration("took", took),
		zap.Int64("row_count", rowCount),
		zap.String("query", logging.SanitizeQuery(query)),
	)
}
