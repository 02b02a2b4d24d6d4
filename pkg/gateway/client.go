package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// SecuredClient runs statements inside one open transaction. Each Query call
// passes through the full guard pipeline, so code holding a client cannot
// escape tenant scoping any more than code calling the gateway directly.
type SecuredClient struct {
	gateway   *ConnectionGateway
	tx        pgx.Tx
	tenantID  string
	requestID string
}

// Query validates, scopes, and runs one statement on the transaction.
func (c *SecuredClient) Query(ctx context.Context, query string, params ...any) (*Result, error) {
	checked, err := c.gateway.guard.Prepare(ctx, query, c.tenantID, c.requestID, params)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := c.tx.Query(ctx, checked.Injection.SQL, checked.Injection.Params...)
	if err != nil {
		return nil, mapTimeout(fmt.Errorf("failed to execute query: %w", err))
	}
	result, err := collectResult(rows)
	if err != nil {
		return nil, mapTimeout(err)
	}

	c.gateway.observe(checked.Injection.SQL, c.tenantID, c.requestID, time.Since(start), result.RowCount)
	return result, nil
}

// TenantID reports which tenant the transaction is scoped to.
func (c *SecuredClient) TenantID() string { return c.tenantID }
