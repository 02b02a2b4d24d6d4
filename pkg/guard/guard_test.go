package guard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestGuardPrepareCorrectsTenantParam(t *testing.T) {
	g := New(NewTableClassifier(), zaptest.NewLogger(t), nil)

	res, err := g.Prepare(context.Background(), "SELECT * FROM orders WHERE tenant_id = $1", "tenant-a", "req-1", []any{"tenant-b"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM orders WHERE tenant_id = $1", res.Injection.SQL)
	assert.Equal(t, []any{"tenant-a"}, res.Injection.Params)
	assert.True(t, res.Injection.Corrected)
	assert.Equal(t, RiskSafe, res.Query.SecurityRisk)
}

func TestGuardPrepareRejectsUnscopedStatement(t *testing.T) {
	g := New(NewTableClassifier(), zaptest.NewLogger(t), nil)

	_, err := g.Prepare(context.Background(), "SELECT * FROM orders", "tenant-a", "req-1", nil)
	var v *Violation
	require.ErrorAs(t, err, &v)
	assert.Equal(t, CodeMissingTenantPredicate, v.Code)
}

func TestGuardPrepareWrapsLiteralPredicate(t *testing.T) {
	g := New(NewTableClassifier(), zaptest.NewLogger(t), nil)

	res, err := g.Prepare(context.Background(), "SELECT * FROM orders WHERE tenant_id = 'tenant-b'", "tenant-a", "req-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM orders WHERE tenant_id = $1 AND (tenant_id = 'tenant-b')", res.Injection.SQL)
	assert.Equal(t, []any{"tenant-a"}, res.Injection.Params)
	assert.True(t, res.Injection.Injected)
}

func TestGuardPrepareHealthCheckNeedsNoTenant(t *testing.T) {
	g := New(NewTableClassifier(), zaptest.NewLogger(t), nil)

	res, err := g.Prepare(context.Background(), "SELECT 1", "", "req-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", res.Injection.SQL)
	assert.False(t, res.Injection.Injected)
}

func TestGuardPrepareRequiresTenant(t *testing.T) {
	g := New(NewTableClassifier(), zaptest.NewLogger(t), nil)

	_, err := g.Prepare(context.Background(), "SELECT * FROM orders WHERE tenant_id = $1", "", "req-1", []any{"x"})
	require.ErrorIs(t, err, ErrTenantRequired)
}

func TestGuardPrepareScreensParams(t *testing.T) {
	sink := &recordingSink{}
	g := New(NewTableClassifier(), zaptest.NewLogger(t), sink)

	_, err := g.Prepare(context.Background(), "SELECT * FROM orders WHERE tenant_id = $1 AND name = $2", "tenant-a", "req-1",
		[]any{"tenant-a", "' OR '1'='1"})
	var v *Violation
	require.ErrorAs(t, err, &v)
	assert.Equal(t, CodeParameterInjection, v.Code)
	require.Len(t, sink.blocked, 1)
	assert.Equal(t, CodeParameterInjection, sink.blocked[0])
}

func TestGuardCheck(t *testing.T) {
	g := New(NewTableClassifier(), zaptest.NewLogger(t), nil)
	ctx := context.Background()

	q, err := g.Check(ctx, "SELECT * FROM orders WHERE tenant_id = $1", "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, RiskSafe, q.SecurityRisk)

	q, err = g.Check(ctx, "DELETE FROM orders", "tenant-a")
	require.Error(t, err)
	require.NotNil(t, q)
	assert.Equal(t, RiskHigh, q.SecurityRisk)
	assert.True(t, IsViolation(err, CodeMissingTenantPredicate))
}

func TestGuardPrepareUsesCustomClassifier(t *testing.T) {
	tables := NewTableClassifier()
	tables.AddSystemTables("reference_data")
	g := New(tables, zaptest.NewLogger(t), nil)

	res, err := g.Prepare(context.Background(), "SELECT * FROM reference_data", "tenant-a", "req-1", nil)
	require.NoError(t, err)
	assert.False(t, res.Query.IsMultiTenant)
	assert.Equal(t, "SELECT * FROM reference_data", res.Injection.SQL)
}
