package guard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestEnsureTenantContextCorrection(t *testing.T) {
	p := newTestParser()
	sink := &recordingSink{}
	j := NewTenantContextInjector(zaptest.NewLogger(t), sink)
	ctx := context.Background()

	q := p.Parse("SELECT * FROM orders WHERE tenant_id = $1")
	res, err := j.EnsureTenantContext(ctx, q, "tenant-a", "req-1", []any{"tenant-b"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM orders WHERE tenant_id = $1", res.SQL)
	assert.Equal(t, []any{"tenant-a"}, res.Params)
	assert.True(t, res.Corrected)
	assert.False(t, res.Injected)
	assert.Equal(t, []int{1}, sink.corrected)
}

func TestEnsureTenantContextCorrectionNoChange(t *testing.T) {
	p := newTestParser()
	sink := &recordingSink{}
	j := NewTenantContextInjector(zaptest.NewLogger(t), sink)

	q := p.Parse("SELECT * FROM orders WHERE tenant_id = $1 AND status = $2")
	res, err := j.EnsureTenantContext(context.Background(), q, "tenant-a", "req-1", []any{"tenant-a", "open"})
	require.NoError(t, err)
	assert.False(t, res.Corrected)
	assert.False(t, res.Injected)
	assert.Equal(t, []any{"tenant-a", "open"}, res.Params)
	assert.Empty(t, sink.corrected)
}

func TestEnsureTenantContextCorrectsEveryOccurrence(t *testing.T) {
	p := newTestParser()
	j := NewTenantContextInjector(zaptest.NewLogger(t), nil)

	q := p.Parse("SELECT id FROM orders WHERE tenant_id = $1 UNION SELECT id FROM invoices WHERE tenant_id = $2")
	res, err := j.EnsureTenantContext(context.Background(), q, "tenant-a", "req-1", []any{"tenant-b", "tenant-c"})
	require.NoError(t, err)
	assert.Equal(t, []any{"tenant-a", "tenant-a"}, res.Params)
	assert.True(t, res.Corrected)
}

func TestEnsureTenantContextParamOutOfRange(t *testing.T) {
	p := newTestParser()
	j := NewTenantContextInjector(zaptest.NewLogger(t), nil)

	q := p.Parse("SELECT * FROM orders WHERE tenant_id = $3")
	_, err := j.EnsureTenantContext(context.Background(), q, "tenant-a", "req-1", []any{"x"})
	require.ErrorIs(t, err, ErrTenantParamOutOfRange)
}

func TestEnsureTenantContextRequiresTenant(t *testing.T) {
	p := newTestParser()
	j := NewTenantContextInjector(zaptest.NewLogger(t), nil)

	q := p.Parse("SELECT * FROM orders WHERE tenant_id = $1")
	_, err := j.EnsureTenantContext(context.Background(), q, "", "req-1", []any{"x"})
	require.ErrorIs(t, err, ErrTenantRequired)
}

func TestEnsureTenantContextRewrites(t *testing.T) {
	tests := []struct {
		name       string
		sql        string
		params     []any
		wantSQL    string
		wantParams []any
	}{
		{
			name:       "wraps existing where",
			sql:        "SELECT * FROM orders WHERE status = $1",
			params:     []any{"active"},
			wantSQL:    "SELECT * FROM orders WHERE tenant_id = $2 AND (status = $1)",
			wantParams: []any{"active", "tenant-a"},
		},
		{
			name:       "wraps literal tenant predicate",
			sql:        "SELECT * FROM orders WHERE tenant_id = 'tenant-b'",
			params:     nil,
			wantSQL:    "SELECT * FROM orders WHERE tenant_id = $1 AND (tenant_id = 'tenant-b')",
			wantParams: []any{"tenant-a"},
		},
		{
			name:       "synthesizes where for bare select",
			sql:        "SELECT * FROM orders",
			params:     nil,
			wantSQL:    "SELECT * FROM orders WHERE tenant_id = $1",
			wantParams: []any{"tenant-a"},
		},
		{
			name:       "where lands before order by",
			sql:        "SELECT * FROM orders ORDER BY created_at LIMIT 5",
			params:     nil,
			wantSQL:    "SELECT * FROM orders WHERE tenant_id = $1 ORDER BY created_at LIMIT 5",
			wantParams: []any{"tenant-a"},
		},
		{
			name:       "wrapped where keeps trailing clauses",
			sql:        "SELECT * FROM orders WHERE status = $1 ORDER BY id",
			params:     []any{"open"},
			wantSQL:    "SELECT * FROM orders WHERE tenant_id = $2 AND (status = $1) ORDER BY id",
			wantParams: []any{"open", "tenant-a"},
		},
		{
			name:       "update gains where after set",
			sql:        "UPDATE orders SET total = $1",
			params:     []any{42},
			wantSQL:    "UPDATE orders SET total = $1 WHERE tenant_id = $2",
			wantParams: []any{42, "tenant-a"},
		},
		{
			name:       "update where lands before returning",
			sql:        "UPDATE orders SET total = $1 RETURNING id",
			params:     []any{42},
			wantSQL:    "UPDATE orders SET total = $1 WHERE tenant_id = $2 RETURNING id",
			wantParams: []any{42, "tenant-a"},
		},
		{
			name:       "delete gains where",
			sql:        "DELETE FROM orders",
			params:     nil,
			wantSQL:    "DELETE FROM orders WHERE tenant_id = $1",
			wantParams: []any{"tenant-a"},
		},
		{
			name:       "delete with existing where",
			sql:        "DELETE FROM orders WHERE id = $1",
			params:     []any{7},
			wantSQL:    "DELETE FROM orders WHERE tenant_id = $2 AND (id = $1)",
			wantParams: []any{7, "tenant-a"},
		},
		{
			name:       "group by select",
			sql:        "SELECT status, count(*) FROM orders GROUP BY status",
			params:     nil,
			wantSQL:    "SELECT status, count(*) FROM orders WHERE tenant_id = $1 GROUP BY status",
			wantParams: []any{"tenant-a"},
		},
	}

	p := newTestParser()
	j := NewTenantContextInjector(zaptest.NewLogger(t), nil)
	ctx := context.Background()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := p.Parse(tt.sql)
			res, err := j.EnsureTenantContext(ctx, q, "tenant-a", "req-1", tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, res.SQL)
			assert.Equal(t, tt.wantParams, res.Params)
			assert.True(t, res.Injected)
		})
	}
}

func TestEnsureTenantContextLeavesAlone(t *testing.T) {
	tests := []struct {
		name string
		sql  string
	}{
		{"insert", "INSERT INTO orders (id, tenant_id) VALUES ($1, $2)"},
		{"protected union", "SELECT id FROM orders WHERE tenant_id = $1 UNION SELECT id FROM invoices WHERE tenant_id = $2"},
		{"system table", "SELECT * FROM migrations"},
		{"health probe", "SELECT 1"},
	}

	p := newTestParser()
	j := NewTenantContextInjector(zaptest.NewLogger(t), nil)
	ctx := context.Background()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := p.Parse(tt.sql)
			params := []any{"tenant-a", "tenant-a"}
			res, err := j.EnsureTenantContext(ctx, q, "tenant-a", "req-1", params)
			require.NoError(t, err)
			assert.Equal(t, q.text, res.SQL)
			assert.False(t, res.Injected)
		})
	}
}

func TestEnsureTenantContextIdempotent(t *testing.T) {
	p := newTestParser()
	j := NewTenantContextInjector(zaptest.NewLogger(t), nil)
	ctx := context.Background()

	q := p.Parse("SELECT * FROM orders WHERE status = $1")
	first, err := j.EnsureTenantContext(ctx, q, "tenant-a", "req-1", []any{"open"})
	require.NoError(t, err)
	require.True(t, first.Injected)

	q2 := p.Parse(first.SQL)
	second, err := j.EnsureTenantContext(ctx, q2, "tenant-a", "req-2", first.Params)
	require.NoError(t, err)
	assert.Equal(t, first.SQL, second.SQL)
	assert.Equal(t, first.Params, second.Params)
	assert.False(t, second.Injected)
	assert.False(t, second.Corrected)
}

func TestEnsureTenantContextDoesNotMutateCallerParams(t *testing.T) {
	p := newTestParser()
	j := NewTenantContextInjector(zaptest.NewLogger(t), nil)

	params := []any{"tenant-b"}
	q := p.Parse("SELECT * FROM orders WHERE tenant_id = $1")
	res, err := j.EnsureTenantContext(context.Background(), q, "tenant-a", "req-1", params)
	require.NoError(t, err)
	assert.Equal(t, []any{"tenant-a"}, res.Params)
	assert.Equal(t, []any{"tenant-b"}, params)
}

func TestEnsureTenantContextNonStringParamCorrected(t *testing.T) {
	p := newTestParser()
	j := NewTenantContextInjector(zaptest.NewLogger(t), nil)

	q := p.Parse("SELECT * FROM orders WHERE tenant_id = $1")
	res, err := j.EnsureTenantContext(context.Background(), q, "tenant-a", "req-1", []any{123})
	require.NoError(t, err)
	assert.Equal(t, []any{"tenant-a"}, res.Params)
	assert.True(t, res.Corrected)
}
