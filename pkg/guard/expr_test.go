package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantPredicateStatus(t *testing.T) {
	tests := []struct {
		name  string
		where string
		found bool
		valid bool
	}{
		{
			name:  "simple equality",
			where: "tenant_id = $1",
			found: true,
			valid: true,
		},
		{
			name:  "qualified column",
			where: "o.tenant_id = $1",
			found: true,
			valid: true,
		},
		{
			name:  "reversed operands",
			where: "$1 = tenant_id",
			found: true,
			valid: true,
		},
		{
			name:  "conjoined with other predicates",
			where: "tenant_id = $1 AND status = $2 AND total > 100",
			found: true,
			valid: true,
		},
		{
			name:  "direct or adjacency",
			where: "tenant_id = $1 OR status = $2",
			found: true,
			valid: false,
		},
		{
			name:  "or inside parens with tenant",
			where: "(tenant_id = $1 OR status = $2) AND active",
			found: true,
			valid: false,
		},
		{
			name:  "safe nested or",
			where: "tenant_id = $1 AND (status = 'active' OR status = 'pending')",
			found: true,
			valid: true,
		},
		{
			name:  "safe copy plus or copy",
			where: "tenant_id = $1 AND (tenant_id = $2 OR status = $3)",
			found: true,
			valid: false,
		},
		{
			name:  "negated group",
			where: "NOT (tenant_id = $1)",
			found: true,
			valid: false,
		},
		{
			name:  "tautology or true",
			where: "tenant_id = $1 OR TRUE",
			found: true,
			valid: false,
		},
		{
			name:  "tautology or one equals one",
			where: "tenant_id = $1 OR 1 = 1",
			found: true,
			valid: false,
		},
		{
			name:  "tautology or is null",
			where: "tenant_id = $1 OR deleted_at IS NULL",
			found: true,
			valid: false,
		},
		{
			name:  "no tenant predicate",
			where: "status = $1 AND total > 0",
			found: false,
			valid: false,
		},
		{
			name:  "in list is not an equality",
			where: "tenant_id IN ($1, $2)",
			found: false,
			valid: false,
		},
		{
			name:  "between keeps its own and",
			where: "tenant_id = $1 AND total BETWEEN $2 AND $3",
			found: true,
			valid: true,
		},
		{
			name:  "like comparison",
			where: "tenant_id = $1 AND name LIKE 'acme%'",
			found: true,
			valid: true,
		},
		{
			name:  "function call operand",
			where: "tenant_id = $1 AND lower(name) = $2",
			found: true,
			valid: true,
		},
		{
			name:  "arithmetic operand",
			where: "tenant_id = $1 AND total * 1.1 > $2",
			found: true,
			valid: true,
		},
		{
			name:  "cast operand",
			where: "tenant_id = $1 AND created_at::date = $2",
			found: true,
			valid: true,
		},
		{
			name:  "deeply nested but conjunctive",
			where: "tenant_id = $1 AND (a = 1 AND (b = 2 OR c = 3))",
			found: true,
			valid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := parseWhereExpr(tt.where)
			require.NotNil(t, tree, "clause should be inside the supported grammar")

			status := tenantPredicateStatus(tree)
			assert.Equal(t, tt.found, status.found, "found")
			assert.Equal(t, tt.valid, status.valid(), "valid")
		})
	}
}

func TestParseWhereExprUnsupported(t *testing.T) {
	tests := []struct {
		name  string
		where string
	}{
		{"subquery in list", "tenant_id = $1 AND id IN (SELECT id FROM other)"},
		{"exists clause", "EXISTS (SELECT 1 FROM other)"},
		{"case expression", "CASE WHEN a THEN b ELSE c END = 1"},
		{"unterminated string", "name = 'abc"},
		{"dangling operator", "tenant_id ="},
		{"empty clause", ""},
		{"unbalanced parens", "(tenant_id = $1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, parseWhereExpr(tt.where))
		})
	}
}

func TestParseWhereExprUnparsedNeverValid(t *testing.T) {
	status := tenantPredicateStatus(nil)
	assert.False(t, status.found)
	assert.False(t, status.valid())

	// Textual fallback may mark the predicate as found, but a clause that
	// did not parse must never count as validly scoped.
	status.found = true
	assert.False(t, status.valid())
}

func TestMeasureComplexity(t *testing.T) {
	tests := []struct {
		name    string
		where   string
		complex bool
	}{
		{"empty clause", "", false},
		{"simple predicate", "tenant_id = $1", false},
		{"single shallow or", "tenant_id = $1 AND (a = 1 OR b = 2)", false},
		{"multiple ors", "tenant_id = $1 AND (a = 1 OR b = 2 OR c = 3)", true},
		{"deep nesting with or", "tenant_id = $1 AND (a = 1 AND (b = 2 AND (c = 3 OR d = 4)))", true},
		{"one or fanned over many ands", "tenant_id = $1 AND a = 1 AND b = 2 AND (c = 3 OR d = 4)", true},
		{"or only inside string literal", "tenant_id = $1 AND name = 'a or b'", false},
		{"deep nesting without or", "tenant_id = $1 AND (a = 1 AND (b = 2 AND (c = 3 AND d = 4)))", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := measureComplexity(tt.where)
			assert.Equal(t, tt.complex, c.isComplex())
		})
	}
}
