package guard

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViolationError(t *testing.T) {
	v := newViolation(CodeOrBypass, "OR condition can bypass tenant isolation", "SELECT * FROM orders WHERE tenant_id = $1 OR 1=1")

	msg := v.Error()
	assert.Contains(t, msg, "SECURITY BLOCK")
	assert.Contains(t, msg, "OR condition can bypass tenant isolation")
	assert.Contains(t, msg, "query:")
}

func TestViolationExcerptBounded(t *testing.T) {
	long := "SELECT * FROM orders WHERE tenant_id = $1 AND status IN ("
	for i := 0; i < 50; i++ {
		long += "'some-status-value', "
	}
	long += "'end')"

	v := newViolation(CodeMissingTenantPredicate, "statement on a tenant table must filter by tenant_id", long)
	assert.LessOrEqual(t, len(v.Excerpt), 110)
}

func TestIsViolation(t *testing.T) {
	v := newViolation(CodeTruncateProhibited, "TRUNCATE is not allowed through this gateway", "TRUNCATE TABLE orders")

	assert.True(t, IsViolation(v, CodeTruncateProhibited))
	assert.False(t, IsViolation(v, CodeDangerousOperation))

	wrapped := fmt.Errorf("execute: %w", v)
	assert.True(t, IsViolation(wrapped, CodeTruncateProhibited))

	var target *Violation
	require.True(t, errors.As(wrapped, &target))
	assert.Equal(t, CodeTruncateProhibited, target.Code)

	assert.False(t, IsViolation(errors.New("plain failure"), CodeTruncateProhibited))
	assert.False(t, IsViolation(nil, CodeTruncateProhibited))
}
