//go:build integration

package migrations

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenceworks/sqlfence/pkg/testhelpers"
)

// Test_001_AuditLogs verifies migration 001 creates the audit trail table.
func Test_001_AuditLogs(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	ctx := context.Background()

	var tableExists bool
	err := testDB.DB.Pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_name = 'audit_logs'
		)
	`).Scan(&tableExists)
	require.NoError(t, err, "Failed to query table information")
	assert.True(t, tableExists, "audit_logs table should exist")

	var dataType string
	err = testDB.DB.Pool.QueryRow(ctx, `
		SELECT data_type FROM information_schema.columns
		WHERE table_name = 'audit_logs' AND column_name = 'details'
	`).Scan(&dataType)
	require.NoError(t, err, "Failed to query column information")
	assert.Equal(t, "jsonb", dataType, "details column should be JSONB type")

	for _, index := range []string{
		"idx_audit_logs_occurred_at",
		"idx_audit_logs_event_type",
		"idx_audit_logs_tenant_id",
	} {
		var indexExists bool
		err = testDB.DB.Pool.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM pg_indexes
				WHERE tablename = 'audit_logs' AND indexname = $1
			)
		`, index).Scan(&indexExists)
		require.NoError(t, err, "Failed to query index information")
		assert.True(t, indexExists, "%s index should exist", index)
	}
}

// Test_001_AuditLogs_InsertAndQuery verifies events round-trip through the table.
func Test_001_AuditLogs_InsertAndQuery(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	ctx := context.Background()

	defer func() {
		_, _ = testDB.DB.Pool.Exec(ctx, "DELETE FROM audit_logs WHERE request_id = 'migration-test-req'")
	}()

	_, err := testDB.DB.Pool.Exec(ctx, `
		INSERT INTO audit_logs (event_type, tenant_id, request_id, severity, details)
		VALUES ('query_blocked', 'tenant-a', 'migration-test-req', 'critical',
			'{"violation": "or_bypass_detected", "query": "SELECT * FROM orders..."}'::jsonb)
	`)
	require.NoError(t, err, "Failed to insert audit event")

	var violation string
	err = testDB.DB.Pool.QueryRow(ctx, `
		SELECT details->>'violation' FROM audit_logs
		WHERE request_id = 'migration-test-req'
	`).Scan(&violation)
	require.NoError(t, err)
	assert.Equal(t, "or_bypass_detected", violation)

	var occurredSet bool
	err = testDB.DB.Pool.QueryRow(ctx, `
		SELECT occurred_at IS NOT NULL FROM audit_logs
		WHERE request_id = 'migration-test-req'
	`).Scan(&occurredSet)
	require.NoError(t, err)
	assert.True(t, occurredSet, "occurred_at should default to NOW()")
}
