package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fenceworks/sqlfence/pkg/audit"
	"github.com/fenceworks/sqlfence/pkg/repositories"
)

// fakeAuditLogRepo satisfies repositories.AuditLogRepository and records how
// the tool queried it.
type fakeAuditLogRepo struct {
	entries      []*repositories.AuditLogEntry
	err          error
	lastLimit    int
	lastTenantID string
	byTenant     bool
}

func (f *fakeAuditLogRepo) Record(ctx context.Context, event audit.SecurityEvent) error {
	return nil
}

func (f *fakeAuditLogRepo) ListRecent(ctx context.Context, limit int) ([]*repositories.AuditLogEntry, error) {
	f.lastLimit = limit
	f.byTenant = false
	return f.entries, f.err
}

func (f *fakeAuditLogRepo) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*repositories.AuditLogEntry, error) {
	f.lastLimit = limit
	f.lastTenantID = tenantID
	f.byTenant = true
	return f.entries, f.err
}

func (f *fakeAuditLogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func newAuditTestServer(t *testing.T, repo repositories.AuditLogRepository) *server.MCPServer {
	t.Helper()
	mcpServer := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
	RegisterAuditTools(mcpServer, &AuditToolDeps{
		Repo:   repo,
		Logger: zap.NewNop(),
	})
	return mcpServer
}

func TestRegisterAuditTools(t *testing.T) {
	mcpServer := newAuditTestServer(t, &fakeAuditLogRepo{})

	result := mcpServer.HandleMessage(context.Background(),
		[]byte(`{"jsonrpc":"2.0","method":"tools/list","id":1}`))

	resultBytes, err := json.Marshal(result)
	require.NoError(t, err)

	var response struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(resultBytes, &response))

	toolNames := make(map[string]bool)
	for _, tool := range response.Result.Tools {
		toolNames[tool.Name] = true
	}
	assert.True(t, toolNames["security_events"], "security_events tool should be registered")
}

func TestSecurityEventsTool_ReportsRecentEvents(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	repo := &fakeAuditLogRepo{
		entries: []*repositories.AuditLogEntry{
			{
				ID:         2,
				OccurredAt: now,
				EventType:  audit.EventQueryBlocked,
				TenantID:   "tenant-a",
				RequestID:  "req-2",
				Severity:   "high",
				Details:    map[string]any{"violation_code": "MISSING_TENANT_PREDICATE"},
			},
			{
				ID:         1,
				OccurredAt: now.Add(-time.Minute),
				EventType:  audit.EventTenantParamCorrected,
				TenantID:   "tenant-a",
				RequestID:  "req-1",
				Severity:   "medium",
			},
		},
	}

	mcpServer := newAuditTestServer(t, repo)
	result := callTool(t, mcpServer, "security_events", map[string]any{})
	require.False(t, result.IsError)

	var response securityEventsResponse
	require.NoError(t, json.Unmarshal([]byte(getTextContent(result)), &response))

	assert.Equal(t, defaultAuditEventsLimit, repo.lastLimit)
	assert.False(t, repo.byTenant)

	assert.Equal(t, 2, response.Count)
	require.Len(t, response.Events, 2)

	newest := response.Events[0]
	assert.Equal(t, "query_blocked", newest.EventType)
	assert.Equal(t, "tenant-a", newest.TenantID)
	assert.Equal(t, "req-2", newest.RequestID)
	assert.Equal(t, "high", newest.Severity)
	assert.Equal(t, "2026-03-14T09:30:00Z", newest.OccurredAt)
	assert.Equal(t, "MISSING_TENANT_PREDICATE", newest.Details["violation_code"])

	assert.Equal(t, "tenant_param_corrected", response.Events[1].EventType)
	assert.Empty(t, response.Events[1].Details)
}

func TestSecurityEventsTool_FiltersByTenant(t *testing.T) {
	repo := &fakeAuditLogRepo{}
	mcpServer := newAuditTestServer(t, repo)

	result := callTool(t, mcpServer, "security_events", map[string]any{
		"tenant_id": "tenant-b",
		"limit":     float64(5),
	})
	require.False(t, result.IsError)

	assert.True(t, repo.byTenant)
	assert.Equal(t, "tenant-b", repo.lastTenantID)
	assert.Equal(t, 5, repo.lastLimit)
}

func TestSecurityEventsTool_CapsLimit(t *testing.T) {
	repo := &fakeAuditLogRepo{}
	mcpServer := newAuditTestServer(t, repo)

	result := callTool(t, mcpServer, "security_events", map[string]any{
		"limit": float64(5000),
	})
	require.False(t, result.IsError)

	assert.Equal(t, maxAuditEventsLimit, repo.lastLimit)
}

func TestSecurityEventsTool_RejectsNonPositiveLimit(t *testing.T) {
	mcpServer := newAuditTestServer(t, &fakeAuditLogRepo{})

	result := callTool(t, mcpServer, "security_events", map[string]any{
		"limit": float64(0),
	})

	errResp := decodeErrorResult(t, result)
	assert.Equal(t, "invalid_parameters", errResp.Code)
}

func TestSecurityEventsTool_WithoutRepository(t *testing.T) {
	mcpServer := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
	RegisterAuditTools(mcpServer, &AuditToolDeps{Logger: zap.NewNop()})

	result := callTool(t, mcpServer, "security_events", map[string]any{})

	errResp := decodeErrorResult(t, result)
	assert.Equal(t, "audit_unavailable", errResp.Code)
}

func TestSecurityEventsTool_RepositoryFailure(t *testing.T) {
	repo := &fakeAuditLogRepo{err: errors.New("connection refused")}
	mcpServer := newAuditTestServer(t, repo)

	result := callTool(t, mcpServer, "security_events", map[string]any{})

	errResp := decodeErrorResult(t, result)
	assert.Equal(t, "audit_query_failed", errResp.Code)
}
