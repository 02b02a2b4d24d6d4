package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/fenceworks/sqlfence/pkg/repositories"
)

// defaultAuditEventsLimit caps security_events responses when no limit is given.
const defaultAuditEventsLimit = 20

// maxAuditEventsLimit bounds how many rows one call may pull from audit_logs.
const maxAuditEventsLimit = 200

// AuditToolDeps defines dependencies for the audit log tool.
type AuditToolDeps struct {
	Repo   repositories.AuditLogRepository
	Logger *zap.Logger
}

// RegisterAuditTools registers security_events with the MCP server.
func RegisterAuditTools(mcpServer *server.MCPServer, deps *AuditToolDeps) {
	registerSecurityEventsTool(mcpServer, deps)
}

// securityEventEntry is one persisted audit row in the response.
type securityEventEntry struct {
	EventType  string         `json:"event_type"`
	TenantID   string         `json:"tenant_id,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	Severity   string         `json:"severity"`
	OccurredAt string         `json:"occurred_at"`
	Details    map[string]any `json:"details,omitempty"`
}

// securityEventsResponse is the response format for security_events.
type securityEventsResponse struct {
	Events []securityEventEntry `json:"events"`
	Count  int                  `json:"count"`
}

// registerSecurityEventsTool registers the security_events tool.
func registerSecurityEventsTool(mcpServer *server.MCPServer, deps *AuditToolDeps) {
	tool := mcp.NewTool(
		"security_events",
		mcp.WithDescription(`Report recently persisted security audit events: blocked statements,
parameter corrections and risk warnings. Statement excerpts in the event details
were sanitized before they were stored.`),
		mcp.WithNumber("limit",
			mcp.Description(fmt.Sprintf("Maximum events to return (default %d, max %d)",
				defaultAuditEventsLimit, maxAuditEventsLimit))),
		mcp.WithString("tenant_id",
			mcp.Description("Return only events recorded for this tenant")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	handler := func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Repo == nil {
			return NewErrorResult("audit_unavailable", "audit event persistence is not enabled"), nil
		}

		args, _ := request.Params.Arguments.(map[string]any)

		limit := defaultAuditEventsLimit
		if limitVal, ok := args["limit"].(float64); ok {
			if limitVal < 1 {
				return NewErrorResultWithDetails("invalid_parameters",
					"limit must be a positive number",
					map[string]any{"parameter": "limit", "actual_value": limitVal}), nil
			}
			limit = int(limitVal)
			if limit > maxAuditEventsLimit {
				limit = maxAuditEventsLimit
			}
		}
		tenantID, _ := args["tenant_id"].(string)

		var (
			entries []*repositories.AuditLogEntry
			err     error
		)
		if tenantID != "" {
			entries, err = deps.Repo.ListByTenant(ctx, tenantID, limit)
		} else {
			entries, err = deps.Repo.ListRecent(ctx, limit)
		}
		if err != nil {
			deps.Logger.Error("Failed to list security events", zap.Error(err))
			return NewErrorResult("audit_query_failed", "could not read the audit log"), nil
		}

		response := securityEventsResponse{
			Events: make([]securityEventEntry, 0, len(entries)),
		}
		for _, e := range entries {
			response.Events = append(response.Events, securityEventEntry{
				EventType:  string(e.EventType),
				TenantID:   e.TenantID,
				RequestID:  e.RequestID,
				Severity:   e.Severity,
				OccurredAt: e.OccurredAt.Format(time.RFC3339),
				Details:    e.Details,
			})
		}
		response.Count = len(response.Events)

		responseJSON, err := json.Marshal(response)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal response: %w", err)
		}
		return mcp.NewToolResultText(string(responseJSON)), nil
	}

	mcpServer.AddTool(tool, handler)
}
