package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/fenceworks/sqlfence/pkg/logging"
	"github.com/fenceworks/sqlfence/pkg/profiler"
)

// defaultMetricsLimit caps query_metrics responses when no limit is given.
const defaultMetricsLimit = 20

// ProfilerToolDeps defines dependencies for the profiler tools.
type ProfilerToolDeps struct {
	Profiler           *profiler.Profiler
	SlowQueryThreshold time.Duration
	Logger             *zap.Logger
}

// RegisterProfilerTools registers query_metrics and suggest_indexes with
// the MCP server.
func RegisterProfilerTools(mcpServer *server.MCPServer, deps *ProfilerToolDeps) {
	registerQueryMetricsTool(mcpServer, deps)
	registerSuggestIndexesTool(mcpServer, deps)
}

// queryMetricsEntry is one recorded execution in the response. The query
// text is sanitized before it leaves the server.
type queryMetricsEntry struct {
	Query           string `json:"query"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
	RowCount        int64  `json:"row_count"`
	TenantID        string `json:"tenant_id"`
	Timestamp       string `json:"timestamp"`
	Slow            bool   `json:"slow"`
}

// queryMetricsResponse is the response format for query_metrics.
type queryMetricsResponse struct {
	Queries              []queryMetricsEntry `json:"queries"`
	Count                int                 `json:"count"`
	SlowQueryThresholdMs int64               `json:"slow_query_threshold_ms"`
}

// registerQueryMetricsTool registers the query_metrics tool.
func registerQueryMetricsTool(mcpServer *server.MCPServer, deps *ProfilerToolDeps) {
	tool := mcp.NewTool(
		"query_metrics",
		mcp.WithDescription(`Report recently executed statements with timing and row counts.
Statements over the configured slow query threshold are flagged slow. Query text
comes back sanitized, with literals and parameter values redacted.`),
		mcp.WithNumber("limit",
			mcp.Description(fmt.Sprintf("Maximum entries to return (default %d)", defaultMetricsLimit))),
		mcp.WithBoolean("slow_only",
			mcp.Description("Return only statements over the slow query threshold")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	handler := func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Profiler == nil {
			return NewErrorResult("profiler_unavailable", "query profiling is not enabled"), nil
		}

		args, _ := request.Params.Arguments.(map[string]any)

		limit := defaultMetricsLimit
		if limitVal, ok := args["limit"].(float64); ok {
			if limitVal < 1 {
				return NewErrorResultWithDetails("invalid_parameters",
					"limit must be a positive number",
					map[string]any{"parameter": "limit", "actual_value": limitVal}), nil
			}
			limit = int(limitVal)
		}
		slowOnly, _ := args["slow_only"].(bool)

		var metrics []profiler.QueryMetrics
		if slowOnly {
			metrics = deps.Profiler.SlowQueries(deps.SlowQueryThreshold)
			if len(metrics) > limit {
				metrics = metrics[:limit]
			}
		} else {
			metrics = deps.Profiler.Recent(limit)
		}

		response := queryMetricsResponse{
			Queries:              make([]queryMetricsEntry, 0, len(metrics)),
			SlowQueryThresholdMs: deps.SlowQueryThreshold.Milliseconds(),
		}
		for _, m := range metrics {
			response.Queries = append(response.Queries, queryMetricsEntry{
				Query:           logging.SanitizeQuery(m.Query),
				ExecutionTimeMs: m.ExecutionTime.Milliseconds(),
				RowCount:        m.RowCount,
				TenantID:        m.TenantID,
				Timestamp:       m.Timestamp.Format(time.RFC3339),
				Slow:            deps.SlowQueryThreshold > 0 && m.ExecutionTime >= deps.SlowQueryThreshold,
			})
		}
		response.Count = len(response.Queries)

		responseJSON, err := json.Marshal(response)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal response: %w", err)
		}
		return mcp.NewToolResultText(string(responseJSON)), nil
	}

	mcpServer.AddTool(tool, handler)
}

// suggestIndexesResponse is the response format for suggest_indexes.
type suggestIndexesResponse struct {
	Suggestions []profiler.IndexSuggestion `json:"suggestions"`
	Count       int                        `json:"count"`
}

// registerSuggestIndexesTool registers the suggest_indexes tool.
func registerSuggestIndexesTool(mcpServer *server.MCPServer, deps *ProfilerToolDeps) {
	tool := mcp.NewTool(
		"suggest_indexes",
		mcp.WithDescription(`Propose indexes for columns that recent statements filter or sort on
repeatedly. Suggestions are derived from recorded query shapes, ordered by how
often each column was referenced.`),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	handler := func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Profiler == nil {
			return NewErrorResult("profiler_unavailable", "query profiling is not enabled"), nil
		}

		suggestions := deps.Profiler.SuggestIndexes()

		response := suggestIndexesResponse{
			Suggestions: suggestions,
			Count:       len(suggestions),
		}
		responseJSON, err := json.Marshal(response)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal response: %w", err)
		}
		return mcp.NewToolResultText(string(responseJSON)), nil
	}

	mcpServer.AddTool(tool, handler)
}
