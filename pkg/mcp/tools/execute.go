// Package tools provides the MCP tool implementations for sqlfence. Every
// statement the tools accept goes through the connection gateway, so the
// network surface enforces the same tenant isolation as in-process callers.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/fenceworks/sqlfence/pkg/gateway"
	"github.com/fenceworks/sqlfence/pkg/guard"
)

// SQLExecutor is the slice of the connection gateway the execution tools
// need. *gateway.ConnectionGateway satisfies it.
type SQLExecutor interface {
	ExecuteSQL(ctx context.Context, query string, params []any, tenantID string) (*gateway.Result, error)
	ExecuteTransaction(ctx context.Context, ops []gateway.Operation, tenantID string) ([]*gateway.Result, error)
}

// ExecuteToolDeps defines dependencies for the SQL execution tools.
type ExecuteToolDeps struct {
	Gateway SQLExecutor
	Logger  *zap.Logger
}

// RegisterExecuteTools registers execute_sql and execute_transaction with
// the MCP server.
func RegisterExecuteTools(mcpServer *server.MCPServer, deps *ExecuteToolDeps) {
	registerExecuteSQLTool(mcpServer, deps)
	registerExecuteTransactionTool(mcpServer, deps)
}

// executeSQLResponse is the response format for execute_sql.
type executeSQLResponse struct {
	Rows     []map[string]any `json:"rows"`
	RowCount int64            `json:"row_count"`
}

// registerExecuteSQLTool registers the execute_sql tool.
func registerExecuteSQLTool(mcpServer *server.MCPServer, deps *ExecuteToolDeps) {
	tool := mcp.NewTool(
		"execute_sql",
		mcp.WithDescription(`Execute one SQL statement against tenant data.
Statements touching tenant-owned tables must filter by tenant_id. Use $1, $2, ...
placeholders for every value, including tenant ids, and pass the values in params.
Returns rows for row-returning statements and the affected row count otherwise.`),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("SQL statement with $n placeholders")),
		mcp.WithString("tenant_id",
			mcp.Required(),
			mcp.Description("Tenant whose data the statement addresses")),
		mcp.WithArray("params",
			mcp.Description("Positional values for the $n placeholders, in order")),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	handler := func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)

		sqlText, ok := args["query"].(string)
		if !ok || sqlText == "" {
			return NewErrorResultWithDetails("invalid_parameters",
				"query is required",
				map[string]any{"parameter": "query"}), nil
		}

		tenantID, ok := args["tenant_id"].(string)
		if !ok || tenantID == "" {
			return NewErrorResultWithDetails("invalid_parameters",
				"tenant_id is required",
				map[string]any{"parameter": "tenant_id"}), nil
		}

		params, _ := args["params"].([]any)

		result, err := deps.Gateway.ExecuteSQL(ctx, sqlText, params, tenantID)
		if err != nil {
			return executionErrorResult(deps.Logger, tenantID, err)
		}

		response := executeSQLResponse{
			Rows:     result.Rows,
			RowCount: result.RowCount,
		}
		responseJSON, err := json.Marshal(response)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal response: %w", err)
		}
		return mcp.NewToolResultText(string(responseJSON)), nil
	}

	mcpServer.AddTool(tool, handler)
}

// executeTransactionResponse is the response format for execute_transaction.
type executeTransactionResponse struct {
	Results []executeSQLResponse `json:"results"`
	Count   int                  `json:"count"`
}

// registerExecuteTransactionTool registers the execute_transaction tool.
func registerExecuteTransactionTool(mcpServer *server.MCPServer, deps *ExecuteToolDeps) {
	tool := mcp.NewTool(
		"execute_transaction",
		mcp.WithDescription(`Execute several SQL statements in one transaction.
Operations run in order; any failure rolls back all of them. Each operation is an
object with a query (using $n placeholders) and an optional params array. The same
tenant isolation rules apply to every operation.`),
		mcp.WithArray("operations",
			mcp.Required(),
			mcp.Description("Statements to run, each {\"query\": \"...\", \"params\": [...]}")),
		mcp.WithString("tenant_id",
			mcp.Required(),
			mcp.Description("Tenant whose data the transaction addresses")),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	handler := func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)

		tenantID, ok := args["tenant_id"].(string)
		if !ok || tenantID == "" {
			return NewErrorResultWithDetails("invalid_parameters",
				"tenant_id is required",
				map[string]any{"parameter": "tenant_id"}), nil
		}

		ops, errResult := parseOperations(args["operations"])
		if errResult != nil {
			return errResult, nil
		}

		results, err := deps.Gateway.ExecuteTransaction(ctx, ops, tenantID)
		if err != nil {
			return transactionErrorResult(deps.Logger, tenantID, err)
		}

		response := executeTransactionResponse{
			Results: make([]executeSQLResponse, 0, len(results)),
			Count:   len(results),
		}
		for _, r := range results {
			response.Results = append(response.Results, executeSQLResponse{
				Rows:     r.Rows,
				RowCount: r.RowCount,
			})
		}
		responseJSON, err := json.Marshal(response)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal response: %w", err)
		}
		return mcp.NewToolResultText(string(responseJSON)), nil
	}

	mcpServer.AddTool(tool, handler)
}

// parseOperations converts the operations argument into gateway operations.
// The second return value is a ready-to-send error result when the argument
// is malformed.
func parseOperations(raw any) ([]gateway.Operation, *mcp.CallToolResult) {
	items, ok := raw.([]any)
	if !ok || len(items) == 0 {
		return nil, NewErrorResultWithDetails("invalid_parameters",
			"operations must be a non-empty array",
			map[string]any{"parameter": "operations"})
	}

	ops := make([]gateway.Operation, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, NewErrorResultWithDetails("invalid_parameters",
				fmt.Sprintf("operations[%d] must be an object", i),
				map[string]any{"parameter": "operations", "index": i})
		}
		sqlText, ok := obj["query"].(string)
		if !ok || sqlText == "" {
			return nil, NewErrorResultWithDetails("invalid_parameters",
				fmt.Sprintf("operations[%d].query is required", i),
				map[string]any{"parameter": "operations", "index": i})
		}
		params, _ := obj["params"].([]any)
		ops = append(ops, gateway.Operation{Query: sqlText, Params: params})
	}
	return ops, nil
}

// executionErrorResult maps a gateway failure onto a tool outcome. Guard
// refusals, timeouts and SQL user errors come back as structured error
// results the caller can act on; anything else is a server-side failure
// returned as a Go error.
func executionErrorResult(logger *zap.Logger, tenantID string, err error) (*mcp.CallToolResult, error) {
	if result := NewViolationResult(err); result != nil {
		logger.Warn("Statement blocked",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		return result, nil
	}

	if errors.Is(err, gateway.ErrQueryTimeout) {
		return NewErrorResult("query_timeout",
			"statement exceeded the configured query timeout"), nil
	}

	if result := NewSQLErrorResult(err); result != nil {
		logger.Debug("Statement failed with SQL user error",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		return result, nil
	}

	logger.Error("Statement execution failed",
		zap.String("tenant_id", tenantID),
		zap.Error(err))
	return nil, fmt.Errorf("execution failed: %w", err)
}

// transactionErrorResult reports transaction failures together with the
// index of the operation that aborted them.
func transactionErrorResult(logger *zap.Logger, tenantID string, err error) (*mcp.CallToolResult, error) {
	details := map[string]any{}
	cause := err

	var txErr *gateway.TransactionError
	if errors.As(err, &txErr) {
		details["failed_operation"] = txErr.Index
		cause = txErr.Err
	}

	var v *guard.Violation
	if errors.As(cause, &v) {
		details["violation"] = string(v.Code)
		logger.Warn("Transaction blocked",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		return NewErrorResultWithDetails("security_violation", v.Message, details), nil
	}

	if errors.Is(cause, gateway.ErrQueryTimeout) {
		return NewErrorResultWithDetails("query_timeout",
			"transaction exceeded the configured query timeout", details), nil
	}

	if IsSQLUserError(cause) {
		logger.Debug("Transaction aborted by SQL user error",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		return NewErrorResultWithDetails(SQLUserErrorCode(cause),
			ExtractSQLErrorMessage(cause), details), nil
	}

	logger.Error("Transaction execution failed",
		zap.String("tenant_id", tenantID),
		zap.Error(err))
	return nil, fmt.Errorf("transaction failed: %w", err)
}
