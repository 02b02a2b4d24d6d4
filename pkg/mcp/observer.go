package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// Observer captures tool-call timing and outcomes through mcp-go server
// hooks. Blocked statements come back to the client as structured error
// results, which some clients swallow; the observer logs them server-side
// so every refusal leaves a trace.
type Observer struct {
	logger *zap.Logger

	// startTimes tracks when tool calls begin, keyed by request ID.
	startTimes sync.Map
}

// NewObserver creates an Observer that logs tool-call outcomes.
func NewObserver(logger *zap.Logger) *Observer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Observer{logger: logger.Named("mcp")}
}

// Hooks returns mcp-go Hooks configured to capture tool call events.
func (o *Observer) Hooks() *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(o.beforeCallTool)
	hooks.AddAfterCallTool(o.afterCallTool)
	hooks.AddOnError(o.onError)
	return hooks
}

func (o *Observer) beforeCallTool(_ context.Context, id any, _ *mcplib.CallToolRequest) {
	o.startTimes.Store(id, time.Now())
}

func (o *Observer) afterCallTool(_ context.Context, id any, req *mcplib.CallToolRequest, result *mcplib.CallToolResult) {
	start, _ := o.loadAndDeleteStart(id)

	fields := []zap.Field{
		zap.String("tool", req.Params.Name),
		zap.Duration("duration", time.Since(start)),
	}

	if result != nil && result.IsError {
		code := resultErrorCode(result)
		if code != "" {
			fields = append(fields, zap.String("error_code", code))
		}
		if isSecurityErrorCode(code) {
			o.logger.Warn("Tool call blocked", fields...)
			return
		}
		o.logger.Debug("Tool call returned error result", fields...)
		return
	}

	o.logger.Debug("Tool call completed", fields...)
}

func (o *Observer) onError(_ context.Context, id any, method mcplib.MCPMethod, message any, err error) {
	if method != mcplib.MethodToolsCall {
		return
	}

	start, _ := o.loadAndDeleteStart(id)

	fields := []zap.Field{
		zap.Duration("duration", time.Since(start)),
		zap.Error(err),
	}
	if req, ok := message.(*mcplib.CallToolRequest); ok {
		fields = append(fields, zap.String("tool", req.Params.Name))
	}

	o.logger.Warn("Tool call failed", fields...)
}

func (o *Observer) loadAndDeleteStart(id any) (time.Time, bool) {
	if v, ok := o.startTimes.LoadAndDelete(id); ok {
		return v.(time.Time), true
	}
	return time.Now(), false
}

// resultErrorCode pulls the structured error code out of an error result.
// Tool errors are JSON documents with a "code" field; anything else yields
// an empty string.
func resultErrorCode(result *mcplib.CallToolResult) string {
	for _, c := range result.Content {
		tc, ok := c.(mcplib.TextContent)
		if !ok {
			continue
		}
		var partial struct {
			Code string `json:"code"`
		}
		if err := json.Unmarshal([]byte(tc.Text), &partial); err == nil && partial.Code != "" {
			return partial.Code
		}
	}
	return ""
}

// isSecurityErrorCode reports whether an error code came from the statement
// guard rather than ordinary bad input.
func isSecurityErrorCode(code string) bool {
	return code == "security_violation" || strings.Contains(code, "injection")
}
