// Package audit provides security audit logging for SIEM consumption.
// Every blocked statement, elevated-risk warning, and tenant parameter
// correction is logged in structured JSON form so downstream security
// tooling can parse and alert on it.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/fenceworks/sqlfence/pkg/guard"
	"github.com/fenceworks/sqlfence/pkg/logging"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventQueryBlocked is logged when the policy enforcer refuses a statement.
	EventQueryBlocked SecurityEventType = "query_blocked"
	// EventSQLInjectionAttempt is logged when libinjection flags a bound parameter.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventRiskWarning is logged when a statement executes despite a non-SAFE risk score.
	EventRiskWarning SecurityEventType = "risk_warning"
	// EventTenantParamCorrected is logged when a tenant id bound by the caller
	// was overwritten with the authoritative one.
	EventTenantParamCorrected SecurityEventType = "tenant_param_corrected"
	// EventQueryExecution is logged for successful executions (optional, high volume).
	EventQueryExecution SecurityEventType = "query_execution"
)

// SecurityEvent represents an auditable security event with all relevant
// context for SIEM ingestion and analysis.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType SecurityEventType `json:"event_type"`
	TenantID  string            `json:"tenant_id,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Details   any               `json:"details"`
	Severity  string            `json:"severity"` // info, warning, critical
}

// QueryBlockedDetails contains specifics of a refused statement.
type QueryBlockedDetails struct {
	Violation string `json:"violation"`
	Message   string `json:"message"`
	Query     string `json:"query"`
}

// RiskWarningDetails contains specifics of an allowed but risky statement.
type RiskWarningDetails struct {
	Risk  string `json:"risk"`
	Query string `json:"query"`
}

// ParamCorrectionDetails identifies which bound parameter was overwritten.
type ParamCorrectionDetails struct {
	ParamIndex int    `json:"param_index"`
	Query      string `json:"query"`
}

// QueryExecutionDetails contains the outcome of a successful execution.
type QueryExecutionDetails struct {
	Query      string `json:"query"`
	RowCount   int64  `json:"row_count"`
	DurationMs int64  `json:"duration_ms"`
}

// EventSink persists security events beyond the log stream, typically to the
// audit_logs table. A nil sink means events are logged only.
type EventSink interface {
	Record(ctx context.Context, event SecurityEvent) error
}

// SecurityAuditor logs security events for SIEM consumption and optionally
// persists them through an EventSink. It satisfies guard.AuditSink so the
// enforcement pipeline can report findings without knowing where they go.
type SecurityAuditor struct {
	logger *zap.Logger
	sink   EventSink
}

var _ guard.AuditSink = (*SecurityAuditor)(nil)

// NewSecurityAuditor creates a security auditor with a dedicated logger
// namespace. The "security_audit" name makes the events easy to filter in
// SIEM systems. Pass a nil sink to disable persistence.
func NewSecurityAuditor(logger *zap.Logger, sink EventSink) *SecurityAuditor {
	return &SecurityAuditor{
		logger: logger.Named("security_audit"),
		sink:   sink,
	}
}

// QueryBlocked records a statement the policy enforcer refused. Parameter
// injection findings are logged as their own event type so SIEM rules can
// alert on them separately from policy refusals.
func (a *SecurityAuditor) QueryBlocked(ctx context.Context, tenantID, requestID, query string, violation *guard.Violation) {
	eventType := EventQueryBlocked
	message := "Query blocked"
	if violation.Code == guard.CodeParameterInjection {
		eventType = EventSQLInjectionAttempt
		message = "SQL injection attempt detected"
	}

	sanitized := logging.SanitizeQuery(query)
	event := a.record(ctx, SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		TenantID:  tenantID,
		RequestID: requestID,
		Details: QueryBlockedDetails{
			Violation: string(violation.Code),
			Message:   violation.Message,
			Query:     sanitized,
		},
		Severity: "critical",
	})

	a.logger.Error(message,
		zap.String("event_json", event),
		zap.String("violation", string(violation.Code)),
		zap.String("tenant_id", tenantID),
		zap.String("request_id", requestID),
		zap.String("query", sanitized),
		zap.String("severity", "critical"),
	)
}

// RiskWarning records a statement that executed despite a non-SAFE risk score.
func (a *SecurityAuditor) RiskWarning(ctx context.Context, tenantID, requestID, query string, risk guard.RiskLevel) {
	sanitized := logging.SanitizeQuery(query)
	event := a.record(ctx, SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventRiskWarning,
		TenantID:  tenantID,
		RequestID: requestID,
		Details: RiskWarningDetails{
			Risk:  risk.String(),
			Query: sanitized,
		},
		Severity: "warning",
	})

	a.logger.Warn("Elevated query risk",
		zap.String("event_json", event),
		zap.String("risk", risk.String()),
		zap.String("tenant_id", tenantID),
		zap.String("request_id", requestID),
		zap.String("query", sanitized),
		zap.String("severity", "warning"),
	)
}

// TenantParamCorrected records that a caller-bound tenant id was overwritten
// with the authoritative one.
func (a *SecurityAuditor) TenantParamCorrected(ctx context.Context, tenantID, requestID, query string, paramIndex int) {
	sanitized := logging.SanitizeQuery(query)
	event := a.record(ctx, SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventTenantParamCorrected,
		TenantID:  tenantID,
		RequestID: requestID,
		Details: ParamCorrectionDetails{
			ParamIndex: paramIndex,
			Query:      sanitized,
		},
		Severity: "info",
	})

	a.logger.Info("Tenant parameter corrected",
		zap.String("event_json", event),
		zap.Int("param_index", paramIndex),
		zap.String("tenant_id", tenantID),
		zap.String("request_id", requestID),
		zap.String("query", sanitized),
		zap.String("severity", "info"),
	)
}

// QueryExecuted records a successful execution for the audit trail.
// Note: this can generate high log volume in production.
func (a *SecurityAuditor) QueryExecuted(ctx context.Context, tenantID, requestID, query string, rowCount int64, elapsed time.Duration) {
	sanitized := logging.SanitizeQuery(query)
	event := a.record(ctx, SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventQueryExecution,
		TenantID:  tenantID,
		RequestID: requestID,
		Details: QueryExecutionDetails{
			Query:      sanitized,
			RowCount:   rowCount,
			DurationMs: elapsed.Milliseconds(),
		},
		Severity: "info",
	})

	a.logger.Info("Query executed",
		zap.String("event_json", event),
		zap.String("tenant_id", tenantID),
		zap.String("request_id", requestID),
		zap.String("query", sanitized),
		zap.Int64("row_count", rowCount),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
		zap.String("severity", "info"),
	)
}

// record persists the event when a sink is configured and returns the JSON
// rendering used in the log entry. Marshaling known types does not fail, so
// the error is ignored.
func (a *SecurityAuditor) record(ctx context.Context, event SecurityEvent) string {
	eventJSON, _ := json.Marshal(event)
	if a.sink != nil {
		if err := a.sink.Record(ctx, event); err != nil {
			a.logger.Warn("Failed to persist audit event",
				zap.String("event_type", string(event.EventType)),
				zap.Error(err),
			)
		}
	}
	return string(eventJSON)
}
