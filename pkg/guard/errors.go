package guard

import (
	"errors"
	"fmt"

	"github.com/fenceworks/sqlfence/pkg/logging"
)

// ViolationCode identifies which enforcement rule refused a statement.
type ViolationCode string

const (
	CodeDangerousOperation     ViolationCode = "dangerous_operation_blocked"
	CodeOrBypass               ViolationCode = "or_bypass_detected"
	CodeUnionUnprotected       ViolationCode = "union_branch_unprotected"
	CodeCriticalRisk           ViolationCode = "critical_risk_blocked"
	CodeMissingTenantPredicate ViolationCode = "missing_tenant_predicate"
	CodeMissingTenantColumn    ViolationCode = "missing_tenant_column"
	CodeTruncateProhibited     ViolationCode = "truncate_prohibited"
	CodeEnhancedBypass         ViolationCode = "enhanced_bypass_pattern_detected"
	CodeMultipleStatements     ViolationCode = "multiple_statements"
	CodeParameterInjection     ViolationCode = "parameter_injection_detected"
)

// Violation is a blocked statement. The excerpt is sanitized and bounded so
// the error is safe to log and to return to callers.
type Violation struct {
	Code    ViolationCode
	Message string
	Excerpt string
}

func (v *Violation) Error() string {
	if v.Excerpt == "" {
		return fmt.Sprintf("SECURITY BLOCK: %s", v.Message)
	}
	return fmt.Sprintf("SECURITY BLOCK: %s [query: %s]", v.Message, v.Excerpt)
}

func newViolation(code ViolationCode, message, sqlText string) *Violation {
	return &Violation{
		Code:    code,
		Message: message,
		Excerpt: logging.SanitizeQuery(sqlText),
	}
}

// IsViolation reports whether err is (or wraps) a Violation with the given
// code.
func IsViolation(err error, code ViolationCode) bool {
	var v *Violation
	if !errors.As(err, &v) {
		return false
	}
	return v.Code == code
}
