package logging

import (
	"regexp"
	"strings"
)

const (
	// MaxQueryLogLength bounds how much SQL ever reaches a log line or an
	// error message.
	MaxQueryLogLength = 100

	// RedactedText replaces sensitive values in sanitized output.
	RedactedText = "[REDACTED]"
)

var (
	passwordPattern   = regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[=:]\s*[^\s&;]+`)
	apiKeyPattern     = regexp.MustCompile(`(?i)(api[_-]?key|apikey|token|secret)\s*[=:]\s*[^\s&;]+`)
	connStringPattern = regexp.MustCompile(`(?i)(postgres(?:ql)?://[^:/@]+:)[^@]+(@)`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// SanitizeConnectionString masks the password portion of a database URL.
func SanitizeConnectionString(connStr string) string {
	return connStringPattern.ReplaceAllString(connStr, "${1}"+RedactedText+"${2}")
}

// SanitizeError scrubs credentials and connection strings from an error
// message before logging.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	msg = SanitizeConnectionString(msg)
	msg = passwordPattern.ReplaceAllString(msg, "${1}="+RedactedText)
	msg = apiKeyPattern.ReplaceAllString(msg, "${1}="+RedactedText)
	return msg
}

// SanitizeQuery prepares SQL text for a log line or error message: secrets
// redacted, whitespace collapsed, length bounded.
func SanitizeQuery(query string) string {
	q := passwordPattern.ReplaceAllString(query, "${1}="+RedactedText)
	q = apiKeyPattern.ReplaceAllString(q, "${1}="+RedactedText)
	q = whitespacePattern.ReplaceAllString(q, " ")
	q = strings.TrimSpace(q)
	return TruncateString(q, MaxQueryLogLength)
}

// TruncateString shortens s to at most max bytes, marking a cut with an
// ellipsis.
func TruncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
