package logging

import (
	"regexp"
)

// RedactedText is the replacement text for sensitive data.
const RedactedText = "[REDACTED]"

var (
	// Matches password=xxx, pwd=xxx, pass=xxx (until next delimiter).
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Matches JWT tokens (three base64 segments separated by dots).
	jwtPattern = regexp.MustCompile(`Bearer\s+[A-Za-z0-9-_]+\.[A-Za-z0-9-_]+\.[A-Za-z0-9-_]*`)

	// Matches connection string credentials (user:pass@host format).
	connStringPattern = regexp.MustCompile(`://[^:]+:[^@]+@[^/\s]+`)
)

// SanitizeConnectionString removes credentials from connection strings.
// Use this before logging any connection string.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)

	return sanitized
}

// SanitizeError sanitizes error messages that might carry credentials or
// bearer tokens. Use this before logging errors from database operations.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(err.Error(), "${1}="+RedactedText)
	sanitized = jwtPattern.ReplaceAllString(sanitized, "Bearer "+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)

	return sanitized
}
