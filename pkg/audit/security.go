// Package audit provides security audit logging for SIEM consumption.
// It logs security-relevant events in structured JSON format for easy parsing
// and integration with security information and event management systems.
package audit

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSuspectFilter is logged when libinjection flags a read filter value.
	EventSuspectFilter SecurityEventType = "suspect_read_filter"
	// EventRejectedPayload is logged when a write payload fails validation.
	EventRejectedPayload SecurityEventType = "rejected_payload"
)

// SecurityEvent represents an auditable security event with the context a
// SIEM needs to correlate it back to a caller.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType SecurityEventType `json:"event_type"`
	Endpoint  string            `json:"endpoint"`
	User      string            `json:"user,omitempty"`
	ClientIP  string            `json:"client_ip,omitempty"`
	Details   any               `json:"details"`
	Severity  string            `json:"severity"` // info, warning, critical
}

// SuspectFilterDetails contains specifics of a flagged read filter.
type SuspectFilterDetails struct {
	Field       string `json:"field"`
	Value       string `json:"value"`
	Fingerprint string `json:"fingerprint"` // libinjection fingerprint for pattern analysis
}

// SecurityAuditor logs security events for SIEM consumption.
// Events are logged in structured JSON format with appropriate severity levels.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates a new security auditor with a dedicated logger
// namespace. The "security_audit" namespace makes the events easy to route
// in SIEM systems.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

// LogSuspectFilter records a read filter value that tripped the SQL injection
// screen. Logged at ERROR level with "critical" severity for immediate
// alerting.
//
// Client IP should come from the HTTP request (typically r.RemoteAddr).
func (a *SecurityAuditor) LogSuspectFilter(endpoint, user, clientIP string, details SuspectFilterDetails) {
	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventSuspectFilter,
		Endpoint:  endpoint,
		User:      user,
		ClientIP:  clientIP,
		Details:   details,
		Severity:  "critical",
	}

	// Marshaling known types does not fail.
	eventJSON, _ := json.Marshal(event)

	a.logger.Error("Suspect read filter rejected",
		zap.String("event_json", string(eventJSON)),
		zap.String("endpoint", endpoint),
		zap.String("field", details.Field),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("client_ip", clientIP),
		zap.String("user", user),
		zap.String("severity", "critical"),
	)
}

// LogRejectedPayload records a write payload that failed validation.
// Logged at WARN level as these are usually caller errors, not attacks.
func (a *SecurityAuditor) LogRejectedPayload(endpoint, user, clientIP, reason string) {
	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventRejectedPayload,
		Endpoint:  endpoint,
		User:      user,
		ClientIP:  clientIP,
		Details: map[string]string{
			"reason": reason,
		},
		Severity: "warning",
	}

	eventJSON, _ := json.Marshal(event)

	a.logger.Warn("Write payload rejected",
		zap.String("event_json", string(eventJSON)),
		zap.String("endpoint", endpoint),
		zap.String("reason", reason),
		zap.String("client_ip", clientIP),
		zap.String("user", user),
		zap.String("severity", "warning"),
	)
}
