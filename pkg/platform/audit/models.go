package audit

import (
	"context"
	"time"

	id "intake/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose so sinks can
// route and retain them differently.
type EventCategory string

const (
	// CategoryCompliance covers records of customer data leaving the agent's hands.
	CategoryCompliance EventCategory = "compliance"
	// CategorySecurity covers authentication and session-enforcement events.
	CategorySecurity EventCategory = "security"
	// CategoryOperations covers routine activity useful for debugging.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory `json:"category"`
	Timestamp time.Time     `json:"timestamp"`
	UserID    id.UserID     `json:"user_id"`
	SessionID string        `json:"session_id,omitempty"`
	Subject   string        `json:"subject,omitempty"`
	Action    string        `json:"action"`
	Reason    string        `json:"reason,omitempty"`
	IP        string        `json:"ip,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
	Severity  Severity      `json:"severity,omitempty"`
}

// Severity levels for security events.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type AuditEvent string

const (
	// Auth events
	EventLoginSucceeded AuditEvent = "login_succeeded"
	EventLoginFailed    AuditEvent = "login_failed"

	// Session guard events
	EventSessionWarned      AuditEvent = "session_warned"
	EventSessionLoggedOut   AuditEvent = "session_logged_out"
	EventSuspiciousActivity AuditEvent = "suspicious_activity"

	// Draft events
	EventDraftCleared AuditEvent = "draft_cleared"

	// Registration events
	EventCustomerSubmitted AuditEvent = "customer_submitted"
	EventDocumentRelayed   AuditEvent = "document_relayed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventCustomerSubmitted: CategoryCompliance,

	EventLoginFailed:        CategorySecurity,
	EventSessionLoggedOut:   CategorySecurity,
	EventSuspiciousActivity: CategorySecurity,

	EventLoginSucceeded:  CategoryOperations,
	EventSessionWarned:   CategoryOperations,
	EventDraftCleared:    CategoryOperations,
	EventDocumentRelayed: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Sink receives events. Kafka and other write-only destinations implement it.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// Store is a queryable sink.
type Store interface {
	Sink
	ListByUser(ctx context.Context, userID id.UserID) ([]Event, error)
}
