package models

import (
	"time"

	authmodels "intake/internal/auth/models"
	dErrors "intake/pkg/domain-errors"
)

// State is the guard's position on the inactivity axis.
type State string

const (
	StateActive  State = "active"
	StateWarned  State = "warned"
	StateExpired State = "expired"
)

// ActivityKind is a tracked browser interaction.
type ActivityKind string

const (
	ActivityClick   ActivityKind = "click"
	ActivityKeydown ActivityKind = "keydown"
	ActivityTouch   ActivityKind = "touch"
	ActivityScroll  ActivityKind = "scroll"
)

func ParseActivityKind(s string) (ActivityKind, error) {
	switch k := ActivityKind(s); k {
	case ActivityClick, ActivityKeydown, ActivityTouch, ActivityScroll:
		return k, nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "unsupported activity kind")
	}
}

// Reason is why a guard forced the session to end.
type Reason = authmodels.RevocationReason

type EventType string

const (
	EventState        EventType = "state"
	EventWarning      EventType = "warning"
	EventConnectivity EventType = "connectivity"
	EventHours        EventType = "business_hours"
	EventLogout       EventType = "logout"
)

// Event is pushed to subscribers whenever the guard changes observable state.
type Event struct {
	Type       EventType  `json:"type"`
	State      State      `json:"state"`
	Online     bool       `json:"online"`
	InHours    bool       `json:"in_business_hours"`
	Reason     Reason     `json:"reason,omitempty"`
	RedirectTo string     `json:"redirect_to,omitempty"`
	Deadline   *time.Time `json:"deadline,omitempty"`
	At         time.Time  `json:"at"`
}

// Status is a point-in-time view of a guard.
type Status struct {
	SessionID          string     `json:"session_id"`
	UserID             string     `json:"user_id"`
	State              State      `json:"state"`
	Online             bool       `json:"online"`
	InBusinessHours    bool       `json:"in_business_hours"`
	LastActivityAt     time.Time  `json:"last_activity_at"`
	LastHeartbeatAt    time.Time  `json:"last_heartbeat_at"`
	WarningDeadline    *time.Time `json:"warning_deadline,omitempty"`
	OfflineDeadline    *time.Time `json:"offline_deadline,omitempty"`
	OutOfHoursDeadline *time.Time `json:"out_of_hours_deadline,omitempty"`
	ActionsInWindow    int        `json:"actions_in_window"`
	LogoutReason       Reason     `json:"logout_reason,omitempty"`
}
