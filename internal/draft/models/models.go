package models

import (
	"regexp"
	"time"

	id "intake/pkg/domain"
	dErrors "intake/pkg/domain-errors"
)

var formNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Key identifies one form draft of one agent.
type Key struct {
	OwnerID id.UserID `json:"owner_id"`
	Form    string    `json:"form"`
}

func (k Key) String() string { return k.OwnerID.String() + ":" + k.Form }

// ParseForm validates a form name taken from a URL.
func ParseForm(form string) (string, error) {
	if form == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "form is required")
	}
	if !formNamePattern.MatchString(form) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid form name")
	}
	return form, nil
}

// Fields maps a field name to its JSON value.
type Fields map[string]any

// Clone returns a shallow copy. Field values are JSON scalars so a shallow copy is enough.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Snapshot is the persisted form of a draft.
type Snapshot struct {
	Key     Key       `json:"key"`
	Data    Fields    `json:"data"`
	SavedAt time.Time `json:"saved_at"`
}

// Status is what the UI shows next to the form.
type Status struct {
	Form        string     `json:"form"`
	Dirty       bool       `json:"dirty"`
	Pending     bool       `json:"pending_flush"`
	LastSavedAt *time.Time `json:"last_saved_at,omitempty"`
	Stale       bool       `json:"stale"`
	AgeSeconds  int64      `json:"age_seconds,omitempty"`
}

// Draft is a form's current data together with its status.
type Draft struct {
	Data   Fields `json:"data"`
	Status Status `json:"status"`
}
