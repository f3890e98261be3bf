package handler

import "intake/internal/sessionguard/models"

type SessionEndedResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Reason           string `json:"reason,omitempty"`
	RedirectTo       string `json:"redirect_to"`
}

// StatusEvent wraps a status snapshot as the first frame of an event stream.
func StatusEvent(s models.Status) models.Event {
	ev := models.Event{
		Type:    models.EventState,
		State:   s.State,
		Online:  s.Online,
		InHours: s.InBusinessHours,
		At:      s.LastActivityAt,
	}
	if s.WarningDeadline != nil {
		ev.Type = models.EventWarning
		ev.Deadline = s.WarningDeadline
	}
	return ev
}
