package testutil

import (
	"net/http"

	id "intake/pkg/domain"
	"intake/pkg/requestcontext"
)

// WithUserID marks req as coming from the agent RequireAuth would have
// resolved. Malformed IDs leave the request unauthenticated.
func WithUserID(req *http.Request, userID string) *http.Request {
	return WithAuth(req, userID, "")
}

func WithSessionID(req *http.Request, sessionID string) *http.Request {
	return WithAuth(req, "", sessionID)
}

// WithAuth sets the agent and session IDs; either may be blank.
func WithAuth(req *http.Request, userID, sessionID string) *http.Request {
	ctx := req.Context()
	if uid, err := id.ParseUserID(userID); err == nil {
		ctx = requestcontext.WithUserID(ctx, uid)
	}
	if sid, err := id.ParseSessionID(sessionID); err == nil {
		ctx = requestcontext.WithSessionID(ctx, sid)
	}
	return req.WithContext(ctx)
}
