// Package session stores agent sessions in memory or Redis.
package session

import "errors"

// ErrSessionRevoked is returned by RevokeSessionIfActive when the session was
// already revoked.
var ErrSessionRevoked = errors.New("session already revoked")
