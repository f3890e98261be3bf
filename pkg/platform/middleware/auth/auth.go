// Package auth authenticates agent requests from a bearer token or the session cookie.
package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	id "intake/pkg/domain"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/platform/httputil"
	"intake/pkg/requestcontext"
)

// JWTValidator defines the interface for validating JWT tokens
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// TokenRevocationChecker defines the interface for checking if tokens are revoked
type TokenRevocationChecker interface {
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// SessionValidator confirms the session named by the token is still active.
type SessionValidator interface {
	ValidateSession(ctx context.Context, sessionID id.SessionID, jti string) error
}

// JWTClaims represents the claims we expect from the JWT validator
type JWTClaims struct {
	UserID    string
	SessionID string
	JTI       string
}

const (
	DefaultCookieName = "intake_session"
	DefaultLoginPath  = "/login"
)

type config struct {
	cookieName string
	loginPath  string
	logger     *slog.Logger
}

type Option func(*config)

func WithCookieName(name string) Option {
	return func(c *config) {
		if name != "" {
			c.cookieName = name
		}
	}
}

func WithLoginPath(path string) Option {
	return func(c *config) {
		if path != "" {
			c.loginPath = path
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// TokenFromRequest prefers the Authorization header and falls back to the session cookie.
func TokenFromRequest(r *http.Request, cookieName string) string {
	if after, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	if c, err := r.Cookie(cookieName); err == nil {
		return c.Value
	}
	return ""
}

// ClearSessionCookie expires the session cookie on the client.
func ClearSessionCookie(w http.ResponseWriter, cookieName string) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

type unauthorizedBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	RedirectTo       string `json:"redirect_to"`
}

func (c *config) reject(w http.ResponseWriter, r *http.Request, code dErrors.Code, desc, logMsg string, attrs ...any) {
	ctx := r.Context()
	attrs = append(attrs, "request_id", requestcontext.RequestID(ctx))
	c.logger.WarnContext(ctx, logMsg, attrs...)
	ClearSessionCookie(w, c.cookieName)
	httputil.WriteJSON(w, http.StatusUnauthorized, unauthorizedBody{
		Error:            string(code),
		ErrorDescription: desc,
		RedirectTo:       c.loginPath,
	})
}

// RequireAuth rejects requests without a live session. Rejections clear the
// session cookie and tell the client where to log in again.
func RequireAuth(validator JWTValidator, revocationChecker TokenRevocationChecker, sessions SessionValidator, opts ...Option) func(http.Handler) http.Handler {
	c := &config{
		cookieName: DefaultCookieName,
		loginPath:  DefaultLoginPath,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token := TokenFromRequest(r, c.cookieName)
			if token == "" {
				c.reject(w, r, dErrors.CodeUnauthorized, "Missing access token", "unauthorized access - missing token")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				c.reject(w, r, dErrors.CodeUnauthorized, "Invalid or expired token", "unauthorized access - invalid token", "error", err)
				return
			}
			if claims.JTI == "" {
				c.reject(w, r, dErrors.CodeUnauthorized, "Invalid or expired token", "unauthorized access - missing token jti")
				return
			}
			userID, err := id.ParseUserID(claims.UserID)
			if err != nil {
				c.reject(w, r, dErrors.CodeUnauthorized, "Invalid or expired token", "unauthorized access - bad user claim")
				return
			}
			sessionID, err := id.ParseSessionID(claims.SessionID)
			if err != nil {
				c.reject(w, r, dErrors.CodeUnauthorized, "Invalid or expired token", "unauthorized access - bad session claim")
				return
			}

			if revocationChecker != nil {
				revoked, err := revocationChecker.IsTokenRevoked(ctx, claims.JTI)
				if err != nil {
					c.logger.ErrorContext(ctx, "failed to check token revocation",
						"error", err,
						"request_id", requestcontext.RequestID(ctx),
					)
					httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "failed to validate token"))
					return
				}
				if revoked {
					c.reject(w, r, dErrors.CodeSessionExpired, "Session has ended", "unauthorized access - token revoked", "jti", claims.JTI)
					return
				}
			}

			if sessions != nil {
				if err := sessions.ValidateSession(ctx, sessionID, claims.JTI); err != nil {
					if dErrors.HasCode(err, dErrors.CodeSessionExpired) {
						c.reject(w, r, dErrors.CodeSessionExpired, "Session has ended", "unauthorized access - session not active",
							"session_id", sessionID.String(),
						)
						return
					}
					c.logger.ErrorContext(ctx, "failed to validate session",
						"error", err,
						"request_id", requestcontext.RequestID(ctx),
					)
					httputil.WriteError(w, err)
					return
				}
			}

			ctx = requestcontext.WithUserID(ctx, userID)
			ctx = requestcontext.WithSessionID(ctx, sessionID)
			ctx = requestcontext.WithTokenJTI(ctx, claims.JTI)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
