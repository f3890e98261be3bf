package models

import (
	"strings"

	"github.com/asaskevich/govalidator"

	dErrors "intake/pkg/domain-errors"
)

const maxPasswordLength = 72

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate trims the email and rejects malformed credentials before any store lookup.
func (r *LoginRequest) Validate() error {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	if r.Email == "" || r.Password == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "email and password are required")
	}
	if !govalidator.IsEmail(r.Email) {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid email")
	}
	if len(r.Password) > maxPasswordLength {
		return dErrors.New(dErrors.CodeInvalidInput, "password too long")
	}
	return nil
}

type LogoutResponse struct {
	Reason     string `json:"reason"`
	RedirectTo string `json:"redirect_to"`
}
