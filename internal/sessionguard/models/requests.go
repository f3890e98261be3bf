package models

import dErrors "intake/pkg/domain-errors"

type ActivityRequest struct {
	Kind string `json:"kind"`

	parsed ActivityKind
}

func (r *ActivityRequest) Validate() error {
	kind, err := ParseActivityKind(r.Kind)
	if err != nil {
		return err
	}
	r.parsed = kind
	return nil
}

func (r *ActivityRequest) ParsedKind() ActivityKind { return r.parsed }

type ConnectivityRequest struct {
	Online *bool `json:"online"`
}

func (r *ConnectivityRequest) Validate() error {
	if r.Online == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "online is required")
	}
	return nil
}
