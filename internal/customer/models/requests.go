package models

import dErrors "intake/pkg/domain-errors"

// SubmitRequest carries the registration. With FromDraft set the agent's
// saved draft is the base and any non-blank body field overrides it.
type SubmitRequest struct {
	Customer
	FromDraft bool `json:"from_draft"`
}

func (r *SubmitRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if !r.FromDraft && r.Customer == (Customer{}) {
		return dErrors.New(dErrors.CodeInvalidInput, "customer fields are required unless from_draft is set")
	}
	return nil
}

// ListResponse is the masked submission history of an agent.
type ListResponse struct {
	Registrations []*Registration `json:"registrations"`
}
