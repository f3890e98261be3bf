package models

import dErrors "intake/pkg/domain-errors"

const maxFieldsPerUpdate = 64

// UpdateRequest carries a partial set of field edits.
type UpdateRequest struct {
	Fields Fields `json:"fields"`
}

func (r *UpdateRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if len(r.Fields) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "fields are required")
	}
	if len(r.Fields) > maxFieldsPerUpdate {
		return dErrors.New(dErrors.CodeInvalidInput, "too many fields in one update")
	}
	for k, v := range r.Fields {
		switch v.(type) {
		case nil, string, bool, float64:
		default:
			return dErrors.New(dErrors.CodeInvalidInput, "field "+k+" must be a scalar value")
		}
	}
	return nil
}
