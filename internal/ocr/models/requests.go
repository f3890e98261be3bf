package models

import (
	"slices"
	"strings"

	dErrors "intake/pkg/domain-errors"
)

// ExtractRequest uploads one document for field extraction.
type ExtractRequest struct {
	DocumentType  string `json:"document_type"`
	ContentBase64 string `json:"content_base64"`
	ApplyToDraft  bool   `json:"apply_to_draft"`
}

func (r *ExtractRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if _, err := ParseDocumentType(r.DocumentType); err != nil {
		return err
	}
	r.ContentBase64 = stripDataURL(r.ContentBase64)
	if r.ContentBase64 == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "content_base64 is required")
	}
	return nil
}

// Type returns the validated document type.
func (r *ExtractRequest) Type() DocumentType {
	t, _ := ParseDocumentType(r.DocumentType)
	return t
}

// stripDataURL keeps only the base64 payload; browsers often send data URLs.
func stripDataURL(s string) string {
	if i := strings.Index(s, ";base64,"); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+len(";base64,"):]
	}
	return strings.TrimSpace(s)
}

// BatchExtractRequest uploads several documents keyed by document type.
// Empty entries are ignored.
type BatchExtractRequest struct {
	Documents    map[string]string `json:"documents"`
	ApplyToDraft bool              `json:"apply_to_draft"`

	items []ExtractRequest
}

func (r *BatchExtractRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	seen := make(map[DocumentType]bool, len(r.Documents))
	r.items = r.items[:0]
	for key, content := range r.Documents {
		content = stripDataURL(content)
		if content == "" {
			continue
		}
		t, err := ParseDocumentType(key)
		if err != nil {
			return err
		}
		if seen[t] {
			return dErrors.New(dErrors.CodeInvalidInput, "document type "+string(t)+" appears more than once")
		}
		seen[t] = true
		r.items = append(r.items, ExtractRequest{DocumentType: string(t), ContentBase64: content})
	}
	if len(r.items) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "at least one document is required")
	}
	slices.SortFunc(r.items, func(a, b ExtractRequest) int {
		return a.Type().rank() - b.Type().rank()
	})
	return nil
}

// Items returns the validated documents in processing order.
func (r *BatchExtractRequest) Items() []ExtractRequest { return r.items }
