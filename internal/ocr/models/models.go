package models

import (
	"bytes"
	"strings"
	"time"

	dErrors "intake/pkg/domain-errors"
)

type DocumentType string

const (
	DocumentRG      DocumentType = "rg"
	DocumentCNPJ    DocumentType = "cnpj"
	DocumentAddress DocumentType = "address"
	DocumentFacade  DocumentType = "facade"
)

func ParseDocumentType(s string) (DocumentType, error) {
	switch t := DocumentType(strings.ToLower(strings.TrimSpace(s))); t {
	case DocumentRG, DocumentCNPJ, DocumentAddress, DocumentFacade:
		return t, nil
	case "":
		return "", dErrors.New(dErrors.CodeInvalidInput, "document_type is required")
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "document_type must be one of rg, cnpj, address, facade")
	}
}

// DocumentTypes lists every document type in processing order.
var DocumentTypes = []DocumentType{DocumentRG, DocumentCNPJ, DocumentAddress, DocumentFacade}

func (t DocumentType) rank() int {
	for i, dt := range DocumentTypes {
		if dt == t {
			return i
		}
	}
	return len(DocumentTypes)
}

// AcceptsPDF reports whether the document may be uploaded as a PDF. Facade
// photos must be images.
func (t DocumentType) AcceptsPDF() bool { return t != DocumentFacade }

type ContentType string

const (
	ContentJPEG ContentType = "image/jpeg"
	ContentPNG  ContentType = "image/png"
	ContentPDF  ContentType = "application/pdf"
)

var (
	magicJPEG = []byte{0xFF, 0xD8, 0xFF}
	magicPNG  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}
	magicPDF  = []byte("%PDF-")
)

// DetectContent identifies a document by its leading bytes.
func DetectContent(b []byte) (ContentType, bool) {
	switch {
	case bytes.HasPrefix(b, magicJPEG):
		return ContentJPEG, true
	case bytes.HasPrefix(b, magicPNG):
		return ContentPNG, true
	case bytes.HasPrefix(b, magicPDF):
		return ContentPDF, true
	default:
		return "", false
	}
}

// illegible is what the extraction service writes for text it could not read.
const illegible = "[ILEGÍVEL]"

// draftFieldMap maps extracted keys onto customer registration form fields.
// The first mapped key with a usable value wins.
var draftFieldMap = map[DocumentType][][2]string{
	DocumentRG: {
		{"nome_completo", "nome_completo"},
		{"data_nascimento", "data_nascimento"},
		{"cpf", "cpf"},
	},
	DocumentCNPJ: {
		{"empresa", "empresa"},
		{"razao_social", "empresa"},
		{"nome_fantasia", "empresa"},
		{"cnpj", "cnpj"},
	},
	DocumentAddress: {
		{"cep", "cep"},
		{"endereco", "endereco"},
		{"complemento", "complemento"},
	},
}

// WebhookResult is the extraction service's reply.
type WebhookResult struct {
	Success    bool           `json:"success"`
	ParsedData map[string]any `json:"parsed_data"`
	Error      string         `json:"error,omitempty"`
}

// Extraction is the outcome of one relayed document.
type Extraction struct {
	DocumentType  DocumentType      `json:"document_type"`
	ContentType   ContentType       `json:"content_type"`
	CorrelationID string            `json:"correlation_id"`
	Fields        map[string]string `json:"fields"`
	DraftFields   map[string]string `json:"draft_fields,omitempty"`
	Attempts      int               `json:"attempts"`
	ProcessedAt   time.Time         `json:"processed_at"`
}

// DocumentOutcome is the per-document result of a batch extraction.
type DocumentOutcome struct {
	Success    bool        `json:"success"`
	Extraction *Extraction `json:"extraction,omitempty"`
	Error      string      `json:"error,omitempty"`
	ErrorCode  string      `json:"error_code,omitempty"`
}

// CleanFields keeps non-empty, legible string values from parsed webhook data.
func CleanFields(parsed map[string]any) map[string]string {
	out := make(map[string]string, len(parsed))
	for k, v := range parsed {
		s, ok := v.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" || strings.EqualFold(s, "null") || s == illegible {
			continue
		}
		out[k] = s
	}
	return out
}

// ToDraftFields projects extracted fields onto the registration form.
func ToDraftFields(t DocumentType, fields map[string]string) map[string]string {
	mapping, ok := draftFieldMap[t]
	if !ok {
		return nil
	}
	out := make(map[string]string)
	for _, m := range mapping {
		src, dst := m[0], m[1]
		if _, set := out[dst]; set {
			continue
		}
		if v, ok := fields[src]; ok {
			out[dst] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
