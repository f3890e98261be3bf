package models

import (
	"strings"
	"time"

	draftmodels "intake/internal/draft/models"
	id "intake/pkg/domain"
)

// FormName is the draft form a registration is typed into.
const FormName = "customer_registration"

type Status string

const StatusSubmitted Status = "submitted"

// Customer is the data an agent collects for one new establishment.
type Customer struct {
	// Estabelecimento
	Empresa  string `json:"empresa"`
	CNPJ     string `json:"cnpj"`
	Email    string `json:"email"`
	Celular  string `json:"celular"`
	Telefone string `json:"telefone,omitempty"`

	// Endereço
	CEP         string `json:"cep"`
	Endereco    string `json:"endereco"`
	Complemento string `json:"complemento,omitempty"`

	// Proprietário
	NomeCompleto   string `json:"nome_completo"`
	CPF            string `json:"cpf"`
	DataNascimento string `json:"data_nascimento,omitempty"`

	// Conta bancária
	Banco   string `json:"banco"`
	Agencia string `json:"agencia"`
	Conta   string `json:"conta"`
}

// Registration is a submitted customer record.
type Registration struct {
	ID        id.SubmissionID `json:"id"`
	OwnerID   id.UserID       `json:"owner_id"`
	Customer  Customer        `json:"customer"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// Masked returns a copy safe to list back or log: CPF and CNPJ keep only the
// digits needed to recognise the record.
func (r *Registration) Masked() *Registration {
	out := *r
	out.Customer.CPF = MaskCPF(r.Customer.CPF)
	out.Customer.CNPJ = MaskCNPJ(r.Customer.CNPJ)
	return &out
}

// fieldRefs lists every field by its draft/JSON name.
func (c *Customer) fieldRefs() []struct {
	name string
	ptr  *string
} {
	return []struct {
		name string
		ptr  *string
	}{
		{"empresa", &c.Empresa},
		{"cnpj", &c.CNPJ},
		{"email", &c.Email},
		{"celular", &c.Celular},
		{"telefone", &c.Telefone},
		{"cep", &c.CEP},
		{"endereco", &c.Endereco},
		{"complemento", &c.Complemento},
		{"nome_completo", &c.NomeCompleto},
		{"cpf", &c.CPF},
		{"data_nascimento", &c.DataNascimento},
		{"banco", &c.Banco},
		{"agencia", &c.Agencia},
		{"conta", &c.Conta},
	}
}

// DraftDefaults is the empty registration form registered with the draft cache.
func DraftDefaults() draftmodels.Fields {
	var c Customer
	refs := c.fieldRefs()
	out := make(draftmodels.Fields, len(refs))
	for _, f := range refs {
		out[f.name] = ""
	}
	return out
}

// FromDraft reads the string fields of a registration draft. Non-string
// values are ignored.
func FromDraft(data draftmodels.Fields) Customer {
	var c Customer
	for _, f := range c.fieldRefs() {
		if s, ok := data[f.name].(string); ok {
			*f.ptr = s
		}
	}
	return c
}

// Overlay returns c with every non-blank field of o applied on top.
func (c Customer) Overlay(o Customer) Customer {
	src := o.fieldRefs()
	for i, f := range c.fieldRefs() {
		if v := strings.TrimSpace(*src[i].ptr); v != "" {
			*f.ptr = *src[i].ptr
		}
	}
	return c
}

// Normalize trims every field and applies the canonical masks for documents,
// phones and CEP. Values that do not have the expected digit count are left
// as typed so validation can report them.
func (c *Customer) Normalize() {
	for _, f := range c.fieldRefs() {
		*f.ptr = strings.TrimSpace(*f.ptr)
	}
	c.Email = strings.ToLower(c.Email)
	c.CNPJ = FormatCNPJ(c.CNPJ)
	c.CPF = FormatCPF(c.CPF)
	c.CEP = FormatCEP(c.CEP)
	c.Celular = FormatPhone(c.Celular)
	c.Telefone = FormatPhone(c.Telefone)
	if d, err := ParseBirthDate(c.DataNascimento); err == nil {
		c.DataNascimento = d.Format(dateLayoutISO)
	}
}
