package models

import (
	"regexp"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"

	dErrors "intake/pkg/domain-errors"
)

const (
	dateLayoutISO = "2006-01-02"
	dateLayoutBR  = "02/01/2006"
)

var (
	cepPattern     = regexp.MustCompile(`^\d{5}-\d{3}$`)
	agenciaPattern = regexp.MustCompile(`^\d{4,5}$`)
	contaPattern   = regexp.MustCompile(`^\d{5,10}-?\d?$`)
)

// FieldProblem names one invalid field.
type FieldProblem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func allSame(d string) bool {
	return strings.Count(d, d[:1]) == len(d)
}

// checkDigit computes a mod-11 check digit over digits with the given weights.
func checkDigit(digits string, weights []int) byte {
	sum := 0
	for i, w := range weights {
		sum += int(digits[i]-'0') * w
	}
	d := 11 - sum%11
	if d >= 10 {
		d = 0
	}
	return byte('0' + d)
}

var (
	cnpjWeights1 = []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	cnpjWeights2 = []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	cpfWeights1  = []int{10, 9, 8, 7, 6, 5, 4, 3, 2}
	cpfWeights2  = []int{11, 10, 9, 8, 7, 6, 5, 4, 3, 2}
)

// ValidCNPJ checks length and both check digits.
func ValidCNPJ(s string) bool {
	d := Digits(s)
	if len(d) != 14 || allSame(d) {
		return false
	}
	return d[12] == checkDigit(d, cnpjWeights1) && d[13] == checkDigit(d, cnpjWeights2)
}

// ValidCPF checks length and both check digits.
func ValidCPF(s string) bool {
	d := Digits(s)
	if len(d) != 11 || allSame(d) {
		return false
	}
	return d[9] == checkDigit(d, cpfWeights1) && d[10] == checkDigit(d, cpfWeights2)
}

// ValidPhone accepts landline (10) and mobile (11) digit counts.
func ValidPhone(s string) bool {
	n := len(Digits(s))
	return n == 10 || n == 11
}

// ParseBirthDate accepts YYYY-MM-DD and DD/MM/YYYY.
func ParseBirthDate(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayoutISO, s); err == nil {
		return t, nil
	}
	return time.Parse(dateLayoutBR, s)
}

var requiredFields = map[string]bool{
	"empresa":       true,
	"cnpj":          true,
	"email":         true,
	"celular":       true,
	"cep":           true,
	"endereco":      true,
	"nome_completo": true,
	"cpf":           true,
	"banco":         true,
	"agencia":       true,
	"conta":         true,
}

var maxLengths = map[string]string{
	"empresa":       "200",
	"endereco":      "300",
	"complemento":   "100",
	"nome_completo": "150",
	"banco":         "100",
}

// Problems reports every invalid field in form order. now bounds the birth date.
func (c *Customer) Problems(now time.Time) []FieldProblem {
	var out []FieldProblem
	add := func(field, msg string) {
		out = append(out, FieldProblem{Field: field, Message: msg})
	}
	for _, f := range c.fieldRefs() {
		v := *f.ptr
		if v == "" {
			if requiredFields[f.name] {
				add(f.name, "is required")
			}
			continue
		}
		if limit, ok := maxLengths[f.name]; ok && !govalidator.StringLength(v, "1", limit) {
			add(f.name, "must be at most "+limit+" characters")
			continue
		}
		switch f.name {
		case "cnpj":
			if !ValidCNPJ(v) {
				add(f.name, "is not a valid CNPJ")
			}
		case "cpf":
			if !ValidCPF(v) {
				add(f.name, "is not a valid CPF")
			}
		case "email":
			if !govalidator.IsEmail(v) {
				add(f.name, "is not a valid email address")
			}
		case "celular", "telefone":
			if !ValidPhone(v) {
				add(f.name, "must have 10 or 11 digits")
			}
		case "cep":
			if !cepPattern.MatchString(FormatCEP(v)) {
				add(f.name, "must have 8 digits")
			}
		case "data_nascimento":
			d, err := ParseBirthDate(v)
			if err != nil {
				add(f.name, "must be YYYY-MM-DD or DD/MM/YYYY")
			} else if !d.Before(now) {
				add(f.name, "must be in the past")
			}
		case "agencia":
			if !agenciaPattern.MatchString(v) {
				add(f.name, "must have 4 or 5 digits")
			}
		case "conta":
			if !contaPattern.MatchString(v) {
				add(f.name, "must have 5 to 10 digits and an optional check digit")
			}
		}
	}
	return out
}

// Validate returns an invalid_input error naming every problem, or nil.
func (c *Customer) Validate(now time.Time) error {
	problems := c.Problems(now)
	if len(problems) == 0 {
		return nil
	}
	parts := make([]string, len(problems))
	for i, p := range problems {
		parts[i] = p.Field + " " + p.Message
	}
	return dErrors.New(dErrors.CodeInvalidInput, strings.Join(parts, "; "))
}
