package models

import "strings"

// Digits strips everything but ASCII digits.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FormatCNPJ renders 14 digits as NN.NNN.NNN/NNNN-NN.
func FormatCNPJ(s string) string {
	d := Digits(s)
	if len(d) != 14 {
		return s
	}
	return d[:2] + "." + d[2:5] + "." + d[5:8] + "/" + d[8:12] + "-" + d[12:]
}

// FormatCPF renders 11 digits as NNN.NNN.NNN-NN.
func FormatCPF(s string) string {
	d := Digits(s)
	if len(d) != 11 {
		return s
	}
	return d[:3] + "." + d[3:6] + "." + d[6:9] + "-" + d[9:]
}

// FormatPhone renders mobile (11 digits) and landline (10 digits) numbers.
func FormatPhone(s string) string {
	d := Digits(s)
	switch len(d) {
	case 11:
		return "(" + d[:2] + ") " + d[2:7] + "-" + d[7:]
	case 10:
		return "(" + d[:2] + ") " + d[2:6] + "-" + d[6:]
	}
	return s
}

// FormatCEP renders 8 digits as NNNNN-NNN.
func FormatCEP(s string) string {
	d := Digits(s)
	if len(d) != 8 {
		return s
	}
	return d[:5] + "-" + d[5:]
}

// MaskCPF keeps the third digit group: ***.***.NNN-**.
func MaskCPF(s string) string {
	d := Digits(s)
	if len(d) != 11 {
		return s
	}
	return "***.***." + d[6:9] + "-**"
}

// MaskCNPJ keeps the check digits: **.***.***/****-NN.
func MaskCNPJ(s string) string {
	d := Digits(s)
	if len(d) != 14 {
		return s
	}
	return "**.***.***/****-" + d[12:]
}
