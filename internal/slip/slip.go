package slip

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Identity holds the taxpayer fields read off a T4 slip.
type Identity struct {
	FirstName            string `json:"firstName,omitempty"`
	LastName             string `json:"lastName,omitempty"`
	Initial              string `json:"initial,omitempty"`
	SIN                  string `json:"sin,omitempty"`
	Address              string `json:"address,omitempty"`
	Employer             string `json:"employer,omitempty"`
	PayrollAccount       string `json:"payrollAccount,omitempty"`
	ProvinceOfEmployment string `json:"provinceOfEmployment,omitempty"`
}

// Slip is one extracted T4: taxpayer identity plus box and other-info
// amounts. Box codes are unique within a slip; the extractor guarantees
// that because each code is a distinct form field.
type Slip struct {
	Identity  Identity                   `json:"identity"`
	Boxes     map[string]decimal.Decimal `json:"boxes"`
	OtherInfo map[string]decimal.Decimal `json:"otherInfo"`
}

// SameTaxpayer reports whether two identities can belong to the same filer.
// Only fields present on both sides are compared, so a slip that names
// nothing conflicts with nothing. On conflict the offending field name is
// returned.
func SameTaxpayer(a, b Identity) (bool, string) {
	if c := normalizeSIN(a.SIN); c != "" {
		if d := normalizeSIN(b.SIN); d != "" && c != d {
			return false, "sin"
		}
	}
	if !sameName(a.LastName, b.LastName) {
		return false, "lastName"
	}
	if !sameName(a.FirstName, b.FirstName) {
		return false, "firstName"
	}
	return true, ""
}

func sameName(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	return a == "" || b == "" || a == b
}

func normalizeSIN(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// ParseAmount converts currency text as it appears on a slip ("1,234.56",
// "$1 234.56", "(120.00)") into an exact decimal. Parentheses denote a
// negative amount.
func ParseAmount(s string) (decimal.Decimal, error) {
	t := strings.TrimSpace(s)
	if t == "" {
		return decimal.Decimal{}, fmt.Errorf("empty amount")
	}
	neg := false
	if strings.HasPrefix(t, "(") && strings.HasSuffix(t, ")") {
		neg = true
		t = t[1 : len(t)-1]
	}
	var b strings.Builder
	for _, r := range t {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '-', r == '+':
			b.WriteRune(r)
		case r == ',', r == ' ', r == ' ', r == '$':
			// grouping and currency decoration
		default:
			return decimal.Decimal{}, fmt.Errorf("amount %q contains %q", s, r)
		}
	}
	if b.Len() == 0 {
		return decimal.Decimal{}, fmt.Errorf("amount %q has no digits", s)
	}
	d, err := decimal.NewFromString(b.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}
