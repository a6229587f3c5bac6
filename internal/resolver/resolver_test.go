package resolver

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/taxcodex/t1fill/internal/mapping"
	"github.com/taxcodex/t1fill/internal/slip"
	"github.com/taxcodex/t1fill/internal/template"
)

func testResolver() *Resolver {
	return New(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", s, err)
	}
	return d
}

func testSnapshot() *template.Snapshot {
	return &template.Snapshot{
		Version: "v1",
		Catalog: template.Catalog{
			"10100":              "TotalEmploymentIncome",
			"43700":              "TotalIncomeTaxDeducted",
			"identity.firstName": "FirstName",
			"identity.lastName":  "LastName",
			"identity.sin":       "SIN",
		},
		Fields: map[string]bool{
			"TotalEmploymentIncome":  true,
			"TotalIncomeTaxDeducted": true,
			"FirstName":              true,
			"LastName":               true,
			"SIN":                    true,
		},
	}
}

func TestResolve_AmountsTwoDecimalPlaces(t *testing.T) {
	r := testResolver()
	lines := mapping.LineValues{
		"10100": dec(t, "50000"),
		"43700": dec(t, "8000.5"),
	}

	out, err := r.Resolve(slip.Identity{}, lines, testSnapshot())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := out["TotalEmploymentIncome"]; got != "50000.00" {
		t.Errorf("expected 50000.00, got %q", got)
	}
	if got := out["TotalIncomeTaxDeducted"]; got != "8000.50" {
		t.Errorf("expected 8000.50, got %q", got)
	}
}

func TestResolve_NonZeroLineWithoutEntryFails(t *testing.T) {
	r := testResolver()
	lines := mapping.LineValues{"99999": dec(t, "12.34")}

	_, err := r.Resolve(slip.Identity{}, lines, testSnapshot())
	var unresolved *UnresolvedFieldError
	if !errors.As(err, &unresolved) {
		t.Fatalf("expected UnresolvedFieldError, got %v", err)
	}
	if unresolved.Line != "99999" {
		t.Errorf("expected line 99999, got %q", unresolved.Line)
	}
}

func TestResolve_ZeroLineWithoutEntryOmitted(t *testing.T) {
	r := testResolver()
	lines := mapping.LineValues{
		"10100": dec(t, "100"),
		"99999": decimal.Decimal{},
	}

	out, err := r.Resolve(slip.Identity{}, lines, testSnapshot())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Errorf("expected 1 field, got %d: %v", len(out), out)
	}
}

func TestResolve_Identity(t *testing.T) {
	r := testResolver()
	id := slip.Identity{FirstName: "Jean", LastName: "Tremblay", SIN: "123456789"}

	out, err := r.Resolve(id, nil, testSnapshot())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["FirstName"] != "Jean" || out["LastName"] != "Tremblay" || out["SIN"] != "123456789" {
		t.Errorf("identity not resolved: %v", out)
	}
}

func TestResolve_IdentityWithoutEntryFails(t *testing.T) {
	r := testResolver()
	id := slip.Identity{Address: "1 Main St"}

	_, err := r.Resolve(id, nil, testSnapshot())
	var unresolved *UnresolvedFieldError
	if !errors.As(err, &unresolved) {
		t.Fatalf("expected UnresolvedFieldError, got %v", err)
	}
	if unresolved.Line != "identity.address" {
		t.Errorf("expected identity.address, got %q", unresolved.Line)
	}
}

func TestResolve_EmptyIdentityFieldsSkipped(t *testing.T) {
	r := testResolver()

	out, err := r.Resolve(slip.Identity{}, nil, testSnapshot())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected no fields, got %v", out)
	}
}
