package slip

import (
	"testing"
)

func TestParseAmount_Formats(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1234.56", "1234.56"},
		{"1,234.56", "1234.56"},
		{"$50,000.00", "50000"},
		{"$1 234.56", "1234.56"},
		{"(120.00)", "-120"},
		{"-42.50", "-42.5"},
		{"  19.99  ", "19.99"},
		{"0.00", "0"},
	}
	for _, c := range cases {
		got, err := ParseAmount(c.in)
		if err != nil {
			t.Errorf("ParseAmount(%q): unexpected error: %v", c.in, err)
			continue
		}
		if got.String() != c.want {
			t.Errorf("ParseAmount(%q) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestParseAmount_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "abc", "12.3.4", "$"} {
		if _, err := ParseAmount(in); err == nil {
			t.Errorf("ParseAmount(%q): expected error, got none", in)
		}
	}
}

func TestSameTaxpayer_SINFormatsMatch(t *testing.T) {
	a := Identity{SIN: "123 456 789"}
	b := Identity{SIN: "123-456-789"}
	if ok, field := SameTaxpayer(a, b); !ok {
		t.Errorf("expected match, got conflict on %q", field)
	}
}

func TestSameTaxpayer_SINConflict(t *testing.T) {
	a := Identity{SIN: "123456789"}
	b := Identity{SIN: "987654321"}
	ok, field := SameTaxpayer(a, b)
	if ok {
		t.Fatal("expected conflict, got match")
	}
	if field != "sin" {
		t.Errorf("expected conflict field sin, got %q", field)
	}
}

func TestSameTaxpayer_EmptyFieldsNeverConflict(t *testing.T) {
	a := Identity{FirstName: "Jean", LastName: "Tremblay", SIN: "123456789"}
	b := Identity{}
	if ok, field := SameTaxpayer(a, b); !ok {
		t.Errorf("expected match against empty identity, got conflict on %q", field)
	}
}

func TestSameTaxpayer_NameCaseInsensitive(t *testing.T) {
	a := Identity{FirstName: "Jean", LastName: "TREMBLAY"}
	b := Identity{FirstName: "jean", LastName: "Tremblay"}
	if ok, field := SameTaxpayer(a, b); !ok {
		t.Errorf("expected case-insensitive match, got conflict on %q", field)
	}
}

func TestSameTaxpayer_LastNameConflict(t *testing.T) {
	a := Identity{LastName: "Tremblay"}
	b := Identity{LastName: "Gagnon"}
	ok, field := SameTaxpayer(a, b)
	if ok {
		t.Fatal("expected conflict, got match")
	}
	if field != "lastName" {
		t.Errorf("expected conflict field lastName, got %q", field)
	}
}
