package acroform

import (
	"bytes"
	"encoding/json"
	"sort"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

type fixtureFont struct {
	Name string `json:"name"`
	Size int    `json:"size"`
}

type fixtureField struct {
	ID    string      `json:"id"`
	Value string      `json:"value,omitempty"`
	Pos   [2]float64  `json:"pos"`
	Width float64     `json:"width"`
	Font  fixtureFont `json:"font"`
}

// buildForm creates a single-page document with one text field per entry.
func buildForm(t *testing.T, values map[string]string) []byte {
	t.Helper()

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]fixtureField, 0, len(names))
	y := 700.0
	for _, name := range names {
		fields = append(fields, fixtureField{
			ID:    name,
			Value: values[name],
			Pos:   [2]float64{72, y},
			Width: 200,
			Font:  fixtureFont{Name: "Helvetica", Size: 12},
		})
		y -= 30
	}

	desc, err := json.Marshal(map[string]any{
		"paper":  "A4",
		"origin": "LowerLeft",
		"pages": map[string]any{
			"1": map[string]any{
				"content": map[string]any{"textfield": fields},
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}

	var buf bytes.Buffer
	if err := api.Create(nil, bytes.NewReader(desc), &buf, newConf()); err != nil {
		t.Fatalf("create form fixture: %v", err)
	}
	return buf.Bytes()
}

func TestExportValues(t *testing.T) {
	doc := buildForm(t, map[string]string{
		"Line10100": "50000.00",
		"FirstName": "Jean",
	})

	values, err := ExportValues(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := values["Line10100"]; got != "50000.00" {
		t.Errorf("expected 50000.00, got %q", got)
	}
	if got := values["FirstName"]; got != "Jean" {
		t.Errorf("expected Jean, got %q", got)
	}
}

func TestExportValues_NotAPDF(t *testing.T) {
	if _, err := ExportValues([]byte("not a pdf")); err == nil {
		t.Fatal("expected error for junk input")
	}
}

func TestListFields(t *testing.T) {
	doc := buildForm(t, map[string]string{
		"Line10100": "",
		"SIN":       "",
	})

	fields, err := ListFields(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fields["Line10100"] || !fields["SIN"] {
		t.Errorf("expected both fields present, got %v", fields)
	}
}

func TestFill_RoundTrip(t *testing.T) {
	tpl := buildForm(t, map[string]string{"Line10100": ""})

	out, err := Fill(tpl, map[string]string{"Line10100": "50000.00"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	values, err := ExportValues(out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := values["Line10100"]; got != "50000.00" {
		t.Errorf("expected 50000.00 after fill, got %q", got)
	}
}

func TestFill_TemplateUntouched(t *testing.T) {
	tpl := buildForm(t, map[string]string{"Line10100": ""})
	before := append([]byte(nil), tpl...)

	if _, err := Fill(tpl, map[string]string{"Line10100": "1.00"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(tpl, before) {
		t.Error("fill mutated the template bytes")
	}
}

func TestFill_Deterministic(t *testing.T) {
	tpl := buildForm(t, map[string]string{"Line10100": "", "SIN": ""})
	values := map[string]string{
		"Line10100": "50000.00",
		"SIN":       "123456789",
	}

	a, err := Fill(tpl, values)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := Fill(tpl, values)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("identical fills produced different documents")
	}
}

func TestFill_DifferentValuesDifferentDocuments(t *testing.T) {
	tpl := buildForm(t, map[string]string{"Line10100": ""})

	a, err := Fill(tpl, map[string]string{"Line10100": "1.00"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := Fill(tpl, map[string]string{"Line10100": "2.00"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatal("different values produced identical documents")
	}
}
