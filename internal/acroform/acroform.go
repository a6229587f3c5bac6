// Package acroform wraps pdfcpu's interactive-form operations behind the
// three primitives the pipeline needs: read a form's values, list its field
// identifiers, and fill a copy of a template.
package acroform

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

func newConf() *model.Configuration {
	c := model.NewDefaultConfiguration()
	c.ValidationMode = model.ValidationRelaxed
	return c
}

// formData mirrors pdfcpu's form JSON, reduced to the entry kinds present on
// the forms this service handles.
type formData struct {
	Forms []formFields `json:"forms"`
}

type formFields struct {
	TextFields []textField `json:"textfield,omitempty"`
}

type textField struct {
	Name    string `json:"name"`
	Default string `json:"default,omitempty"`
	Value   string `json:"value"`
	Locked  bool   `json:"locked"`
}

// ExportValues reads the document's AcroForm and returns field id -> current
// value. Fields without a value map to the empty string.
func ExportValues(doc []byte) (map[string]string, error) {
	var buf bytes.Buffer
	if err := api.ExportFormJSON(bytes.NewReader(doc), &buf, "", newConf()); err != nil {
		return nil, fmt.Errorf("export form: %w", err)
	}
	var fd formData
	if err := json.Unmarshal(buf.Bytes(), &fd); err != nil {
		return nil, fmt.Errorf("decode form export: %w", err)
	}
	values := make(map[string]string)
	for _, f := range fd.Forms {
		for _, tf := range f.TextFields {
			values[tf.Name] = tf.Value
		}
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("document contains no form fields")
	}
	return values, nil
}

// ListFields returns the set of field identifiers present in the document.
func ListFields(doc []byte) (map[string]bool, error) {
	values, err := ExportValues(doc)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]bool, len(values))
	for name := range values {
		fields[name] = true
	}
	return fields, nil
}

// Fill writes values into a copy of the template and returns the new
// document bytes. The template slice is never modified.
func Fill(template []byte, values map[string]string) ([]byte, error) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	fields := make([]textField, 0, len(names))
	for _, name := range names {
		fields = append(fields, textField{Name: name, Value: values[name]})
	}
	data, err := json.Marshal(formData{Forms: []formFields{{TextFields: fields}}})
	if err != nil {
		return nil, fmt.Errorf("encode form data: %w", err)
	}

	var out bytes.Buffer
	if err := api.FillForm(bytes.NewReader(template), bytes.NewReader(data), &out, newConf()); err != nil {
		return nil, fmt.Errorf("fill form: %w", err)
	}

	h := sha256.New()
	h.Write(template)
	h.Write(data)
	return normalize(out.Bytes(), h.Sum(nil)), nil
}

var (
	fileIDRE   = regexp.MustCompile(`/ID\s*\[\s*<([0-9A-Fa-f]+)>\s*<([0-9A-Fa-f]+)>\s*\]`)
	infoDateRE = regexp.MustCompile(`/(?:CreationDate|ModDate)\s*\(D:(\d{14})`)
)

const pinnedDate = "20000101000000"

// normalize rewrites the bytes the writer stamps from the wall clock: the
// trailer /ID pair and the info dictionary dates. Filling the same values
// into the same template must produce identical documents, so both become
// functions of the input instead. Replacements preserve byte length, which
// keeps cross-reference offsets valid.
func normalize(doc, seed []byte) []byte {
	digest := hex.EncodeToString(seed)
	for _, m := range fileIDRE.FindAllSubmatchIndex(doc, -1) {
		stampHex(doc[m[2]:m[3]], digest)
		stampHex(doc[m[4]:m[5]], digest)
	}
	for _, m := range infoDateRE.FindAllSubmatchIndex(doc, -1) {
		copy(doc[m[2]:m[3]], pinnedDate)
	}
	return doc
}

func stampHex(dst []byte, digest string) {
	for i := range dst {
		dst[i] = digest[i%len(digest)]
	}
}
