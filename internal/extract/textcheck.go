package extract

import (
	"bytes"
	"strings"

	pdflib "github.com/ledongthuc/pdf"
)

// verifySlipDocument scans the document's text layer as a cheap sanity
// check before form parsing. A readable document that is clearly not a T4
// is rejected; a document with no extractable text (scans, odd encodings)
// passes through to form parsing, which is the real gate.
func (e *Extractor) verifySlipDocument(doc []byte) error {
	text, err := plainText(doc)
	if err != nil {
		e.log.Warn("text layer unreadable, skipping document check", "error", err)
		return nil
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if !strings.Contains(text, "T4") {
		return &DocumentError{Reason: "document does not look like a T4 slip"}
	}
	if e.year != "" && !strings.Contains(text, e.year) {
		e.log.Warn("document text does not mention configured tax year", "year", e.year)
	}
	return nil
}

func plainText(doc []byte) (string, error) {
	reader, err := pdflib.NewReader(bytes.NewReader(doc), int64(len(doc)))
	if err != nil {
		return "", err
	}
	var buf strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		buf.WriteString(text)
		buf.WriteString("\n")
	}
	return buf.String(), nil
}
