// Package extract turns an uploaded T4 document into normalized slips. The
// supported upload is the CRA fillable T4 PDF: slip data lives in AcroForm
// fields, one group of fields per printed slip.
package extract

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/taxcodex/t1fill/internal/acroform"
	"github.com/taxcodex/t1fill/internal/slip"
)

// DocumentError reports an upload the extractor cannot use: unreadable,
// empty, the wrong kind of document, or a form with no slip data.
type DocumentError struct {
	Reason string
	Err    error
}

func (e *DocumentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *DocumentError) Unwrap() error { return e.Err }

// Extractor reads slips out of uploaded documents. PDF parsing is CPU-bound,
// so concurrent extractions are capped.
type Extractor struct {
	year string
	log  *slog.Logger
	sem  chan struct{}
}

// New creates an extractor for the configured tax year.
func New(year string, maxConcurrent int, log *slog.Logger) *Extractor {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Extractor{
		year: year,
		log:  log,
		sem:  make(chan struct{}, maxConcurrent),
	}
}

// Extract produces the document's slips. Every slip found on the form is
// returned in slip-number order; a document with no slip data fails.
func (e *Extractor) Extract(ctx context.Context, doc []byte) ([]slip.Slip, error) {
	if len(doc) == 0 {
		return nil, &DocumentError{Reason: "uploaded document is empty"}
	}

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := e.verifySlipDocument(doc); err != nil {
		return nil, err
	}

	values, err := acroform.ExportValues(doc)
	if err != nil {
		return nil, &DocumentError{Reason: "unable to read form fields", Err: err}
	}

	slips, err := slipsFromFormValues(values)
	if err != nil {
		return nil, err
	}
	e.log.Info("extracted slips", "slips", len(slips))
	return slips, nil
}
