// Package filler writes resolved field values into a copy of the current
// template and delivers the completed document, either inline or as a
// stored object reference.
package filler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taxcodex/t1fill/internal/acroform"
	"github.com/taxcodex/t1fill/internal/resolver"
	"github.com/taxcodex/t1fill/internal/store"
	"github.com/taxcodex/t1fill/internal/template"
)

// MismatchError reports resolved fields absent from the template at fill
// time. That means the cached catalog and the template have diverged (a
// just-rotated template), which is fatal for the request: dropping the
// fields would lose values silently.
type MismatchError struct {
	Fields []string
}

func (e *MismatchError) Error() string {
	return "template is missing resolved fields: " + strings.Join(e.Fields, ", ")
}

// WriteError reports a failure producing the output document.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string { return fmt.Sprintf("write filled document: %v", e.Err) }
func (e *WriteError) Unwrap() error { return e.Err }

// StorageError reports a failure uploading the completed document.
type StorageError struct {
	Key string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("store output %s: %v", e.Key, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// Result is the completed return: document bytes, or a storage reference
// when output persistence is enabled.
type Result struct {
	PDF []byte
	URL string
}

// Filler fills templates. Filling is CPU-bound, so concurrent fills are
// capped.
type Filler struct {
	store        store.Store
	saveOutput   bool
	outputPrefix string
	log          *slog.Logger
	sem          chan struct{}
}

// New creates a filler. When saveOutput is set, completed documents upload
// under outputPrefix and the result carries a URL instead of bytes.
func New(st store.Store, saveOutput bool, outputPrefix string, maxConcurrent int, log *slog.Logger) *Filler {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Filler{
		store:        st,
		saveOutput:   saveOutput,
		outputPrefix: outputPrefix,
		log:          log,
		sem:          make(chan struct{}, maxConcurrent),
	}
}

// Fill writes values into a copy of snap's template. The shared snapshot is
// never mutated; fields not present in values keep the template's defaults.
func (f *Filler) Fill(ctx context.Context, snap *template.Snapshot, values resolver.FieldValues) (*Result, error) {
	if missing := MissingFields(values, snap.Fields); len(missing) > 0 {
		return nil, &MismatchError{Fields: missing}
	}

	select {
	case f.sem <- struct{}{}:
		defer func() { <-f.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	out, err := acroform.Fill(snap.PDF, values)
	if err != nil {
		return nil, &WriteError{Err: err}
	}

	if !f.saveOutput {
		return &Result{PDF: out}, nil
	}

	key := f.outputPrefix + "t1-" + uuid.NewString() + ".pdf"
	url, err := f.upload(ctx, key, out)
	if err != nil {
		return nil, &StorageError{Key: key, Err: err}
	}
	f.log.Info("uploaded completed return", "key", key, "bytes", len(out))
	return &Result{URL: url}, nil
}

func (f *Filler) upload(ctx context.Context, key string, data []byte) (string, error) {
	var lastErr error
	for attempt := range store.MaxAttempts {
		url, err := f.store.Put(ctx, key, data, "application/pdf")
		if err == nil {
			return url, nil
		}
		lastErr = err
		if attempt == store.MaxAttempts-1 {
			break
		}
		f.log.Warn("output upload failed, retrying", "key", key, "attempt", attempt, "error", err)
		select {
		case <-time.After(store.Backoff(attempt)):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", lastErr
}

// MissingFields returns the resolved field ids absent from the template's
// field set, sorted for stable error messages.
func MissingFields(values resolver.FieldValues, templateFields map[string]bool) []string {
	var missing []string
	for field := range values {
		if !templateFields[field] {
			missing = append(missing, field)
		}
	}
	sort.Strings(missing)
	return missing
}
