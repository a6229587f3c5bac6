// Package template manages versioned snapshots of the blank T1 return: the
// form document itself plus its field-name catalog. Field identifiers are
// never hardcoded; they always come from the catalog object published next
// to the template, so a form revision shows up as a new version token
// instead of silently corrupting output.
package template

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/taxcodex/t1fill/internal/acroform"
	"github.com/taxcodex/t1fill/internal/store"
)

// Catalog maps canonical line codes (and identity.* codes) to template field
// identifiers.
type Catalog map[string]string

// Snapshot is an immutable view of one template version. Once published to
// the cache it is shared read-only across requests.
type Snapshot struct {
	Version string
	PDF     []byte
	Catalog Catalog
	// Fields is the set of AcroForm field ids actually present in PDF.
	Fields map[string]bool
}

// Source provides the live version token and versioned snapshots.
type Source interface {
	CurrentVersion(ctx context.Context) (string, error)
	Fetch(ctx context.Context, version string) (*Snapshot, error)
}

// UnavailableError reports that the template or its catalog could not be
// fetched in time. It fails the requesting pipeline run only; cached
// versions stay intact.
type UnavailableError struct {
	Version string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("template version %q unavailable: %v", e.Version, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Keys names the objects a StoreSource reads.
type Keys struct {
	Version string // small text object holding the current version token
	PDF     string
	Catalog string
}

// StoreSource reads the template, catalog, and version token from object
// storage.
type StoreSource struct {
	store store.Store
	keys  Keys
}

func NewStoreSource(st store.Store, keys Keys) *StoreSource {
	return &StoreSource{store: st, keys: keys}
}

func (s *StoreSource) CurrentVersion(ctx context.Context) (string, error) {
	data, err := s.getWithRetry(ctx, s.keys.Version)
	if err != nil {
		return "", fmt.Errorf("read version token: %w", err)
	}
	version := strings.TrimSpace(string(data))
	if version == "" {
		return "", fmt.Errorf("version token object %s is empty", s.keys.Version)
	}
	return version, nil
}

// catalogFile is the stored shape of the field-name catalog.
type catalogFile struct {
	Version string            `json:"version"`
	Fields  map[string]string `json:"fields"`
}

// Fetch downloads the template and catalog and verifies they agree: the
// catalog must carry the requested version, and every field identifier it
// names must exist in the form.
func (s *StoreSource) Fetch(ctx context.Context, version string) (*Snapshot, error) {
	pdf, err := s.getWithRetry(ctx, s.keys.PDF)
	if err != nil {
		return nil, fmt.Errorf("fetch template: %w", err)
	}
	raw, err := s.getWithRetry(ctx, s.keys.Catalog)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}

	var cf catalogFile
	if err := json.Unmarshal(raw, &cf); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if cf.Version != "" && cf.Version != version {
		return nil, fmt.Errorf("catalog version %q does not match requested %q", cf.Version, version)
	}
	if len(cf.Fields) == 0 {
		return nil, fmt.Errorf("catalog has no field entries")
	}

	fields, err := acroform.ListFields(pdf)
	if err != nil {
		return nil, fmt.Errorf("read template fields: %w", err)
	}
	for line, field := range cf.Fields {
		if !fields[field] {
			return nil, fmt.Errorf("catalog entry %s names field %q absent from template", line, field)
		}
	}

	return &Snapshot{
		Version: version,
		PDF:     pdf,
		Catalog: Catalog(cf.Fields),
		Fields:  fields,
	}, nil
}

// getWithRetry retries transient store failures with backoff. A missing
// object is permanent and returns immediately.
func (s *StoreSource) getWithRetry(ctx context.Context, key string) ([]byte, error) {
	var lastErr error
	for attempt := range store.MaxAttempts {
		data, err := s.store.Get(ctx, key)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if errors.Is(err, store.ErrNotFound) {
			break
		}
		if attempt == store.MaxAttempts-1 {
			break
		}
		select {
		case <-time.After(store.Backoff(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}
