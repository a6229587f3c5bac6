// Package resolver binds canonical line values to the template's actual
// field identifiers via the cached field catalog.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/taxcodex/t1fill/internal/mapping"
	"github.com/taxcodex/t1fill/internal/slip"
	"github.com/taxcodex/t1fill/internal/template"
)

// FieldValues maps template field identifiers to display-ready values.
type FieldValues map[string]string

// UnresolvedFieldError reports a line that carries a value but has no
// catalog entry. Dropping it would silently lose a financial amount, so the
// whole request fails instead.
type UnresolvedFieldError struct {
	Line string
}

func (e *UnresolvedFieldError) Error() string {
	return fmt.Sprintf("line %s has a value but no catalog entry", e.Line)
}

// Identity catalog codes. The catalog maps these the same way it maps line
// codes, so personal-information fields are as template-driven as amounts.
const (
	codeFirstName      = "identity.firstName"
	codeLastName       = "identity.lastName"
	codeInitial        = "identity.initial"
	codeSIN            = "identity.sin"
	codeAddress        = "identity.address"
	codeEmployer       = "identity.employer"
	codePayrollAccount = "identity.payrollAccount"
	codeProvince       = "identity.provinceOfEmployment"
)

// Resolver resolves line values against template snapshots.
type Resolver struct {
	cache *template.Cache
	log   *slog.Logger
}

func New(cache *template.Cache, log *slog.Logger) *Resolver {
	return &Resolver{cache: cache, log: log}
}

// Current returns the live template snapshot via the cache.
func (r *Resolver) Current(ctx context.Context) (*template.Snapshot, error) {
	return r.cache.Current(ctx)
}

// Resolve maps identity fields and line values onto snap's field
// identifiers. A line with a default (zero/empty) value and no catalog
// entry is omitted; a non-default value without an entry fails the request.
// Output is deterministic for identical input and snapshot.
func (r *Resolver) Resolve(id slip.Identity, lines mapping.LineValues, snap *template.Snapshot) (FieldValues, error) {
	out := make(FieldValues, len(lines))

	for _, code := range sortedLines(lines) {
		v := lines[code]
		field, ok := snap.Catalog[code]
		if !ok {
			if v.IsZero() {
				r.log.Debug("omitting zero line without catalog entry", "line", code)
				continue
			}
			return nil, &UnresolvedFieldError{Line: code}
		}
		out[field] = v.StringFixed(2)
	}

	identityValues := []struct {
		code  string
		value string
	}{
		{codeFirstName, id.FirstName},
		{codeLastName, id.LastName},
		{codeInitial, id.Initial},
		{codeSIN, id.SIN},
		{codeAddress, id.Address},
		{codeEmployer, id.Employer},
		{codePayrollAccount, id.PayrollAccount},
		{codeProvince, id.ProvinceOfEmployment},
	}
	for _, iv := range identityValues {
		if iv.value == "" {
			continue
		}
		field, ok := snap.Catalog[iv.code]
		if !ok {
			return nil, &UnresolvedFieldError{Line: iv.code}
		}
		out[field] = iv.value
	}

	return out, nil
}

func sortedLines(lines mapping.LineValues) []string {
	codes := make([]string, 0, len(lines))
	for code := range lines {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
