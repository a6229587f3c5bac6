// Package mapping converts extracted T4 slips into canonical T1 line values
// by evaluating the declarative rule table.
package mapping

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/taxcodex/t1fill/internal/rules"
	"github.com/taxcodex/t1fill/internal/slip"
)

// LineValues maps T1 line codes to computed amounts.
type LineValues map[string]decimal.Decimal

// ErrNoSlips is returned when the engine is invoked without input. Requests
// are expected to be rejected before reaching this point, so hitting it
// indicates a caller bug rather than bad user input.
var ErrNoSlips = errors.New("no slips to map")

// UnknownCodeError reports a box or other-info code that matches no rule.
type UnknownCodeError struct {
	Code string
	Kind string // "box" or "otherInfo"
}

func (e *UnknownCodeError) Error() string {
	return fmt.Sprintf("unknown %s code %q", e.Kind, e.Code)
}

// IdentityConflictError reports slips that disagree on who the taxpayer is.
type IdentityConflictError struct {
	SlipIndex int
	Field     string
}

func (e *IdentityConflictError) Error() string {
	return fmt.Sprintf("slip %d identity field %s conflicts with slip 1", e.SlipIndex+1, e.Field)
}

// Engine evaluates the rule table against one or more slips.
type Engine struct {
	rules  *rules.Set
	strict bool
	log    *slog.Logger
}

// NewEngine builds an engine over a validated rule set. In strict mode an
// input code unknown to every rule fails the request; otherwise it is
// logged and ignored.
func NewEngine(rs *rules.Set, strict bool, log *slog.Logger) *Engine {
	return &Engine{rules: rs, strict: strict, log: log}
}

// MapSlips aggregates the slips into line values and returns the canonical
// identity (the first slip's). Rules evaluate in dependency order; rounding
// happens once per rule at its designated boundary.
func (e *Engine) MapSlips(slips []slip.Slip) (slip.Identity, LineValues, error) {
	if len(slips) == 0 {
		return slip.Identity{}, nil, ErrNoSlips
	}

	canonical := slips[0].Identity
	for i := 1; i < len(slips); i++ {
		if ok, field := slip.SameTaxpayer(canonical, slips[i].Identity); !ok {
			return slip.Identity{}, nil, &IdentityConflictError{SlipIndex: i, Field: field}
		}
	}

	if err := e.checkCodes(slips); err != nil {
		return slip.Identity{}, nil, err
	}

	out := make(LineValues)
	for _, r := range e.rules.Ordered() {
		v, fired := e.evaluate(r, slips, out)
		if !fired {
			continue
		}
		if r.FloorZero && v.IsNegative() {
			v = decimal.Decimal{}
		}
		out[r.Line] = round(v, r.Rounding)
	}
	return canonical, out, nil
}

// checkCodes scans input codes in deterministic order so strict mode always
// names the same first offender for the same input.
func (e *Engine) checkCodes(slips []slip.Slip) error {
	for i, s := range slips {
		for _, code := range sortedKeys(s.Boxes) {
			if e.rules.KnowsBox(code) {
				continue
			}
			if e.strict {
				return &UnknownCodeError{Code: code, Kind: "box"}
			}
			e.log.Warn("ignoring unknown box code", "slip", i+1, "code", code)
		}
		for _, code := range sortedKeys(s.OtherInfo) {
			if e.rules.KnowsOtherInfo(code) {
				continue
			}
			if e.strict {
				return &UnknownCodeError{Code: code, Kind: "otherInfo"}
			}
			e.log.Warn("ignoring unknown other-info code", "slip", i+1, "code", code)
		}
	}
	return nil
}

func (e *Engine) evaluate(r rules.Rule, slips []slip.Slip, computed LineValues) (decimal.Decimal, bool) {
	if r.Aggregation == rules.AggFormula {
		return evalFormula(r, computed)
	}

	var acc decimal.Decimal
	fired := false
	for _, s := range slips {
		for _, v := range sourceValues(r, s) {
			switch {
			case !fired:
				acc = v
				fired = true
			case r.Aggregation == rules.AggSum:
				acc = acc.Add(v)
			case r.Aggregation == rules.AggMax:
				acc = decimal.Max(acc, v)
			case r.Aggregation == rules.AggFirst:
				// keep the first value seen
			}
		}
	}
	if !fired && r.DefaultZero {
		return decimal.Decimal{}, true
	}
	return acc, fired
}

// sourceValues returns the rule's raw inputs present on one slip, in the
// order the rule declares them.
func sourceValues(r rules.Rule, s slip.Slip) []decimal.Decimal {
	var vals []decimal.Decimal
	for _, code := range r.Boxes {
		if v, ok := s.Boxes[code]; ok {
			vals = append(vals, v)
		}
	}
	for _, code := range r.OtherInfo {
		if v, ok := s.OtherInfo[code]; ok {
			vals = append(vals, v)
		}
	}
	return vals
}

// evalFormula sums signed terms over already-computed lines. A referenced
// line that did not fire counts as zero; the formula itself fires only if
// at least one referenced line did (or the rule defaults to zero).
func evalFormula(r rules.Rule, computed LineValues) (decimal.Decimal, bool) {
	var acc decimal.Decimal
	fired := false
	for _, t := range r.Terms {
		v, ok := computed[t.Line]
		if !ok {
			continue
		}
		fired = true
		if t.Negate {
			acc = acc.Sub(v)
		} else {
			acc = acc.Add(v)
		}
	}
	if !fired && !r.DefaultZero {
		return decimal.Decimal{}, false
	}
	return acc, true
}

func round(v decimal.Decimal, policy rules.Rounding) decimal.Decimal {
	switch policy {
	case rules.RoundDollar:
		return v.Round(0)
	case rules.RoundCent:
		return v.Round(2)
	default:
		return v
	}
}

func sortedKeys(m map[string]decimal.Decimal) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
