// Package rules holds the declarative T4-box-to-T1-line rule table. The
// table is data, not code: yearly CRA revisions land as YAML changes.
package rules

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Aggregation selects how a rule combines its raw inputs across slips.
type Aggregation string

const (
	// AggSum adds the source values across all slips (repeatable
	// income/deduction boxes).
	AggSum Aggregation = "sum"
	// AggFirst takes the first present value in slip order (single-valued
	// fields).
	AggFirst Aggregation = "first"
	// AggMax takes the greatest present value (mutually exclusive variants).
	AggMax Aggregation = "max"
	// AggFormula combines other line values instead of raw boxes.
	AggFormula Aggregation = "formula"
)

// Rounding names the policy applied at a rule's rounding boundary.
// Intermediate sums always stay in full precision.
type Rounding string

const (
	RoundNone   Rounding = "none"
	RoundCent   Rounding = "cent"
	RoundDollar Rounding = "dollar"
)

// Term is one signed operand of a formula rule.
type Term struct {
	Line   string `yaml:"line"`
	Negate bool   `yaml:"negate,omitempty"`
}

// Rule describes how one canonical T1 line is computed.
type Rule struct {
	Line        string      `yaml:"line"`
	Label       string      `yaml:"label,omitempty"`
	Boxes       []string    `yaml:"boxes,omitempty"`
	OtherInfo   []string    `yaml:"other_info,omitempty"`
	Aggregation Aggregation `yaml:"aggregation"`
	Rounding    Rounding    `yaml:"rounding,omitempty"`
	Terms       []Term      `yaml:"terms,omitempty"`
	// FloorZero clamps a negative result to zero (net/taxable income lines).
	FloorZero bool `yaml:"floor_zero,omitempty"`
	// DefaultZero makes the rule fire with a zero value when none of its
	// inputs are present. Rules without it simply produce no line.
	DefaultZero bool `yaml:"default_zero,omitempty"`
}

// CycleError reports a dependency cycle between formula rules. This is a
// configuration defect: the service must refuse to start until it is fixed.
type CycleError struct {
	Lines []string
}

func (e *CycleError) Error() string {
	return "rule dependency cycle: " + strings.Join(e.Lines, " -> ")
}

// Set is a validated rule table in evaluation order.
type Set struct {
	Version      string
	Jurisdiction string

	ordered    []Rule
	byLine     map[string]Rule
	knownBoxes map[string]bool
	knownOther map[string]bool
}

type tableFile struct {
	Version      string `yaml:"version"`
	Jurisdiction string `yaml:"jurisdiction"`
	Rules        []Rule `yaml:"rules"`
}

//go:embed cra_on_2024.yaml
var defaultTable []byte

// Default returns the embedded CRA 2024 Ontario rule table.
func Default() (*Set, error) {
	return parse(defaultTable)
}

// LoadFile reads a rule table from an external YAML file.
func LoadFile(path string) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rule table: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load reads and validates a rule table.
func Load(r io.Reader) (*Set, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read rule table: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Set, error) {
	var tf tableFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse rule table: %w", err)
	}
	if len(tf.Rules) == 0 {
		return nil, fmt.Errorf("rule table is empty")
	}

	s := &Set{
		Version:      tf.Version,
		Jurisdiction: tf.Jurisdiction,
		byLine:       make(map[string]Rule, len(tf.Rules)),
		knownBoxes:   make(map[string]bool),
		knownOther:   make(map[string]bool),
	}
	for i, r := range tf.Rules {
		if r.Line == "" {
			return nil, fmt.Errorf("rule %d: missing line code", i)
		}
		if _, dup := s.byLine[r.Line]; dup {
			return nil, fmt.Errorf("line %s: duplicate rule", r.Line)
		}
		if r.Rounding == "" {
			r.Rounding = RoundCent
		}
		if err := validateRule(r); err != nil {
			return nil, err
		}
		s.byLine[r.Line] = r
		for _, b := range r.Boxes {
			s.knownBoxes[b] = true
		}
		for _, o := range r.OtherInfo {
			s.knownOther[o] = true
		}
	}

	for _, r := range s.byLine {
		for _, t := range r.Terms {
			if _, ok := s.byLine[t.Line]; !ok {
				return nil, fmt.Errorf("line %s: formula references unknown line %s", r.Line, t.Line)
			}
		}
	}

	ordered, err := topoOrder(s.byLine)
	if err != nil {
		return nil, err
	}
	s.ordered = ordered
	return s, nil
}

func validateRule(r Rule) error {
	switch r.Aggregation {
	case AggSum, AggFirst, AggMax:
		if len(r.Boxes)+len(r.OtherInfo) == 0 {
			return fmt.Errorf("line %s: %s rule has no source codes", r.Line, r.Aggregation)
		}
		if len(r.Terms) > 0 {
			return fmt.Errorf("line %s: terms are only valid on formula rules", r.Line)
		}
	case AggFormula:
		if len(r.Terms) == 0 {
			return fmt.Errorf("line %s: formula rule has no terms", r.Line)
		}
		if len(r.Boxes)+len(r.OtherInfo) > 0 {
			return fmt.Errorf("line %s: formula rules may not list raw codes", r.Line)
		}
	default:
		return fmt.Errorf("line %s: unknown aggregation %q", r.Line, r.Aggregation)
	}
	switch r.Rounding {
	case RoundNone, RoundCent, RoundDollar:
	default:
		return fmt.Errorf("line %s: unknown rounding %q", r.Line, r.Rounding)
	}
	return nil
}

// topoOrder runs Kahn's algorithm over the formula dependency edges. Ties
// break on line code so the evaluation order is stable run to run.
func topoOrder(byLine map[string]Rule) ([]Rule, error) {
	indeg := make(map[string]int, len(byLine))
	dependents := make(map[string][]string)
	for line, r := range byLine {
		indeg[line] += 0
		for _, t := range r.Terms {
			indeg[line]++
			dependents[t.Line] = append(dependents[t.Line], line)
		}
	}

	var ready []string
	for line, d := range indeg {
		if d == 0 {
			ready = append(ready, line)
		}
	}
	sort.Strings(ready)

	ordered := make([]Rule, 0, len(byLine))
	for len(ready) > 0 {
		line := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byLine[line])
		deps := dependents[line]
		sort.Strings(deps)
		for _, dep := range deps {
			indeg[dep]--
			if indeg[dep] == 0 {
				ready = append(ready, dep)
			}
		}
		sort.Strings(ready)
	}

	if len(ordered) != len(byLine) {
		var stuck []string
		for line, d := range indeg {
			if d > 0 {
				stuck = append(stuck, line)
			}
		}
		sort.Strings(stuck)
		return nil, &CycleError{Lines: stuck}
	}
	return ordered, nil
}

// Ordered returns the rules in dependency order: every formula rule comes
// after the lines it references.
func (s *Set) Ordered() []Rule {
	return s.ordered
}

// KnowsBox reports whether any rule consumes the given box code.
func (s *Set) KnowsBox(code string) bool {
	return s.knownBoxes[code]
}

// KnowsOtherInfo reports whether any rule consumes the given other-info code.
func (s *Set) KnowsOtherInfo(code string) bool {
	return s.knownOther[code]
}

// Len returns the number of rules in the table.
func (s *Set) Len() int {
	return len(s.ordered)
}
