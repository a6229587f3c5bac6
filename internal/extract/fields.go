package extract

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/taxcodex/t1fill/internal/slip"
)

// Field naming on the fillable T4:
//
//	Slip<N>Box<code>                      amount (or text for boxes 10/12/54)
//	Slip<N>OtherInformationBox<slot>      other-info code entered in a slot
//	Slip<N>OtherInformationAmount<slot>   amount paired with that slot
//	Slip<N>Employee..., Slip<N>EmployerName   identity text
var (
	identityFieldRE  = regexp.MustCompile(`^Slip(\d+)(EmployeeFirstName|EmployeeLastName|EmployeeInitial|EmployeeAddress|EmployerName)$`)
	otherInfoFieldRE = regexp.MustCompile(`^Slip(\d+)OtherInformation(Box|Amount)([0-9A-Za-z]+)$`)
	boxFieldRE       = regexp.MustCompile(`^Slip(\d+)Box([0-9A-Za-z]+)$`)
)

// stringBoxes hold text, not amounts: 10 province of employment, 12 SIN,
// 54 employer payroll account. They route into identity.
var stringBoxes = map[string]bool{"10": true, "12": true, "54": true}

func badAmount(field string, err error) *DocumentError {
	return &DocumentError{Reason: "field " + field + " is not a valid amount", Err: err}
}

type slipBuilder struct {
	identity    slip.Identity
	boxes       map[string]decimal.Decimal
	otherCodes  map[string]string          // slot -> code
	otherValues map[string]decimal.Decimal // slot -> amount
}

func newSlipBuilder() *slipBuilder {
	return &slipBuilder{
		boxes:       make(map[string]decimal.Decimal),
		otherCodes:  make(map[string]string),
		otherValues: make(map[string]decimal.Decimal),
	}
}

// slipsFromFormValues groups form values by slip number and builds one Slip
// per group that actually carries data. Blank continuation slips on the
// form are skipped.
func slipsFromFormValues(values map[string]string) ([]slip.Slip, error) {
	builders := make(map[int]*slipBuilder)
	builder := func(n int) *slipBuilder {
		b, ok := builders[n]
		if !ok {
			b = newSlipBuilder()
			builders[n] = b
		}
		return b
	}

	for name, raw := range values {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		if m := identityFieldRE.FindStringSubmatch(name); m != nil {
			n, _ := strconv.Atoi(m[1])
			setIdentityField(&builder(n).identity, m[2], raw)
			continue
		}
		if m := otherInfoFieldRE.FindStringSubmatch(name); m != nil {
			n, _ := strconv.Atoi(m[1])
			b := builder(n)
			slot := strings.ToUpper(m[3])
			if m[2] == "Box" {
				b.otherCodes[slot] = raw
				continue
			}
			amount, err := slip.ParseAmount(raw)
			if err != nil {
				return nil, badAmount(name, err)
			}
			b.otherValues[slot] = amount
			continue
		}
		if m := boxFieldRE.FindStringSubmatch(name); m != nil {
			n, _ := strconv.Atoi(m[1])
			b := builder(n)
			code := strings.ToUpper(m[2])
			if stringBoxes[code] {
				setStringBox(&b.identity, code, raw)
				continue
			}
			amount, err := slip.ParseAmount(raw)
			if err != nil {
				return nil, badAmount(name, err)
			}
			b.boxes[code] = amount
		}
		// Fields outside the slip naming scheme (instructions, layout
		// artifacts) are not slip data.
	}

	numbers := make([]int, 0, len(builders))
	for n := range builders {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	var slips []slip.Slip
	for _, n := range numbers {
		b := builders[n]
		s := b.finish()
		if len(s.Boxes) == 0 && len(s.OtherInfo) == 0 {
			continue
		}
		slips = append(slips, s)
	}
	if len(slips) == 0 {
		return nil, &DocumentError{Reason: "document contains no slip data"}
	}
	return slips, nil
}

func (b *slipBuilder) finish() slip.Slip {
	other := make(map[string]decimal.Decimal)
	for slot, code := range b.otherCodes {
		amount, ok := b.otherValues[slot]
		if !ok {
			// A code without an amount is an incomplete entry; the
			// filer left the amount blank, so there is nothing to map.
			continue
		}
		other[strings.ToUpper(code)] = amount
	}
	return slip.Slip{
		Identity:  b.identity,
		Boxes:     b.boxes,
		OtherInfo: other,
	}
}

func setIdentityField(id *slip.Identity, field, value string) {
	switch field {
	case "EmployeeFirstName":
		id.FirstName = value
	case "EmployeeLastName":
		id.LastName = value
	case "EmployeeInitial":
		id.Initial = value
	case "EmployeeAddress":
		id.Address = value
	case "EmployerName":
		id.Employer = value
	}
}

func setStringBox(id *slip.Identity, code, value string) {
	switch code {
	case "10":
		id.ProvinceOfEmployment = value
	case "12":
		id.SIN = strings.ReplaceAll(value, " ", "")
	case "54":
		id.PayrollAccount = value
	}
}
