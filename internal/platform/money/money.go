// Package money implements the fixed-point currency arithmetic spec.md
// mandates wherever an order, ledger entry, or vendor price is expressed:
// scale 2, round-half-even, never a binary float. Nothing in the teacher's
// stack carries an equivalent (stock prices there were integer cents), so
// this leans on shopspring/decimal, the library the wider Go ecosystem reaches
// for instead of hand-rolling fixed-point math on top of int64 cents.
package money

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of digits kept after the decimal point. Every Amount
// this package produces is rounded to Scale using banker's rounding.
const Scale = 2

// Amount is a currency value held at Scale decimal digits.
type Amount struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Amount{d: decimal.Zero}

// FromString parses a decimal literal such as "129.90", rejecting anything
// that isn't a valid number.
func FromString(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return Amount{d: d.RoundBank(Scale)}, nil
}

// FromCents builds an Amount from an integer minor-unit count, the
// representation webhook payloads and the catalog collaborator use on the
// wire.
func FromCents(cents int64) Amount {
	return Amount{d: decimal.New(cents, -int32(Scale))}
}

// FromInt builds a whole-currency-unit Amount, e.g. money.FromInt(100) is
// one hundred rupees.
func FromInt(units int64) Amount {
	return Amount{d: decimal.NewFromInt(units)}
}

func (a Amount) Add(b Amount) Amount { return Amount{d: a.d.Add(b.d).RoundBank(Scale)} }
func (a Amount) Sub(b Amount) Amount { return Amount{d: a.d.Sub(b.d).RoundBank(Scale)} }

// Mul multiplies by a dimensionless factor (e.g. a quantity or a discount
// rate) and rounds the result back to Scale.
func (a Amount) Mul(factor decimal.Decimal) Amount {
	return Amount{d: a.d.Mul(factor).RoundBank(Scale)}
}

// Neg returns the additive inverse, used by the ledger's debit/credit pairs.
func (a Amount) Neg() Amount { return Amount{d: a.d.Neg()} }

func (a Amount) IsZero() bool     { return a.d.IsZero() }
func (a Amount) IsNegative() bool { return a.d.IsNegative() }
func (a Amount) IsPositive() bool { return a.d.IsPositive() }

// Cmp reports -1, 0, or 1 as a is less than, equal to, or greater than b.
func (a Amount) Cmp(b Amount) int { return a.d.Cmp(b.d) }

func (a Amount) GreaterThan(b Amount) bool { return a.d.GreaterThan(b.d) }
func (a Amount) LessThan(b Amount) bool    { return a.d.LessThan(b.d) }

// Cents returns the integer minor-unit representation, the form persisted in
// Postgres bigint columns and sent across the wire to collaborators.
func (a Amount) Cents() int64 {
	return a.d.Shift(int32(Scale)).Round(0).IntPart()
}

func (a Amount) String() string { return a.d.StringFixed(Scale) }

// Sum totals a slice of Amounts, the operation C3's ledger balance
// recomputation and C4's price-competitiveness scoring both need.
func Sum(amounts ...Amount) Amount {
	total := Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// Value implements driver.Valuer so an Amount can be written straight into a
// lib/pq numeric column.
func (a Amount) Value() (driver.Value, error) {
	return a.d.StringFixed(Scale), nil
}

// Scan implements sql.Scanner for reading a numeric column back out.
func (a *Amount) Scan(src any) error {
	var d decimal.Decimal
	if err := d.Scan(src); err != nil {
		return fmt.Errorf("scan amount: %w", err)
	}
	a.d = d.RoundBank(Scale)
	return nil
}

// MarshalJSON renders the amount as a JSON string (never a JSON number, which
// would round-trip through a float64 in most clients and reintroduce the
// binary-float error this package exists to avoid).
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.d.StringFixed(Scale) + `"`), nil
}

// UnmarshalJSON accepts either a JSON string or a bare JSON number, since
// some upstream collaborators (the OCR service in particular) emit numbers.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("unmarshal amount %s: %w", data, err)
	}
	a.d = parsed.RoundBank(Scale)
	return nil
}
