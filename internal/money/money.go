// Package money holds the Money value used for every balance and amount.
//
// Amounts are decimal (never float) and carry at most two fractional digits.
// They serialize as fixed two-decimal strings: "400.00".
package money

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits a Money value carries.
const Scale = 2

var (
	ErrInvalid   = errors.New("invalid amount")
	ErrPrecision = errors.New("amount supports up to 2 decimals")
)

// Money is an immutable decimal amount. The zero value is 0.00.
type Money struct {
	d decimal.Decimal
}

var Zero = Money{}

func New(d decimal.Decimal) Money {
	return Money{d: d}
}

// FromInt returns a whole-unit amount.
func FromInt(units int64) Money {
	return Money{d: decimal.NewFromInt(units)}
}

// FromCents returns an amount expressed in minor units.
func FromCents(cents int64) Money {
	return Money{d: decimal.New(cents, -Scale)}
}

// Parse reads a decimal string with up to two fractional digits.
func Parse(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, fmt.Errorf("%w: empty", ErrInvalid)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("%w: %q", ErrInvalid, s)
	}

	if d.Exponent() < -Scale && !d.Equal(d.Truncate(Scale)) {
		return Zero, ErrPrecision
	}

	return Money{d: d}, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}

	return m
}

func (m Money) Decimal() decimal.Decimal { return m.d }

func (m Money) Add(o Money) Money { return Money{d: m.d.Add(o.d)} }

func (m Money) Sub(o Money) Money { return Money{d: m.d.Sub(o.d)} }

func (m Money) Neg() Money { return Money{d: m.d.Neg()} }

func (m Money) Cmp(o Money) int { return m.d.Cmp(o.d) }

func (m Money) Equal(o Money) bool { return m.d.Equal(o.d) }

func (m Money) LessThan(o Money) bool { return m.d.LessThan(o.d) }

func (m Money) IsZero() bool { return m.d.IsZero() }

func (m Money) IsNegative() bool { return m.d.IsNegative() }

func (m Money) IsPositive() bool { return m.d.IsPositive() }

func (m Money) String() string {
	return m.d.StringFixed(Scale)
}

func (m Money) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Money) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}

	*m = v

	return nil
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON accepts both quoted strings and bare JSON numbers.
func (m *Money) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" {
		*m = Zero

		return nil
	}

	return m.UnmarshalText([]byte(s))
}

// Value stores the amount in a numeric column.
func (m Money) Value() (driver.Value, error) {
	return m.String(), nil
}

func (m *Money) Scan(src any) error {
	var d decimal.Decimal

	err := d.Scan(src)
	if err != nil {
		return fmt.Errorf("scan money: %w", err)
	}

	m.d = d

	return nil
}
