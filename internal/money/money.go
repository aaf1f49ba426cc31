// Package money implements the fixed-point currency amount used by every
// ledger operation. Amounts carry two fractional digits and are rounded
// half-to-even whenever an operation could produce more.
package money

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const places = 2

type Money struct {
	d decimal.Decimal
}

var Zero = Money{}

func New(d decimal.Decimal) Money {
	return Money{d: d.RoundBank(places)}
}

func FromCents(cents int64) Money {
	return Money{d: decimal.New(cents, -places)}
}

func Parse(raw string) (Money, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Zero, fmt.Errorf("money: empty amount")
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return Zero, fmt.Errorf("money: invalid amount %q", raw)
	}
	return New(d), nil
}

// MustParse is meant for constants and fixtures.
func MustParse(raw string) Money {
	m, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return m
}

func Sum(values ...Money) Money {
	total := Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

func (m Money) Add(o Money) Money {
	return New(m.d.Add(o.d))
}

func (m Money) Sub(o Money) Money {
	return New(m.d.Sub(o.d))
}

func (m Money) Mul(n int) Money {
	return New(m.d.Mul(decimal.NewFromInt(int64(n))))
}

func (m Money) Neg() Money {
	return Money{d: m.d.Neg()}
}

func (m Money) Cmp(o Money) int {
	return m.d.Cmp(o.d)
}

func (m Money) Equal(o Money) bool {
	return m.d.Equal(o.d)
}

func (m Money) LessThan(o Money) bool {
	return m.d.LessThan(o.d)
}

func (m Money) GreaterThan(o Money) bool {
	return m.d.GreaterThan(o.d)
}

func (m Money) IsZero() bool {
	return m.d.IsZero()
}

func (m Money) IsNegative() bool {
	return m.d.IsNegative()
}

func (m Money) IsPositive() bool {
	return m.d.IsPositive()
}

// Cents returns the amount expressed in hundredths, as used by the bank.
func (m Money) Cents() int64 {
	return m.d.Shift(places).RoundBank(0).IntPart()
}

func (m Money) Decimal() decimal.Decimal {
	return m.d
}

func (m Money) String() string {
	return m.d.StringFixedBank(places)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("money: %w", err)
	}
	*m = New(d)
	return nil
}

func (m Money) Value() (driver.Value, error) {
	return m.String(), nil
}

func (m *Money) Scan(value any) error {
	var d decimal.Decimal
	if err := d.Scan(value); err != nil {
		return fmt.Errorf("money: %w", err)
	}
	*m = New(d)
	return nil
}
