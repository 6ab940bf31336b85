// Package money holds currency amounts as integer minor units (cents).
package money

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a signed number of minor units. 2550 is 25.50.
type Amount int64

// Zero is an empty amount.
const Zero Amount = 0

var ErrInvalidAmount = errors.New("invalid amount")

// FromCents builds an Amount from minor units.
func FromCents(c int64) Amount { return Amount(c) }

// FromUnits builds an Amount from whole units (dollars).
func FromUnits(u int64) Amount { return Amount(u * 100) }

func (a Amount) Cents() int64 { return int64(a) }

func (a Amount) IsPositive() bool { return a > 0 }

// Min returns the smaller of a and b.
func Min(a, b Amount) Amount {
	if a < b {
		return a
	}
	return b
}

// MulBasisPoints returns a * bps / 10000, rounded half away from zero.
func (a Amount) MulBasisPoints(bps int64) Amount {
	return Amount(decimal.NewFromInt(int64(a)).Mul(decimal.NewFromInt(bps)).Shift(-4).Round(0).IntPart())
}

func (a Amount) dec() decimal.Decimal { return decimal.New(int64(a), -2) }

// String renders the amount with exactly two fractional digits, e.g. "25.00".
func (a Amount) String() string {
	return a.dec().StringFixed(2)
}

// Parse reads a decimal string with at most two fractional digits. Exponent
// notation and values outside the int64 range of minor units are rejected.
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, "eE") {
		return 0, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	cents := d.Shift(2)
	if !cents.IsInteger() {
		return 0, fmt.Errorf("%w: at most two decimal places", ErrInvalidAmount)
	}
	n := cents.BigInt()
	if !n.IsInt64() {
		return 0, fmt.Errorf("%w: out of range", ErrInvalidAmount)
	}
	return Amount(n.Int64()), nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON accepts either a JSON number (25.5) or a string ("25.50").
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = 0
		return nil
	}
	raw := string(data)
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		raw = raw[1 : len(raw)-1]
	}
	v, err := Parse(raw)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Decode lets envconfig read amounts such as WITHDRAWAL_MIN=10.00.
func (a *Amount) Decode(value string) error {
	v, err := Parse(value)
	if err != nil {
		return err
	}
	*a = v
	return nil
}
