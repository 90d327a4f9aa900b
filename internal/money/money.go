// Package money provides fixed-point monetary amounts.
//
// An Amount is an int64 count of minor units (hundredths). All arithmetic
// that can produce fractional minor units goes through apd with
// ROUND_HALF_UP at two fractional digits:
//
//	150.00 × 0.10 = 15.00
//	 0.05 × 0.10 =  0.005 -> 0.01
//	 0.04 × 0.10 =  0.004 -> 0.00
//
// Binary floating point is never used.
package money

import (
	"fmt"

	"github.com/cockroachdb/apd/v3"
)

// Scale is the number of fractional digits kept.
const Scale = 2

// DefaultRate is the commission rate applied to every subscription tier
// and payment method.
const DefaultRate = "0.10"

var decCtx = func() *apd.Context {
	c := apd.BaseContext.WithPrecision(34)
	c.Rounding = apd.RoundHalfUp
	return c
}()

// Amount is a monetary value in minor units.
type Amount int64

// Zero is the zero amount.
const Zero Amount = 0

// FromMinor returns the amount for a count of minor units.
func FromMinor(minor int64) Amount {
	return Amount(minor)
}

// Parse parses a decimal string such as "150", "99.9" or "12.34".
// More than two fractional digits is an error rather than a silent rounding.
func Parse(s string) (Amount, error) {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.Form != apd.Finite {
		return 0, fmt.Errorf("parse amount %q: not a finite number", s)
	}
	q := new(apd.Decimal)
	cond, err := decCtx.Quantize(q, d, -Scale)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if cond.Inexact() {
		return 0, fmt.Errorf("parse amount %q: more than %d fractional digits", s, Scale)
	}
	return fromDecimal(q)
}

// MustParse is Parse for constants in tests and defaults. Panics on error.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Minor returns the amount in minor units.
func (a Amount) Minor() int64 {
	return int64(a)
}

// IsPositive reports whether a > 0.
func (a Amount) IsPositive() bool {
	return a > 0
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	return a + b
}

// String renders the amount with exactly two fractional digits, e.g. "15.00".
func (a Amount) String() string {
	return a.decimal().Text('f')
}

// MarshalText renders the amount for JSON and YAML output.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses the decimal string form.
func (a *Amount) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func (a Amount) decimal() *apd.Decimal {
	return apd.New(int64(a), -Scale)
}

// Rate is a multiplier such as 0.10. The zero Rate is unset.
// A Rate is immutable once parsed and safe to share.
type Rate struct {
	d *apd.Decimal
}

// ParseRate parses a rate. It must be in (0, 1].
func ParseRate(s string) (Rate, error) {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return Rate{}, fmt.Errorf("parse rate %q: %w", s, err)
	}
	if d.Form != apd.Finite || d.Sign() <= 0 || d.Cmp(apd.New(1, 0)) > 0 {
		return Rate{}, fmt.Errorf("parse rate %q: must be in (0, 1]", s)
	}
	return Rate{d: d}, nil
}

// MustParseRate is ParseRate that panics on error.
func MustParseRate(s string) Rate {
	r, err := ParseRate(s)
	if err != nil {
		panic(err)
	}
	return r
}

// IsZero reports whether r was never set.
func (r Rate) IsZero() bool {
	return r.d == nil
}

// String returns the rate as written.
func (r Rate) String() string {
	if r.d == nil {
		return "0"
	}
	return r.d.Text('f')
}

// Apply returns a × r rounded half-up to two fractional digits.
func (r Rate) Apply(a Amount) (Amount, error) {
	if r.d == nil {
		return 0, fmt.Errorf("apply rate: rate not set")
	}
	product := new(apd.Decimal)
	if _, err := decCtx.Mul(product, a.decimal(), r.d); err != nil {
		return 0, fmt.Errorf("apply rate: %w", err)
	}
	q := new(apd.Decimal)
	if _, err := decCtx.Quantize(q, product, -Scale); err != nil {
		return 0, fmt.Errorf("apply rate: %w", err)
	}
	return fromDecimal(q)
}

// fromDecimal converts a decimal already quantized to Scale into minor units.
func fromDecimal(d *apd.Decimal) (Amount, error) {
	scaled := new(apd.Decimal)
	if _, err := decCtx.Mul(scaled, d, apd.New(1, Scale)); err != nil {
		return 0, fmt.Errorf("scale amount: %w", err)
	}
	minor, err := scaled.Int64()
	if err != nil {
		return 0, fmt.Errorf("amount out of range: %w", err)
	}
	return Amount(minor), nil
}
