package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimal is an exact base-10 number that remembers the literal it was
// parsed from, so "0.00100000", "-0.00000000" and "1.0E-8" are written back
// exactly as received.
type Decimal struct {
	decimal.Decimal
	raw string
}

// NewDecimal parses a decimal string.
func NewDecimal(s string) (Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Decimal{}, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return Decimal{Decimal: d, raw: s}, nil
}

// MustDecimal is NewDecimal for literals; it panics on malformed input.
func MustDecimal(s string) Decimal {
	d, err := NewDecimal(s)
	if err != nil {
		panic(err)
	}
	return d
}

// String returns the parsed literal. Values built without one fall back to
// fixed notation at their own scale.
func (d Decimal) String() string {
	if d.raw != "" {
		return d.raw
	}
	if exp := d.Decimal.Exponent(); exp < 0 {
		return d.Decimal.StringFixed(-exp)
	}
	return d.Decimal.String()
}

// MarshalJSON writes the value as a quoted string, the way the exchange sends it.
func (d Decimal) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts both quoted and bare numbers.
func (d *Decimal) UnmarshalJSON(data []byte) error {
	text := string(data)
	if text == "null" {
		return fmt.Errorf("decimal: null is not a number")
	}
	if strings.HasPrefix(text, `"`) {
		if err := json.Unmarshal(data, &text); err != nil {
			return fmt.Errorf("decimal: %w", err)
		}
	}
	parsed, err := NewDecimal(text)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
