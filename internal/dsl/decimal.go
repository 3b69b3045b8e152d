package dsl

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimal fields are numeric(DecimalPrecision, DecimalScale) in Postgres; the
// memory store applies the same bounds so both backends keep identical values.
const (
	DecimalPrecision = 18
	DecimalScale     = 6

	decimalIntDigits = DecimalPrecision - DecimalScale
	maxDecimalInput  = 64
)

var (
	ErrNotNumber    = errors.New("must be a number")
	ErrDecimalRange = errors.New("decimal out of range")
)

var decimalLimit = decimal.New(1, decimalIntDigits)

// ParseDecimal parses s and applies CheckDecimal. Long inputs are refused
// before parsing.
func ParseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > maxDecimalInput {
		return decimal.Decimal{}, ErrNotNumber
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, ErrNotNumber
	}
	return CheckDecimal(d)
}

// CheckDecimal rejects values with more than DecimalScale fractional digits
// or DecimalPrecision-DecimalScale integer digits. The exponent is checked
// first so no huge coefficient is ever materialised.
func CheckDecimal(d decimal.Decimal) (decimal.Decimal, error) {
	if d.IsZero() {
		return decimal.Zero, nil
	}
	exp := int64(d.Exponent())
	digits := int64(d.NumDigits())
	if digits+exp > decimalIntDigits {
		return decimal.Decimal{}, fmt.Errorf("%w: at most %d integer digits", ErrDecimalRange, decimalIntDigits)
	}
	if -exp > digits+DecimalScale {
		// every significant digit sits past the allowed scale
		return decimal.Decimal{}, fmt.Errorf("%w: at most %d decimal places", ErrDecimalRange, DecimalScale)
	}
	if !d.Equal(d.Truncate(DecimalScale)) {
		return decimal.Decimal{}, fmt.Errorf("%w: at most %d decimal places", ErrDecimalRange, DecimalScale)
	}
	if d.Abs().GreaterThanOrEqual(decimalLimit) {
		return decimal.Decimal{}, fmt.Errorf("%w: at most %d integer digits", ErrDecimalRange, decimalIntDigits)
	}
	return d, nil
}
