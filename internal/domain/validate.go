package domain

import (
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// ParseAmount parses raw as a strictly positive amount with at most two
// decimal places.
func ParseAmount(field, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, NewValidationError(field, "is required")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, NewValidationError(field, "must be a decimal number")
	}
	if err := ValidateAmount(field, d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// maxAmount bounds amounts to NUMERIC(12, 2).
var maxAmount = decimal.New(1, 10)

// ValidateAmount checks that d is positive with at most two decimal places.
func ValidateAmount(field string, d decimal.Decimal) error {
	if !d.IsPositive() {
		return NewValidationError(field, "must be greater than zero")
	}
	if d.GreaterThanOrEqual(maxAmount) {
		return NewValidationError(field, "is too large")
	}
	if !d.Equal(d.Round(2)) {
		return NewValidationError(field, "must have at most two decimal places")
	}
	return nil
}

// RequireText trims value and checks it is present and at most limit runes.
func RequireText(field, value string, limit int) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", NewValidationError(field, "is required")
	}
	return OptionalText(field, value, limit)
}

// OptionalText trims value and checks it is at most limit runes.
func OptionalText(field, value string, limit int) (string, error) {
	value = strings.TrimSpace(value)
	if utf8.RuneCountInString(value) > limit {
		return "", NewValidationError(field, "is too long")
	}
	return value, nil
}
