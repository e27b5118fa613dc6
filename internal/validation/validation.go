// Package validation checks identifiers arriving from ingestion before
// they reach storage.
package validation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// =============================================================================
// Rules
// =============================================================================

// Rules defines the validation rules for a text field.
type Rules struct {
	MinLength   int
	MaxLength   int
	AllowSpaces bool
}

// SourceIDRules returns the rules for source identifiers.
func SourceIDRules() Rules {
	return Rules{
		MinLength:   1,
		MaxLength:   255,
		AllowSpaces: false,
	}
}

// UnitRules returns the rules for units. A unit may be empty.
func UnitRules() Rules {
	return Rules{
		MinLength:   0,
		MaxLength:   32,
		AllowSpaces: true,
	}
}

// =============================================================================
// Validation
// =============================================================================

// Validate checks value against rules. field names the value in errors.
func Validate(field, value string, rules Rules) error {
	if len(value) < rules.MinLength {
		return fmt.Errorf("%s too short: minimum %d characters required", field, rules.MinLength)
	}
	if len(value) > rules.MaxLength {
		return fmt.Errorf("%s too long: maximum %d characters allowed", field, rules.MaxLength)
	}

	if !utf8.ValidString(value) {
		return fmt.Errorf("%s is not valid UTF-8", field)
	}

	if value != strings.TrimSpace(value) {
		return fmt.Errorf("%s cannot start or end with whitespace", field)
	}

	for i, r := range value {
		if r < 32 || r == 127 {
			return fmt.Errorf("%s cannot contain control characters at position %d", field, i)
		}
		if !rules.AllowSpaces && unicode.IsSpace(r) {
			return fmt.Errorf("%s cannot contain whitespace at position %d", field, i)
		}
	}

	return nil
}

// ValidateSourceID validates a source identifier with default rules.
func ValidateSourceID(id string) error {
	return Validate("source id", id, SourceIDRules())
}

// ValidateUnit validates a unit with default rules.
func ValidateUnit(unit string) error {
	return Validate("unit", unit, UnitRules())
}
