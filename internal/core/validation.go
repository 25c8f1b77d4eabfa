package core

// validation.go checks raw rows against the invoice schema.
//
// Validation happens at two levels:
//  1. Header check: reports schema columns absent from the file header
//  2. Row validation: applies every field rule and collects all violations
//
// Row validation is pure. The same row always produces the same record or
// the same failure, and nothing is carried between calls.

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/facturas/internal/schema"
	"github.com/google/uuid"
)

// Validation messages, rendered after "<field>: ".
const (
	msgRequired    = "required"
	msgEmpty       = "must not be empty"
	msgInvalidUUID = "invalid UUID"
)

// ValidationError represents a single rule violation for a field.
type ValidationError struct {
	Field   string // Column name
	Value   string // The offending value, empty when the column is absent
	Message string // Human-readable message
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// Validator turns RawRows into invoices.
type Validator struct {
	fields []schema.FieldSpec
}

// NewValidator creates a validator for the given field specs.
// A nil slice selects schema.Fields.
func NewValidator(fields []schema.FieldSpec) *Validator {
	if fields == nil {
		fields = schema.Fields
	}
	return &Validator{fields: fields}
}

// Validate applies every field rule to row. On success the returned invoice
// holds exactly the declared fields; on failure every violation is listed.
func (v *Validator) Validate(row RawRow, line int) (schema.Invoice, *ValidationFailure) {
	var (
		inv  schema.Invoice
		errs []string
	)

	for _, f := range v.fields {
		value, err := checkField(row, f)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		f.Assign(&inv, value)
	}

	if len(errs) > 0 {
		return schema.Invoice{}, &ValidationFailure{Line: line, Row: row, Errors: errs}
	}
	return inv, nil
}

// checkField returns the coerced value for f or the first rule it breaks.
func checkField(row RawRow, f schema.FieldSpec) (string, error) {
	raw, ok := row[f.Name]
	if !ok {
		return "", ValidationError{Field: f.Name, Message: msgRequired}
	}

	value := raw
	if f.Type == schema.FieldTrimmedText || f.Type == schema.FieldUUID {
		value = strings.TrimSpace(raw)
	}

	if strings.TrimSpace(value) == "" {
		if f.AllowEmpty {
			return value, nil
		}
		return "", ValidationError{Field: f.Name, Value: raw, Message: msgEmpty}
	}

	if f.Type == schema.FieldUUID {
		id, err := uuid.Parse(value)
		if err != nil || !isHyphenatedUUID(value) {
			return "", ValidationError{Field: f.Name, Value: raw, Message: msgInvalidUUID}
		}
		value = id.String()
	}

	return value, nil
}

// isHyphenatedUUID rejects the braced, urn and bare-hex forms uuid.Parse
// also accepts; only the 8-4-4-4-12 form is valid in the file.
func isHyphenatedUUID(s string) bool {
	return len(s) == 36 && s[8] == '-' && s[13] == '-' && s[18] == '-' && s[23] == '-'
}

// MissingColumns returns schema columns absent from the header, in schema
// order. Missing columns are not fatal: every row then fails with
// "<field>: required", which is what the operator needs to see.
func (v *Validator) MissingColumns(header []string) []string {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[h] = true
	}

	var missing []string
	for _, f := range v.fields {
		if !present[f.Name] {
			missing = append(missing, f.Name)
		}
	}
	return missing
}
