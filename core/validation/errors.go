// Package validation checks record payloads against entity schemas.
// Violations are accumulated as field-level errors; nothing short-circuits on the first one.
package validation

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes surfaced in the error envelope.
const (
	CodeRequired        = "required"
	CodeTypeMismatch    = "type_mismatch"
	CodeReadOnly        = "readonly_field"
	CodeMaxLen          = "max_len"
	CodeMinLen          = "min_len"
	CodePattern         = "pattern"
	CodeEnumInvalid     = "enum_invalid"
	CodeUnknownField    = "unknown_field"
	CodeInvalidFilter   = "invalid_filter"
	CodeSelfParent      = "self_parent"
	CodeCycleDetected   = "cycle_detected"
	CodeInvalidJSON     = "invalid_json"
	CodeTooManyItems    = "too_many_items"
	CodeNotFound        = "not_found"
	CodeUniqueViolation = "unique_violation"
	CodeVersionConflict = "version_conflict"
	CodeRefNotFound     = "ref_not_found"
	CodeFKInUse         = "fk_in_use"
)

// conflictCodes are reported with 409 rather than 400.
var conflictCodes = map[string]bool{
	CodeUniqueViolation: true,
	CodeVersionConflict: true,
	CodeRefNotFound:     true,
	CodeFKInUse:         true,
}

// FieldError is one machine-checkable violation.
type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message,omitempty"`
}

// Errors is a list of field errors. A non-empty list is an error value.
type Errors []FieldError

// New returns a single-entry error list.
func New(code, field, message string) Errors {
	return Errors{{Code: code, Field: field, Message: message}}
}

func (e Errors) Error() string {
	parts := make([]string, len(e))
	for i, fe := range e {
		if fe.Field != "" {
			parts[i] = fmt.Sprintf("%s: %s", fe.Field, fe.Code)
		} else {
			parts[i] = fe.Code
		}
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// Has reports whether any error carries code.
func (e Errors) Has(code string) bool {
	for _, fe := range e {
		if fe.Code == code {
			return true
		}
	}
	return false
}

// Conflict reports whether the list contains a 409-class code.
func (e Errors) Conflict() bool {
	for _, fe := range e {
		if conflictCodes[fe.Code] {
			return true
		}
	}
	return false
}

// As extracts an error list from err.
func As(err error) (Errors, bool) {
	var errs Errors
	if errors.As(err, &errs) && len(errs) > 0 {
		return errs, true
	}
	return nil, false
}

// collector accumulates errors, dropping exact duplicates.
type collector struct {
	errs Errors
	seen map[FieldError]bool
}

func (c *collector) add(code, field, message string) {
	fe := FieldError{Code: code, Field: field, Message: message}
	if c.seen == nil {
		c.seen = map[FieldError]bool{}
	}
	if c.seen[fe] {
		return
	}
	c.seen[fe] = true
	c.errs = append(c.errs, fe)
}

func (c *collector) result() Errors {
	if len(c.errs) == 0 {
		return nil
	}
	return c.errs
}
