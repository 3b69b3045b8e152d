package records

import (
	"errors"
	"fmt"
	"strings"
)

// FieldError is one problem with one field, shown to the user as is.
type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrRequired        = "required"
	ErrTypeMismatch    = "type_mismatch"
	ErrTooLong         = "too_long"
	ErrOutOfRange      = "out_of_range"
	ErrPatternMismatch = "pattern_mismatch"
	ErrUniqueViolation = "unique_violation"
	ErrRefNotFound     = "ref_not_found"
	ErrRefInactive     = "ref_inactive"
	ErrReadOnly        = "readonly_field"
	ErrUnknownField    = "unknown_field"
	ErrNotFound        = "not_found"
	ErrVersionConflict = "version_conflict"
	ErrFKInUse         = "fk_in_use"
	ErrInvalidState    = "invalid_state"
)

// ErrInvalid matches every *ValidationError.
var ErrInvalid = errors.New("invalid record")

// ValidationError collects every field problem of one request.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.Message
	}
	return strings.Join(msgs, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

// Conflict reports whether the errors describe a clash with other records
// rather than a malformed payload.
func (e *ValidationError) Conflict() bool {
	for _, fe := range e.Errors {
		switch fe.Code {
		case ErrUniqueViolation, ErrRefNotFound, ErrRefInactive:
			return true
		}
	}
	return false
}

func ferr(code, field, format string, args ...any) FieldError {
	return FieldError{Code: code, Field: field, Message: fmt.Sprintf(format, args...)}
}
