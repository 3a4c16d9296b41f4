/*
errors.go - Centralized error types for the finance ledger

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every failure surfaced to a caller is either one of the sentinels below
  or a *Error that unwraps to one of them, so the HTTP layer can pick a
  status with errors.Is and diagnostics keep their structured parameters.

ERROR CATEGORIES:
  1. Validation     (400) - malformed batch, duplicate or missing ids
  2. Not found      (404) - unknown rollover / progress
  3. Conflict       (409) - duplicate commit rollover
  4. Business rule  (422) - restriction violations, negative amounts,
                            inactive budgets, rollover still in progress
  5. Internal       (500) - unsupported operations, storage failures

USAGE:
  return finance.NewError(finance.ErrBusinessRule, "budgetRestrictedExpendituresError",
      "Expenditure restriction violated",
      finance.Param("fundCode", fund.Code), ...)

  if errors.Is(err, finance.ErrValidation) { ... }

SEE ALSO:
  - batch/checks.go: produces most validation and business-rule errors
  - api/handlers.go: maps errors to HTTP status codes
*/
package finance

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for structurally invalid input.
	ErrValidation = errors.New("validation error")

	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write collides with an existing record.
	ErrConflict = errors.New("conflict")

	// ErrBusinessRule is returned when input is well formed but violates a
	// ledger rule.
	ErrBusinessRule = errors.New("business rule violation")

	// ErrUnsupported is returned for operations the engine does not implement.
	ErrUnsupported = errors.New("unsupported operation")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// Parameter is a machine-readable key/value attached to an error.
type Parameter struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Param builds a Parameter from any printable value.
func Param(key string, value any) Parameter {
	return Parameter{Key: key, Value: fmt.Sprint(value)}
}

// Error is a categorized error with a stable code and diagnostics.
type Error struct {
	Kind       error
	Code       string
	Message    string
	Parameters []Parameter
}

func NewError(kind error, code, message string, params ...Parameter) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Parameters: params}
}

func (e *Error) Error() string {
	if len(e.Parameters) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	parts := make([]string, len(e.Parameters))
	for i, p := range e.Parameters {
		parts[i] = p.Key + "=" + p.Value
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, strings.Join(parts, ", "))
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// Get returns the value of the named parameter, or "".
func (e *Error) Get(key string) string {
	for _, p := range e.Parameters {
		if p.Key == key {
			return p.Value
		}
	}
	return ""
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrBusinessRule) ||
		errors.Is(err, ErrConflict)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// HTTPStatus maps an error to the status code the API answers with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrBusinessRule):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// AsError extracts the structured error, wrapping anything else as an
// internal error with a generic code.
func AsError(err error) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return &Error{Kind: err, Code: "genericError", Message: err.Error()}
}
