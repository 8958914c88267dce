// Package apperror provides the structured error taxonomy shared by every layer.
// Domain services return *AppError; the HTTP layer renders it, the queue worker
// inspects its Code to decide between retry and terminal failure.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// Infrastructure errors (5xx)
	CodeInternal = "INTERNAL_ERROR"
	CodeDatabase = "DATABASE_ERROR"

	// Validation errors (400)
	CodeValidation = "VALIDATION_ERROR"

	// Access (403)
	CodeForbidden = "FORBIDDEN"

	// Not found (404)
	CodeNotFound = "NOT_FOUND"

	// Conflict (409)
	CodeConflict               = "CONFLICT"
	CodeDuplicate              = "DUPLICATE_ENTRY"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
	CodeInvalidStateTransition = "INVALID_STATE_TRANSITION"

	// Referenced entity missing or inactive (412)
	CodePreconditionFailed = "PRECONDITION_FAILED"

	// Costing and queue rules (422)
	CodeInvalidQuantity     = "INVALID_QUANTITY"
	CodeNegativeStock       = "NEGATIVE_STOCK"
	CodeMaxAttemptsExceeded = "MAX_ATTEMPTS_EXCEEDED"

	// Tax authority unreachable or misbehaving (502)
	CodeExternalSubmission = "EXTERNAL_SUBMISSION_ERROR"
)

// AppError is the standard error type of the engine.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (field errors, quantities, states)
	Details map[string]any `json:"details,omitempty"`

	HTTPStatus int   `json:"-"`
	Err        error `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error.
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions ---

func NewValidation(message string) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

func NewNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", entity),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewBusinessRule creates a business rule violation error (422).
func NewBusinessRule(code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// NewPreconditionFailed reports a referenced entity that is missing or inactive.
func NewPreconditionFailed(entity string, id any, reason string) *AppError {
	return &AppError{
		Code:       CodePreconditionFailed,
		Message:    fmt.Sprintf("%s %v: %s", entity, id, reason),
		HTTPStatus: http.StatusPreconditionFailed,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewInvalidStateTransition reports an action not allowed from the current state.
func NewInvalidStateTransition(entity, from, action string) *AppError {
	return &AppError{
		Code:       CodeInvalidStateTransition,
		Message:    fmt.Sprintf("%s: action %q is not allowed from state %s", entity, action, from),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"entity": entity, "state": from, "action": action},
	}
}

func NewInvalidQuantity(message string) *AppError {
	return NewBusinessRule(CodeInvalidQuantity, message)
}

// NewNegativeStock reports an egress larger than the stock on hand.
func NewNegativeStock(warehouseID, productID any, requested, available string) *AppError {
	return &AppError{
		Code:       CodeNegativeStock,
		Message:    "Insufficient stock",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details: map[string]any{
			"warehouse_id": warehouseID,
			"product_id":   productID,
			"requested":    requested,
			"available":    available,
		},
	}
}

// NewExternalSubmission wraps a transient tax-authority failure.
func NewExternalSubmission(op string, err error) *AppError {
	return &AppError{
		Code:       CodeExternalSubmission,
		Message:    fmt.Sprintf("tax authority %s failed", op),
		HTTPStatus: http.StatusBadGateway,
		Details:    map[string]any{"operation": op},
		Err:        err,
	}
}

func NewMaxAttemptsExceeded(itemID any, attempts int) *AppError {
	return &AppError{
		Code:       CodeMaxAttemptsExceeded,
		Message:    fmt.Sprintf("submission abandoned after %d attempts", attempts),
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"item_id": itemID, "attempts": attempts},
	}
}

// NewConcurrentModification creates an optimistic locking error.
func NewConcurrentModification(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeConcurrentModification,
		Message:    "Record was modified concurrently. Reload and try again.",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewInternal creates an internal server error (hides details from client).
func NewInternal(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func NewForbidden(message string) *AppError {
	return &AppError{
		Code:       CodeForbidden,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

func NewConflict(message string) *AppError {
	return &AppError{
		Code:       CodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

func NewDuplicate(entity, field, value string) *AppError {
	return &AppError{
		Code:       CodeDuplicate,
		Message:    fmt.Sprintf("%s with this %s already exists", entity, field),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"entity": entity, "field": field, "value": value},
	}
}

// --- Helpers ---

// AsAppError extracts AppError from error chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetHTTPStatus returns appropriate HTTP status for any error.
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

func IsNotFound(err error) bool               { return HasCode(err, CodeNotFound) }
func IsConcurrentModification(err error) bool { return HasCode(err, CodeConcurrentModification) }
func IsPreconditionFailed(err error) bool     { return HasCode(err, CodePreconditionFailed) }
func IsInvalidStateTransition(err error) bool { return HasCode(err, CodeInvalidStateTransition) }
func IsInvalidQuantity(err error) bool        { return HasCode(err, CodeInvalidQuantity) }
func IsNegativeStock(err error) bool          { return HasCode(err, CodeNegativeStock) }
func IsExternalSubmission(err error) bool     { return HasCode(err, CodeExternalSubmission) }
func IsMaxAttemptsExceeded(err error) bool    { return HasCode(err, CodeMaxAttemptsExceeded) }
func IsDuplicate(err error) bool              { return HasCode(err, CodeDuplicate) }
