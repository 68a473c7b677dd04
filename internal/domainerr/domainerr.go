// Package domainerr provides the stable-code error type shared by every
// layer of the engine. It replaces the calling convention of an external,
// unavailable domain-error package with an in-module equivalent.
package domainerr

import (
	"fmt"
	"net/http"
)

// Code is a stable machine-readable error identifier, part of the public
// HTTP contract (see the envelope's "code" field).
type Code string

const (
	CodeTenantMissing        Code = "TENANT_MISSING"
	CodeIdempotencyKeyMissing Code = "IDEMPOTENCY_KEY_MISSING"
	CodeIdempotencyKeyInvalid Code = "IDEMPOTENCY_KEY_INVALID"
	CodeIdempotencyConflict  Code = "IDEMPOTENCY_CONFLICT"
	CodeIdempotencyProcessing Code = "IDEMPOTENCY_PROCESSING"

	CodeInvalidOrderState   Code = "INVALID_ORDER_STATE"
	CodeInvalidPaymentState Code = "INVALID_PAYMENT_STATE"
	CodeInvalidRefundState  Code = "INVALID_REFUND_STATE"

	CodeOrderNotFound   Code = "ORDER_NOT_FOUND"
	CodePaymentNotFound Code = "PAYMENT_NOT_FOUND"
	CodeRefundNotFound  Code = "REFUND_NOT_FOUND"

	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"
	CodePGClientError       Code = "PG_CLIENT_ERROR"
	CodeSagaExecutionFailed Code = "SAGA_EXECUTION_FAILED"
	CodeConflict            Code = "CONFLICT"
	CodeInternal            Code = "INTERNAL"
)

// Error is the structured error carried across every layer. HTTPStatus is
// the status the outermost HTTP boundary should map it to; Cause preserves
// the wrapped error for logging without leaking internals to the client.
type Error struct {
	Code       Code
	Message    string
	HTTPStatus int
	Cause      error

	// SourceState / TargetState are populated for invalid-state errors.
	SourceState string
	TargetState string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// As reports whether err is a *Error, for callers that need to branch on
// code without a type assertion at every call site.
func As(err error) (*Error, bool) {
	de, ok := err.(*Error)
	return de, ok
}

func NewInvalidStateError(entity, sourceState, targetState string) *Error {
	code := CodeInternal
	switch entity {
	case "Order":
		code = CodeInvalidOrderState
	case "Payment":
		code = CodeInvalidPaymentState
	case "Refund":
		code = CodeInvalidRefundState
	}
	return &Error{
		Code:        code,
		Message:     fmt.Sprintf("%s cannot transition from %s to %s", entity, sourceState, targetState),
		HTTPStatus:  http.StatusBadRequest,
		SourceState: sourceState,
		TargetState: targetState,
	}
}

func NewNotFoundError(entity, id string) *Error {
	code := CodeInternal
	switch entity {
	case "Order":
		code = CodeOrderNotFound
	case "Payment":
		code = CodePaymentNotFound
	case "Refund":
		code = CodeRefundNotFound
	}
	return &Error{
		Code:       code,
		Message:    fmt.Sprintf("%s %s not found", entity, id),
		HTTPStatus: http.StatusNotFound,
	}
}

func NewConflictError(message string) *Error {
	return &Error{Code: CodeConflict, Message: message, HTTPStatus: http.StatusConflict}
}

func NewTenantMissingError() *Error {
	return &Error{Code: CodeTenantMissing, Message: "X-Tenant-Id header is required", HTTPStatus: http.StatusBadRequest}
}

func NewPGClientError(message string, cause error) *Error {
	return &Error{Code: CodePGClientError, Message: message, HTTPStatus: http.StatusBadGateway, Cause: cause}
}

// SagaExecutionError carries the saga id, the step that failed, the
// original cause, and whether compensation itself failed.
type SagaExecutionError struct {
	SagaID             string
	FailedStep         string
	Cause              error
	CompensationFailed bool
}

func (e *SagaExecutionError) Error() string {
	if e.CompensationFailed {
		return fmt.Sprintf("saga %s failed at step %s and compensation failed: %v", e.SagaID, e.FailedStep, e.Cause)
	}
	return fmt.Sprintf("saga %s failed at step %s, compensated: %v", e.SagaID, e.FailedStep, e.Cause)
}

func (e *SagaExecutionError) Unwrap() error { return e.Cause }

func (e *SagaExecutionError) AsDomainError() *Error {
	return &Error{
		Code:       CodeSagaExecutionFailed,
		Message:    e.Error(),
		HTTPStatus: http.StatusInternalServerError,
		Cause:      e.Cause,
	}
}

func NewInternalError(cause error) *Error {
	return &Error{Code: CodeInternal, Message: "internal error", HTTPStatus: http.StatusInternalServerError, Cause: cause}
}
