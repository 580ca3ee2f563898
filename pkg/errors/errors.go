// Package errors defines the typed errors shared by the connector's
// components and how they surface over HTTP.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("resource already exists")
	ErrTimeout            = errors.New("operation timeout")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrLeased             = errors.New("entity is leased by another holder")
)

// Error is implemented by every typed error in this package.
type Error interface {
	error
	Code() string
	Message() string
	Unwrap() error
}

// BaseError holds what all typed errors share. Error() appends the cause;
// Message() does not.
type BaseError struct {
	code    string
	message string
	cause   error
}

func newBase(code, message string, cause error) *BaseError {
	return &BaseError{code: code, message: message, cause: cause}
}

func (e *BaseError) Error() string {
	if e.cause == nil {
		return e.message
	}
	return e.message + ": " + e.cause.Error()
}

func (e *BaseError) Code() string    { return e.code }
func (e *BaseError) Message() string { return e.message }
func (e *BaseError) Unwrap() error   { return e.cause }

// ValidationError rejects a request body or a config value.
type ValidationError struct {
	*BaseError
	Field string
	Value any
}

func NewValidationError(field, message string, value any) *ValidationError {
	return &ValidationError{BaseError: newBase(CodeValidation, message, nil), Field: field, Value: value}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.message
	}
	return "invalid " + e.Field + ": " + e.message
}

// NotFoundError names the kind of entity that is missing and its id.
type NotFoundError struct {
	*BaseError
	Resource string
	ID       string
}

func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{BaseError: newBase(CodeNotFound, resource+" not found", nil), Resource: resource, ID: id}
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.message
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// UnauthorizedError is a missing or rejected credential. A non-empty Realm
// is advertised in WWW-Authenticate.
type UnauthorizedError struct {
	*BaseError
	Realm string
}

func NewUnauthorizedError(message string) *UnauthorizedError {
	if message == "" {
		message = "authentication required"
	}
	return &UnauthorizedError{BaseError: newBase(CodeUnauthorized, message, nil)}
}

func (e *UnauthorizedError) WithRealm(realm string) *UnauthorizedError {
	e.Realm = realm
	return e
}

// ForbiddenError is a valid credential that does not cover Action on
// Resource.
type ForbiddenError struct {
	*BaseError
	Resource string
	Action   string
}

func NewForbiddenError(resource, action string) *ForbiddenError {
	msg := "forbidden"
	if resource != "" && action != "" {
		msg = fmt.Sprintf("not allowed to %s %s", action, resource)
	}
	return &ForbiddenError{BaseError: newBase(CodeForbidden, msg, nil), Resource: resource, Action: action}
}

// ConflictError is a duplicate id or an entity that is still referenced.
type ConflictError struct {
	*BaseError
	Resource string
	Field    string
	Value    string
}

func NewConflictError(resource, field, value string) *ConflictError {
	msg := resource + " already exists"
	if field != "" {
		msg = fmt.Sprintf("%s with %s %q already exists", resource, field, value)
	}
	return &ConflictError{BaseError: newBase(CodeConflict, msg, nil), Resource: resource, Field: field, Value: value}
}

// NewReferencedError refuses to change an entity another one points at,
// e.g. an asset covered by a contract agreement.
func NewReferencedError(resource, id, referrer string) *ConflictError {
	msg := fmt.Sprintf("%s %q is referenced by %s", resource, id, referrer)
	return &ConflictError{BaseError: newBase(CodeConflict, msg, nil), Resource: resource, Field: "id", Value: id}
}

// StateTransitionError rejects moving a negotiation, transfer or data flow
// from From to To.
type StateTransitionError struct {
	*BaseError
	Entity string
	ID     string
	From   string
	To     string
}

func NewStateTransitionError(entity, id, from, to string) *StateTransitionError {
	msg := fmt.Sprintf("%s %s cannot transition from %s to %s", entity, id, from, to)
	return &StateTransitionError{
		BaseError: newBase(CodeIllegalState, msg, nil),
		Entity:    entity,
		ID:        id,
		From:      from,
		To:        to,
	}
}

// PolicyViolationError lists the rules that failed in a policy scope.
type PolicyViolationError struct {
	*BaseError
	Scope    string
	Failures []string
}

func NewPolicyViolationError(scope string, failures []string) *PolicyViolationError {
	var b strings.Builder
	b.WriteString("policy denied in scope ")
	b.WriteString(scope)
	for i, f := range failures {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(f)
	}
	return &PolicyViolationError{BaseError: newBase(CodePolicyViolation, b.String(), nil), Scope: scope, Failures: failures}
}

// InternalError keeps its cause out of API responses.
type InternalError struct {
	*BaseError
}

func NewInternalError(message string, cause error) *InternalError {
	if message == "" {
		message = "internal error"
	}
	return &InternalError{BaseError: newBase(CodeInternal, message, cause)}
}

// ServiceError is a failed call to a counter-party, data plane or catalog
// node. StatusCode is the remote answer, 0 when none arrived.
type ServiceError struct {
	*BaseError
	Service    string
	StatusCode int
}

func NewServiceError(service, message string, statusCode int, cause error) *ServiceError {
	if message == "" {
		message = service + " call failed"
	}
	return &ServiceError{
		BaseError:  newBase(CodeServiceUnavailable, message, cause),
		Service:    service,
		StatusCode: statusCode,
	}
}

// Retryable is false for any 4xx answer other than 429.
func (e *ServiceError) Retryable() bool {
	switch {
	case e.StatusCode == 0, e.StatusCode == 429:
		return true
	default:
		return e.StatusCode >= 500
	}
}

type TimeoutError struct {
	*BaseError
	Operation string
	Duration  string
}

func NewTimeoutError(operation, duration string) *TimeoutError {
	msg := "operation timeout"
	if operation != "" {
		msg = operation + " timed out"
		if duration != "" {
			msg += " after " + duration
		}
	}
	return &TimeoutError{BaseError: newBase(CodeTimeout, msg, nil), Operation: operation, Duration: duration}
}

// RateLimitError asks the caller to come back after RetryAfter seconds.
type RateLimitError struct {
	*BaseError
	Limit      int
	RetryAfter int
}

func NewRateLimitError(limit, retryAfter int) *RateLimitError {
	return &RateLimitError{BaseError: newBase(CodeRateLimit, "rate limit exceeded", nil), Limit: limit, RetryAfter: retryAfter}
}

// Wrap prefixes err with message. A typed err keeps its code; any other
// error becomes internal.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var typed Error
	if errors.As(err, &typed) {
		return newBase(typed.Code(), message, err)
	}
	return &InternalError{BaseError: newBase(CodeInternal, message, err)}
}

func Wrapf(err error, format string, args ...any) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// New returns an internal error.
func New(message string) error { return newBase(CodeInternal, message, nil) }

// WithCode returns an error carrying code.
func WithCode(code, message string, cause error) error { return newBase(code, message, cause) }

// Is and As mirror the standard library so callers need one import.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }
