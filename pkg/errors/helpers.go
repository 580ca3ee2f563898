package errors

import "errors"

// sentinelCodes maps the package sentinels onto their codes, in match order.
var sentinelCodes = []struct {
	err  error
	code string
}{
	{ErrNotFound, CodeNotFound},
	{ErrUnauthorized, CodeUnauthorized},
	{ErrForbidden, CodeForbidden},
	{ErrConflict, CodeConflict},
	{ErrLeased, CodeConflict},
	{ErrTimeout, CodeTimeout},
	{ErrServiceUnavailable, CodeServiceUnavailable},
}

// isA reports whether err's chain holds a *T or one of the sentinels.
func isA[T error](err error, sentinels ...error) bool {
	if err == nil {
		return false
	}
	var target T
	if errors.As(err, &target) {
		return true
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}

// IsNotFound reports a missing entity, whether typed, sentinel or coded.
func IsNotFound(err error) bool {
	return isA[*NotFoundError](err, ErrNotFound) || (err != nil && GetErrorCode(err) == CodeNotFound)
}

// Typed checks. Each also matches its sentinel where one exists.
func IsValidation(err error) bool { return isA[*ValidationError](err) }
func IsUnauthorized(err error) bool { return isA[*UnauthorizedError](err, ErrUnauthorized) }
func IsForbidden(err error) bool { return isA[*ForbiddenError](err, ErrForbidden) }
func IsConflict(err error) bool { return isA[*ConflictError](err, ErrConflict) }
func IsStateTransition(err error) bool { return isA[*StateTransitionError](err) }
func IsPolicyViolation(err error) bool { return isA[*PolicyViolationError](err) }
func IsTimeout(err error) bool { return isA[*TimeoutError](err, ErrTimeout) }
func IsServiceUnavailable(err error) bool { return isA[*ServiceError](err, ErrServiceUnavailable) }

// ShouldRetry tells the state machines whether a failed step may be
// attempted again on the next tick.
func ShouldRetry(err error) bool {
	var svc *ServiceError
	switch {
	case err == nil:
		return false
	case errors.As(err, &svc):
		return svc.Retryable()
	case IsTimeout(err):
		return true
	}
	var coded Error
	return errors.As(err, &coded) && IsRetryable(coded.Code())
}

// GetErrorCode returns the code carried by err, CodeOK for nil and
// CodeInternal for anything unrecognised.
func GetErrorCode(err error) string {
	if err == nil {
		return CodeOK
	}
	var coded Error
	if errors.As(err, &coded) {
		return coded.Code()
	}
	for _, sc := range sentinelCodes {
		if errors.Is(err, sc.err) {
			return sc.code
		}
	}
	return CodeInternal
}

// GetErrorMessage returns the message without the wrapped cause for typed
// errors and err.Error() otherwise.
func GetErrorMessage(err error) string {
	var coded Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &coded):
		return coded.Message()
	default:
		return err.Error()
	}
}

// Cause unwraps err down to the first error that wraps nothing.
func Cause(err error) error {
	for err != nil {
		next := errors.Unwrap(err)
		if next == nil {
			break
		}
		err = next
	}
	return err
}
