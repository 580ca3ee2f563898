package errors

import "net/http"

// Codes carried by typed errors, management API error bodies and protocol
// error messages.
const (
	CodeOK        = "OK"
	CodeCancelled = "CANCELLED"
	CodeInternal  = "INTERNAL"

	// Caller mistakes.
	CodeInvalidArgument    = "INVALID_ARGUMENT"
	CodeValidation         = "VALIDATION_ERROR"
	CodeSerializationError = "SERIALIZATION_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodeUnimplemented      = "UNIMPLEMENTED"

	// CodeIllegalState rejects a negotiation or transfer state change.
	CodeIllegalState = "ILLEGAL_STATE"
	// CodeFailedPrecondition means the entity exists but cannot serve the
	// request yet, e.g. a data plane without a public API.
	CodeFailedPrecondition = "FAILED_PRECONDITION"

	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodePolicyViolation = "POLICY_VIOLATION"
	CodeRateLimit       = "RATE_LIMIT_EXCEEDED"

	// Failures of something the connector depends on.
	CodeTimeout            = "TIMEOUT"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeNetworkError       = "NETWORK_ERROR"
	CodeDatabaseError      = "DATABASE_ERROR"
	CodeCacheError         = "CACHE_ERROR"
	CodeStorageError       = "STORAGE_ERROR"
	CodeConfigError        = "CONFIG_ERROR"
)

type codeTraits struct {
	status int
	retry  bool
}

// traits lists every code with a non-500 status or that may be retried.
var traits = map[string]codeTraits{
	CodeOK:                 {status: http.StatusOK},
	CodeCancelled:          {status: 499},
	CodeInvalidArgument:    {status: http.StatusBadRequest},
	CodeValidation:         {status: http.StatusBadRequest},
	CodeSerializationError: {status: http.StatusBadRequest},
	CodeUnauthorized:       {status: http.StatusUnauthorized},
	CodeForbidden:          {status: http.StatusForbidden},
	CodePolicyViolation:    {status: http.StatusForbidden},
	CodeNotFound:           {status: http.StatusNotFound},
	CodeConflict:           {status: http.StatusConflict},
	CodeIllegalState:       {status: http.StatusConflict},
	CodeFailedPrecondition: {status: http.StatusConflict},
	CodeRateLimit:          {status: http.StatusTooManyRequests, retry: true},
	CodeUnimplemented:      {status: http.StatusNotImplemented},
	CodeTimeout:            {status: http.StatusGatewayTimeout, retry: true},
	CodeServiceUnavailable: {status: http.StatusBadGateway, retry: true},
	CodeNetworkError:       {status: http.StatusBadGateway, retry: true},
	CodeDatabaseError:      {status: http.StatusInternalServerError, retry: true},
	CodeCacheError:         {status: http.StatusInternalServerError, retry: true},
	CodeStorageError:       {status: http.StatusInternalServerError, retry: true},
}

// HTTPStatus maps a code onto the status the management and protocol APIs
// answer with. Unknown codes are 500.
func HTTPStatus(code string) int {
	if t, ok := traits[code]; ok {
		return t.status
	}
	return http.StatusInternalServerError
}

// IsRetryable reports whether a step that failed with code may succeed on
// a later attempt. Policy violations and illegal transitions never do.
func IsRetryable(code string) bool {
	return traits[code].retry
}

// IsClientError reports whether code is the caller's fault (4xx).
func IsClientError(code string) bool {
	s := HTTPStatus(code)
	return s >= 400 && s < 500
}
