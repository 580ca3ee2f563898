package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
)

// HTTPError is the JSON body of every failed management, protocol,
// signaling and public API call.
type HTTPError struct {
	Status  int               `json:"-"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	TraceID string            `json:"trace_id,omitempty"`
}

func (e *HTTPError) Error() string { return e.Message }

// StatusCode returns the HTTP status for err; 200 for nil.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return HTTPStatus(GetErrorCode(err))
}

// detailer adds typed fields to the error body.
type detailer interface {
	details() map[string]string
}

// headerSetter adds response headers, e.g. Retry-After.
type headerSetter interface {
	setHeaders(h http.Header)
}

// nonEmpty builds a map from key/value pairs, skipping empty values.
func nonEmpty(kv ...string) map[string]string {
	m := map[string]string{}
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			m[kv[i]] = kv[i+1]
		}
	}
	return m
}

func (e *ValidationError) details() map[string]string { return nonEmpty("field", e.Field) }

func (e *NotFoundError) details() map[string]string {
	return nonEmpty("resource", e.Resource, "id", e.ID)
}

func (e *ConflictError) details() map[string]string { return nonEmpty("resource", e.Resource) }

func (e *StateTransitionError) details() map[string]string {
	return nonEmpty("from", e.From, "to", e.To)
}

func (e *PolicyViolationError) details() map[string]string { return nonEmpty("scope", e.Scope) }

func (e *ServiceError) details() map[string]string {
	status := ""
	if e.StatusCode > 0 {
		status = strconv.Itoa(e.StatusCode)
	}
	return nonEmpty("service", e.Service, "upstream_status", status)
}

func (e *RateLimitError) setHeaders(h http.Header) {
	if e.RetryAfter > 0 {
		h.Set("Retry-After", strconv.Itoa(e.RetryAfter))
	}
}

func (e *UnauthorizedError) setHeaders(h http.Header) {
	if e.Realm != "" {
		h.Set("WWW-Authenticate", `Bearer realm="`+e.Realm+`"`)
	}
}

// ToHTTPError renders err as a response body. Causes of internal errors
// stay in the logs.
func ToHTTPError(err error, traceID string) *HTTPError {
	if err == nil {
		return &HTTPError{Status: http.StatusOK, Code: CodeOK, Message: "success", TraceID: traceID}
	}
	out := &HTTPError{
		Status:  StatusCode(err),
		Code:    GetErrorCode(err),
		Message: err.Error(),
		TraceID: traceID,
	}
	var internal *InternalError
	if errors.As(err, &internal) {
		out.Message = internal.Message()
	}
	var d detailer
	if errors.As(err, &d) {
		if m := d.details(); len(m) > 0 {
			out.Details = m
		}
	}
	return out
}

// WriteHTTPError writes err as a JSON error response.
func WriteHTTPError(w http.ResponseWriter, err error, traceID string) {
	body := ToHTTPError(err, traceID)
	w.Header().Set("Content-Type", "application/json")
	var hs headerSetter
	if errors.As(err, &hs) {
		hs.setHeaders(w.Header())
	}
	w.WriteHeader(body.Status)
	_ = json.NewEncoder(w).Encode(body)
}

// FromHTTPStatus types a non-2xx answer from a remote component that did
// not send an error body, so callers can branch on it like on local errors.
func FromHTTPStatus(service string, status int, body string) error {
	switch status {
	case http.StatusBadRequest:
		return NewValidationError("", body, nil)
	case http.StatusUnauthorized:
		return NewUnauthorizedError(body)
	case http.StatusForbidden:
		return WithCode(CodePolicyViolation, body, nil)
	case http.StatusNotFound:
		return NewNotFoundError(service+" resource", "")
	case http.StatusConflict:
		return WithCode(CodeIllegalState, body, nil)
	default:
		return NewServiceError(service, body, status, nil)
	}
}
