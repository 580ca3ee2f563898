package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	dserrors "github.com/DeBrosOfficial/dataspace/pkg/errors"
)

// Common client errors
var (
	// ErrInvalidConfig indicates the client configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNoCatalog indicates no federated catalog url was configured
	ErrNoCatalog = errors.New("no federated catalog configured")

	// ErrNotEDR indicates a data address is not an endpoint data reference
	ErrNotEDR = errors.New("not an endpoint data reference")

	// ErrFinalState is returned by the Wait helpers when the process ended in
	// a final state other than the awaited one
	ErrFinalState = errors.New("process reached a final state")
)

// ClientError represents a failed API call with additional context
type ClientError struct {
	Op     string // Operation that failed
	Status int    // HTTP status, zero when no response was received
	Code   string // error code reported by the connector
	Err    error  // Underlying error
}

func (e *ClientError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ClientError) Unwrap() error {
	return e.Err
}

// NewClientError creates a new ClientError
func NewClientError(op string, status int, err error) *ClientError {
	return &ClientError{Op: op, Status: status, Err: err}
}

// decodeError turns a non-2xx answer into a ClientError wrapping a typed
// error, so errors.GetErrorCode works the same on both sides of the wire.
func decodeError(op string, status int, raw []byte) error {
	var body dserrors.HTTPError
	if json.Unmarshal(raw, &body) == nil && body.Code != "" {
		return &ClientError{
			Op:     op,
			Status: status,
			Code:   body.Code,
			Err:    dserrors.WithCode(body.Code, body.Message, nil),
		}
	}
	return &ClientError{
		Op:     op,
		Status: status,
		Err:    dserrors.FromHTTPStatus("management api", status, strings.TrimSpace(string(raw))),
	}
}

// StatusOf returns the HTTP status carried by err, or zero.
func StatusOf(err error) int {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Status
	}
	return 0
}
