package httputil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/DeBrosOfficial/dataspace/pkg/errors"
)

// MaxBodyBytes bounds management and protocol request bodies.
const MaxBodyBytes = 4 << 20

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, errors.NewValidationError("body", "unreadable request body", nil)
	}
	if len(body) > MaxBodyBytes {
		return nil, errors.NewValidationError("body", "request body too large", len(body))
	}
	return bytes.TrimSpace(body), nil
}

func decodeBody(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return errors.NewValidationError("body", "malformed JSON: "+err.Error(), nil)
	}
	return nil
}

// DecodeJSON decodes the request body into v. An empty body or malformed
// JSON is a validation error.
func DecodeJSON(r *http.Request, v any) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return errors.NewValidationError("body", "request body is empty", nil)
	}
	return decodeBody(body, v)
}

// DecodeJSONOptional is DecodeJSON for endpoints whose body may be left
// out, such as query requests. v is untouched when the body is empty.
func DecodeJSONOptional(r *http.Request, v any) error {
	body, err := readBody(r)
	if err != nil || len(body) == 0 {
		return err
	}
	return decodeBody(body, v)
}
