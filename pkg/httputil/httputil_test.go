package httputil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DeBrosOfficial/dataspace/pkg/errors"
)

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantErr   bool
		optional  bool
		wantValid bool
	}{
		{name: "valid json", body: `{"@id": "asset-1"}`},
		{name: "invalid json", body: `{invalid}`, wantErr: true, wantValid: true},
		{name: "empty body", body: ``, wantErr: true, wantValid: true},
		{name: "empty body optional", body: ``, optional: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(tt.body))
			var out map[string]any
			var err error
			if tt.optional {
				err = DecodeJSONOptional(req, &out)
			} else {
				err = DecodeJSON(req, &out)
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantValid && !errors.IsValidation(err) {
				t.Errorf("expected validation error, got %T", err)
			}
		})
	}
}

func TestDecodeJSONOptionalKeepsDefaults(t *testing.T) {
	out := struct {
		Limit int `json:"limit"`
	}{Limit: 50}

	req := httptest.NewRequest(http.MethodPost, "/management/v3/assets/request", bytes.NewBufferString(" \n "))
	if err := DecodeJSONOptional(req, &out); err != nil || out.Limit != 50 {
		t.Fatalf("blank body: limit=%d err=%v", out.Limit, err)
	}

	req = httptest.NewRequest(http.MethodPost, "/management/v3/assets/request", bytes.NewBufferString(`{"limit": 5}`))
	if err := DecodeJSONOptional(req, &out); err != nil || out.Limit != 5 {
		t.Fatalf("body: limit=%d err=%v", out.Limit, err)
	}
}

func TestDecodeJSONRejectsOversizedBody(t *testing.T) {
	big := `{"x":"` + strings.Repeat("a", MaxBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big))
	var out map[string]any
	err := DecodeJSON(req, &out)
	if !errors.IsValidation(err) || !strings.Contains(err.Error(), "too large") {
		t.Fatalf("got %v", err)
	}
}

func TestWriteCreated(t *testing.T) {
	w := httptest.NewRecorder()
	at := time.UnixMilli(1700000000000)
	WriteCreated(w, "asset-1", at)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp IDResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID != "asset-1" || resp.CreatedAt != 1700000000000 {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestWriteErr(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	WriteErr(w, r, errors.NewNotFoundError("asset", "missing"))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
}

func TestExtractAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		url     string
		want    string
	}{
		{name: "X-Api-Key header", headers: map[string]string{"X-Api-Key": "password"}, want: "password"},
		{name: "lowercase header name", headers: map[string]string{"x-api-key": "password"}, want: "password"},
		{name: "ApiKey scheme", headers: map[string]string{"Authorization": "ApiKey k1"}, want: "k1"},
		{name: "query param", url: "/?api_key=q1", want: "q1"},
		{name: "header wins", headers: map[string]string{"X-Api-Key": "h", "Authorization": "ApiKey a"}, want: "h"},
		{name: "none", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := tt.url
			if url == "" {
				url = "/"
			}
			req := httptest.NewRequest(http.MethodGet, url, nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := ExtractAPIKey(req); got != tt.want {
				t.Errorf("ExtractAPIKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractAuthorization(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer a.b.c")
	if got := ExtractAuthorization(req); got != "a.b.c" {
		t.Errorf("bearer: got %q", got)
	}
	if !IsJWT("a.b.c") || IsJWT("abc") {
		t.Error("IsJWT misclassified")
	}

	req.Header.Set("Authorization", "raw-token")
	if got := ExtractAuthorization(req); got != "raw-token" {
		t.Errorf("raw: got %q", got)
	}
}
