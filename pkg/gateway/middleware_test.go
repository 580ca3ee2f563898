package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/DeBrosOfficial/dataspace/pkg/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAPIKeyAuth_PlainKey(t *testing.T) {
	handler := APIKeyAuth(config.AuthConfig{APIKey: "password"}, nil)(okHandler())

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong", "X-Api-Key", "nope", http.StatusUnauthorized},
		{"header", "X-Api-Key", "password", http.StatusOK},
		{"scheme", "Authorization", "ApiKey password", http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/v3/assets", nil)
		if tt.header != "" {
			req.Header.Set(tt.header, tt.value)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != tt.want {
			t.Errorf("%s: got %d, want %d", tt.name, w.Code, tt.want)
		}
	}
}

func TestAPIKeyAuth_HashWinsOverPlain(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hashed-secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	handler := APIKeyAuth(config.AuthConfig{APIKey: "plain", APIKeyHash: string(hash)}, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Api-Key", "plain")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("plain key should be rejected when a hash is set, got %d", w.Code)
	}

	req.Header.Set("X-Api-Key", "hashed-secret")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("hashed key should pass, got %d", w.Code)
	}
}

func TestAPIKeyAuth_OpenWithoutKey(t *testing.T) {
	handler := APIKeyAuth(config.AuthConfig{}, nil)(okHandler())
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("got %d", w.Code)
	}
}

func TestAPIKeyAuth_AllowsPreflight(t *testing.T) {
	handler := APIKeyAuth(config.AuthConfig{APIKey: "k"}, nil)(okHandler())
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("got %d", w.Code)
	}
}

func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "9.9.9.9:1234"
	if got := getClientIP(r); got != "9.9.9.9" {
		t.Fatalf("got %q", got)
	}
	r.Header.Set("X-Real-IP", "7.7.7.7")
	if got := getClientIP(r); got != "7.7.7.7" {
		t.Fatalf("got %q", got)
	}
	r.Header.Set("X-Forwarded-For", "1.1.1.1, 2.2.2.2")
	if got := getClientIP(r); got != "1.1.1.1" {
		t.Fatalf("got %q", got)
	}
}
