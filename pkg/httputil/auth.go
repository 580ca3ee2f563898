package httputil

import (
	"net/http"
	"strings"
)

// APIKeyHeader is the management API credential header.
const APIKeyHeader = "X-Api-Key"

// ExtractBearerToken extracts a Bearer token from the Authorization header.
func ExtractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > len("bearer ") && strings.EqualFold(auth[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(auth[len("bearer "):])
	}
	return ""
}

// ExtractAuthorization returns the Authorization credential with an optional
// Bearer scheme stripped. Data plane tokens are sent both ways.
func ExtractAuthorization(r *http.Request) string {
	if tok := ExtractBearerToken(r); tok != "" {
		return tok
	}
	return strings.TrimSpace(r.Header.Get("Authorization"))
}

// ExtractAPIKey extracts the management API key. The X-Api-Key header wins,
// then an "ApiKey" Authorization scheme, then the api_key query parameter
// (used by websocket clients).
func ExtractAPIKey(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(APIKeyHeader)); v != "" {
		return v
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > len("apikey ") && strings.EqualFold(auth[:len("apikey ")], "apikey ") {
		return strings.TrimSpace(auth[len("apikey "):])
	}
	return strings.TrimSpace(r.URL.Query().Get("api_key"))
}

// IsJWT checks if a token looks like a JWT (three dot-separated parts).
func IsJWT(token string) bool {
	return strings.Count(token, ".") == 2
}
