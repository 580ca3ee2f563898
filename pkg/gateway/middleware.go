// Package gateway assembles the HTTP listeners of a connector: management,
// protocol, control, public data and health APIs, plus the federated
// catalog query API.
package gateway

import (
	"bufio"
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/DeBrosOfficial/dataspace/pkg/config"
	"github.com/DeBrosOfficial/dataspace/pkg/errors"
	"github.com/DeBrosOfficial/dataspace/pkg/httputil"
	"github.com/DeBrosOfficial/dataspace/pkg/logging"
)

// statusResponseWriter captures status and bytes written.
type statusResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusResponseWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Flush keeps streaming responses working through the wrapper.
func (w *statusResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the websocket upgrade take over the connection.
func (w *statusResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return h.Hijack()
}

// LoggingMiddleware logs method, path, status, bytes and duration.
func LoggingMiddleware(logger *logging.ColoredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			srw := &statusResponseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(srw, r)
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", srw.status),
				zap.Int("bytes", srw.bytes),
				zap.String("duration", time.Since(start).String()),
			}
			if srw.status >= 500 {
				logger.ComponentWarn(logging.ComponentGateway, "request", fields...)
				return
			}
			logger.ComponentDebug(logging.ComponentGateway, "request", fields...)
		})
	}
}

// APIKeyAuth protects the management API. A bcrypt hash wins over the plain
// key; with neither configured the API is open.
func APIKeyAuth(cfg config.AuthConfig, logger *logging.ColoredLogger) func(http.Handler) http.Handler {
	hash := []byte(strings.TrimSpace(cfg.APIKeyHash))
	plain := []byte(cfg.APIKey)
	return func(next http.Handler) http.Handler {
		if len(hash) == 0 && len(plain) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			key := httputil.ExtractAPIKey(r)
			if key == "" {
				w.Header().Set("WWW-Authenticate", `ApiKey realm="management"`)
				httputil.WriteErr(w, r, errors.NewUnauthorizedError("missing API key"))
				return
			}
			var ok bool
			if len(hash) > 0 {
				ok = bcrypt.CompareHashAndPassword(hash, []byte(key)) == nil
			} else {
				ok = subtle.ConstantTimeCompare(plain, []byte(key)) == 1
			}
			if !ok {
				logger.ComponentWarn(logging.ComponentGateway, "Rejected management request",
					zap.String("path", r.URL.Path), zap.String("client_ip", getClientIP(r)))
				httputil.WriteErr(w, r, errors.NewUnauthorizedError("invalid API key"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP prefers proxy headers over the remote address.
func getClientIP(r *http.Request) string {
	// X-Forwarded-For may contain a list of IPs, take the first
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
		return xr
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
