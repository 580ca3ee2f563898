// Command request-logger is a sink for push transfers and event callbacks:
// it logs every request it receives and answers 200.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dataspace/pkg/logging"
)

const (
	defaultPort = 4000
	maxLogBody  = 1 << 20
)

func listenPort() (int, error) {
	v := os.Getenv("HTTP_SERVER_PORT")
	if v == "" {
		return defaultPort, nil
	}
	port, err := strconv.Atoi(v)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid HTTP_SERVER_PORT %q", v)
	}
	return port, nil
}

func newRouter(logger *logging.ColoredLogger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.HandleFunc("/*", func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxLogBody))
		if err != nil {
			logger.ComponentWarn(logging.ComponentGeneral, "Failed to read request body", zap.Error(err))
		}
		logger.ComponentInfo(logging.ComponentGeneral, "Incoming request",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.String("query", req.URL.RawQuery),
			zap.String("content_type", req.Header.Get("Content-Type")),
			zap.String("body", string(body)),
		)
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func main() {
	logger := logging.NewLeveledLogger(os.Getenv("LOG_LEVEL"), true)
	defer logger.Sync()

	port, err := listenPort()
	if err != nil {
		logger.ComponentError(logging.ComponentGeneral, "Bad configuration", zap.Error(err))
		os.Exit(1)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           newRouter(logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.ComponentInfo(logging.ComponentGeneral, "Request logger listening", zap.Int("port", port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ComponentError(logging.ComponentGeneral, "HTTP server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.ComponentError(logging.ComponentGeneral, "HTTP server shutdown error", zap.Error(err))
	}
}
