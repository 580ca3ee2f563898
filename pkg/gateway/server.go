package gateway

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dataspace/pkg/config"
	"github.com/DeBrosOfficial/dataspace/pkg/logging"
)

// Context is one API mounted under a path prefix. Contexts that share a port
// are served by the same http.Server.
type Context struct {
	Name       string
	Listener   config.ListenerConfig
	Mount      func(r chi.Router)
	Middleware []func(http.Handler) http.Handler
	// WrapListener decorates the port's listener, e.g. to cap connections.
	WrapListener func(net.Listener) net.Listener
}

type portServer struct {
	port     int
	contexts []Context
	server   *http.Server
	listener net.Listener
}

// Server runs the connector's HTTP contexts.
type Server struct {
	mu           sync.Mutex
	host         string
	readTimeout  time.Duration
	writeTimeout time.Duration
	ports        map[int]*portServer
	logger       *logging.ColoredLogger
}

// NewServer creates a server for the given web config.
func NewServer(cfg config.WebConfig, logger *logging.ColoredLogger) *Server {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Server{
		host:         cfg.Host,
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
		ports:        map[int]*portServer{},
		logger:       logger,
	}
}

// Add registers a context. It must be called before Start.
func (s *Server) Add(c Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.ports[c.Listener.Port]
	if !ok {
		ps = &portServer{port: c.Listener.Port}
		s.ports[c.Listener.Port] = ps
	}
	ps.contexts = append(ps.contexts, c)
}

func (s *Server) router(ps *portServer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.logger))

	// Longer prefixes first so "/api/catalog" is not shadowed by "/api".
	contexts := append([]Context(nil), ps.contexts...)
	sort.SliceStable(contexts, func(i, j int) bool {
		return len(contexts[i].Listener.Path) > len(contexts[j].Listener.Path)
	})
	for _, c := range contexts {
		c := c
		path := "/" + strings.Trim(c.Listener.Path, "/")
		r.Route(path, func(sr chi.Router) {
			for _, mw := range c.Middleware {
				sr.Use(mw)
			}
			c.Mount(sr)
		})
	}
	return r
}

// Start binds every port and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ps := range s.ports {
		addr := net.JoinHostPort(s.host, strconv.Itoa(ps.port))
		var lc net.ListenConfig
		ln, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			s.closeListeners()
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		for _, c := range ps.contexts {
			if c.WrapListener != nil {
				ln = c.WrapListener(ln)
			}
		}
		ps.listener = ln
		ps.server = &http.Server{
			Handler:           s.router(ps),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       s.readTimeout,
			WriteTimeout:      s.writeTimeout,
			ErrorLog:          log.New(logging.NewStandardLogger(s.logger, logging.ComponentGateway), "", 0),
		}
	}

	for _, ps := range s.ports {
		names := make([]string, 0, len(ps.contexts))
		for _, c := range ps.contexts {
			names = append(names, c.Name)
		}
		s.logger.ComponentInfo(logging.ComponentGateway, "HTTP server starting",
			zap.String("listen_addr", ps.listener.Addr().String()),
			zap.Strings("contexts", names),
		)
		go func(ps *portServer) {
			if err := ps.server.Serve(ps.listener); err != nil && err != http.ErrServerClosed {
				s.logger.ComponentError(logging.ComponentGateway, "HTTP server error",
					zap.Int("port", ps.port), zap.Error(err))
			}
		}(ps)
	}
	return nil
}

func (s *Server) closeListeners() {
	for _, ps := range s.ports {
		if ps.listener != nil {
			ps.listener.Close()
			ps.listener = nil
		}
	}
}

// Addr returns the bound address of the named context, or "" before Start.
func (s *Server) Addr(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ps := range s.ports {
		for _, c := range ps.contexts {
			if c.Name == name && ps.listener != nil {
				return ps.listener.Addr().String()
			}
		}
	}
	return ""
}

// Shutdown gracefully stops every server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var first error
	for _, ps := range s.ports {
		if ps.server == nil {
			continue
		}
		if err := ps.server.Shutdown(ctx); err != nil {
			s.logger.ComponentError(logging.ComponentGateway, "HTTP server shutdown error",
				zap.Int("port", ps.port), zap.Error(err))
			if first == nil {
				first = err
			}
		}
		ps.server = nil
		ps.listener = nil
	}
	s.logger.ComponentInfo(logging.ComponentGateway, "HTTP servers stopped")
	return first
}
