// Package server exposes dashboard panels as a JSON HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/eutopia/collabdash/internal/dashboard"
	"github.com/eutopia/collabdash/internal/engine"
	"github.com/eutopia/collabdash/internal/logging"
)

const (
	defaultShutdownTimeout = 10 * time.Second
	readHeaderTimeout      = 5 * time.Second

	// maxConcurrentPanels bounds parallel panel loads within one request.
	maxConcurrentPanels = 4
)

// PanelLoader loads one dashboard panel.
type PanelLoader interface {
	Load(ctx context.Context, id dashboard.PanelID, p dashboard.Params) (dashboard.Panel, error)
	Now() time.Time
}

// Deps are the collaborators the handlers call into.
type Deps struct {
	Panels PanelLoader

	// Stats reports executor counters for /healthz. Optional.
	Stats func() engine.Stats

	// Health reports per-dependency reachability for /healthz; a nil error
	// means healthy. A failing "source" entry turns the check red. Optional.
	Health func(ctx context.Context) map[string]error
}

// Server is the collabdash HTTP server.
type Server struct {
	deps            Deps
	logger          zerolog.Logger
	httpServer      *http.Server
	shutdownTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithShutdownTimeout bounds how long in-flight requests may drain.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// New builds a server listening on addr.
func New(addr string, deps Deps, logger zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		deps:            deps,
		logger:          logging.ComponentLogger(logger, "server"),
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/filters/{name}", s.handleFilter)
	mux.HandleFunc("GET /api/authors/{id}", s.handleAuthor)
	mux.HandleFunc("GET /api/overview", s.handleOverview)
	mux.HandleFunc("GET /api/query", s.handleQuery)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return withRequestLogging(s.logger, withRecover(mux))
}

// ListenAndServe listens on the configured address and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln until the context ends.
//
// On cancellation, it performs a bounded shutdown so in-flight requests
// are drained before hard close.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	serveErr := make(chan error, 1)
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("listening")
	go func() {
		serveErr <- s.httpServer.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		s.logger.Info().Msg("server stopped")
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}
