package infra

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Header reads get their own, shorter deadline so a slow-loris client
// cannot hold a connection for the full request read timeout.
const headerReadTimeout = 5 * time.Second

// HTTPServer runs the API router with the timeouts from Config and a
// graceful stop. Start treats a clean close as success so callers only
// see real listen failures.
type HTTPServer struct {
	addr string
	srv  *http.Server
}

func NewHTTPServer(cfg *Config, handler http.Handler) *HTTPServer {
	addr := ":" + cfg.Port
	return &HTTPServer{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       cfg.HTTPReadTimeout,
			ReadHeaderTimeout: headerReadTimeout,
			WriteTimeout:      cfg.HTTPWriteTimeout,
			IdleTimeout:       cfg.HTTPIdleTimeout,
		},
	}
}

// Addr returns the listen address, for startup logs.
func (s *HTTPServer) Addr() string {
	return s.addr
}

// Start blocks serving requests until the listener fails or Shutdown
// is called. A graceful close returns nil.
func (s *HTTPServer) Start() error {
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests until ctx expires.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
