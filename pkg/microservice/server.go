// Package microservice provides the HTTP base both services share: a mux with
// a healthcheck, background serving and graceful shutdown.
package microservice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
)

// BaseServer hosts a service's HTTP surface. Routes are mounted on Mux before
// Start; the WebSocket endpoint of the tracking service mounts the same way.
type BaseServer struct {
	logger     zerolog.Logger
	port       string
	httpServer *http.Server
	mux        *http.ServeMux
	mu         sync.RWMutex
	actualAddr string
}

// NewBaseServer creates a server with the healthcheck route installed.
func NewBaseServer(port string, logger zerolog.Logger) *BaseServer {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthcheck", HealthcheckHandler)

	return &BaseServer{
		logger: logger.With().Str("component", "BaseServer").Logger(),
		port:   port,
		mux:    mux,
		httpServer: &http.Server{
			Addr:    port,
			Handler: mux,
		},
	}
}

// Mux returns the mux for mounting service routes.
func (s *BaseServer) Mux() *http.ServeMux {
	return s.mux
}

// Start binds the listener and serves in the background.
func (s *BaseServer) Start() error {
	listener, err := net.Listen("tcp", s.port)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.port, err)
	}

	s.mu.Lock()
	s.actualAddr = listener.Addr().String()
	s.mu.Unlock()
	s.logger.Info().Str("address", listener.Addr().String()).Msg("HTTP server listening.")

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server failed.")
		}
	}()
	return nil
}

// Addr returns the bound address. Useful when configured with port 0.
func (s *BaseServer) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.actualAddr
}

// Shutdown stops the HTTP server, bounded by ctx.
func (s *BaseServer) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.logger.Info().Msg("HTTP server stopped.")
	return nil
}

// HealthcheckHandler responds to liveness probes.
func HealthcheckHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
