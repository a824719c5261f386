package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-trackflow/pkg/relay"
)

// ServerConfig holds configuration for the tracker TCP listener.
type ServerConfig struct {
	ListenAddr string
}

// NewServerDefaults provides a config with sensible defaults, overridable via
// environment variables.
func NewServerDefaults() *ServerConfig {
	cfg := &ServerConfig{ListenAddr: ":3003"}
	if addr := os.Getenv("INGEST_LISTEN_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}
	return cfg
}

// Server accepts tracker connections and runs a handler goroutine per
// connection.
type Server struct {
	cfg      *ServerConfig
	queue    *relay.Queue
	logger   zerolog.Logger
	listener net.Listener
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewServer creates a server; Start binds the listener.
func NewServer(cfg *ServerConfig, queue *relay.Queue, logger zerolog.Logger) *Server {
	return &Server{
		cfg:    cfg,
		queue:  queue,
		logger: logger.With().Str("component", "IngestServer").Logger(),
	}
}

// Start binds the TCP listener and begins accepting connections. It returns
// once the listener is bound; accepted connections are served until Stop.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = listener
	s.logger.Info().Str("addr", listener.Addr().String()).Msg("Tracker listener started.")

	s.wg.Add(1)
	go s.acceptLoop(ctx)
	return nil
}

// Addr returns the bound listener address. Useful when listening on port 0.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Stop closes the listener and waits for in-flight connection handlers to
// finish or ctx to expire.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		if s.listener != nil {
			err = s.listener.Close()
		}
		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			s.logger.Info().Msg("Tracker listener stopped.")
		case <-ctx.Done():
			err = errors.Join(err, ctx.Err())
		}
	})
	return err
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				s.logger.Error().Err(err).Msg("Accept failed.")
			}
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			newHandler(conn, s.queue, s.logger).serve(ctx)
		}()
	}
}
