// The decoder service terminates tracker TCP connections, decodes H02 frames
// and relays the resulting events to the broker.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-trackflow/pkg/ingest"
	"github.com/illmade-knight/go-trackflow/pkg/microservice"
	"github.com/illmade-knight/go-trackflow/pkg/relay"
)

const shutdownTimeout = 20 * time.Second

func main() {
	logger := newLogger().With().Str("service", "decoder").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue := relay.NewQueue()
	broker := relay.NewRelay(relay.NewNatsDialer(relay.NewNatsBrokerDefaults(), logger), queue, logger)
	server := ingest.NewServer(ingest.NewServerDefaults(), queue, logger)
	health := microservice.NewBaseServer(httpPort(), logger)

	if err := health.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start HTTP server.")
	}
	if err := server.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start tracker listener.")
	}

	// The relay gets its own context so a shutdown signal does not abort
	// it mid-drain; it exits once the closed queue is empty.
	relayCtx, relayCancel := context.WithCancel(context.Background())
	defer relayCancel()
	relayErr := make(chan error, 1)
	go func() { relayErr <- broker.Run(relayCtx) }()

	relayFinished := false
	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutdown signal received.")
	case err := <-relayErr:
		relayFinished = true
		if err != nil {
			logger.Error().Err(err).Msg("Broker relay failed fatally.")
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Order matters: no new frames, then drain the queue, then the relay
	// finishes publishing what it accepted.
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Tracker listener shutdown failed.")
	}
	queue.Close()
	if !relayFinished {
		select {
		case <-relayErr:
		case <-shutdownCtx.Done():
			logger.Warn().Msg("Relay did not drain before the shutdown deadline.")
			relayCancel()
		}
	}
	if err := health.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed.")
	}
	logger.Info().Msg("Decoder service stopped.")
}

func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

func httpPort() string {
	if port := os.Getenv("HTTP_PORT"); port != "" {
		return port
	}
	return ":8080"
}
