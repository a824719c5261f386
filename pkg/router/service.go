package router

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-trackflow/pkg/identity"
	"github.com/illmade-knight/go-trackflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-trackflow/pkg/positions"
	"github.com/illmade-knight/go-trackflow/pkg/realtime"
)

// ServiceConfig holds configuration for the router service.
type ServiceConfig struct {
	NumWorkers int
}

// Service is the assembled resolution pipeline: broker consumer, identity
// resolution, position batching and realtime fan-out.
type Service struct {
	pipeline *messagepipeline.StreamingService[positions.Position]
	batcher  *positions.Batcher
	logger   zerolog.Logger
}

// NewService wires the pipeline together.
func NewService(
	cfg *ServiceConfig,
	consumer messagepipeline.MessageConsumer,
	cache *identity.Cache,
	batcher *positions.Batcher,
	lastPositions positions.LastPositionCache,
	hub *realtime.Hub,
	logger zerolog.Logger,
) (*Service, error) {
	log := logger.With().Str("component", "RouterService").Logger()

	processor := func(ctx context.Context, _ messagepipeline.Message, row *positions.Position) error {
		batcher.Add(row)

		// Current-state and fan-out are best effort; the position log is
		// the system of record.
		if err := lastPositions.Set(ctx, row); err != nil {
			log.Warn().Err(err).Int64("tracker_id", row.TrackerID).
				Msg("Failed to update last-position cache.")
		}
		hub.BroadcastPosition(row.TrackerID, realtime.ServerMessage{
			Type: realtime.EventPosition,
			Data: row,
		})
		return nil
	}

	pipeline, err := messagepipeline.NewStreamingService[positions.Position](
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumWorkers},
		consumer,
		NewPositionTransformer(cache, logger),
		processor,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("build router pipeline: %w", err)
	}

	return &Service{
		pipeline: pipeline,
		batcher:  batcher,
		logger:   log,
	}, nil
}

// Start launches the batcher and the consuming pipeline.
func (s *Service) Start(ctx context.Context) error {
	s.batcher.Start(ctx)
	if err := s.pipeline.Start(ctx); err != nil {
		return fmt.Errorf("start router pipeline: %w", err)
	}
	s.logger.Info().Msg("Router service started.")
	return nil
}

// Stop drains the pipeline first so the final batch of positions lands.
func (s *Service) Stop(ctx context.Context) error {
	if err := s.pipeline.Stop(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Pipeline stop reported an error.")
	}
	if err := s.batcher.Stop(ctx); err != nil {
		return fmt.Errorf("stop position batcher: %w", err)
	}
	s.logger.Info().Msg("Router service stopped.")
	return nil
}
