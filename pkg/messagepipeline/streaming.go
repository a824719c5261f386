package messagepipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// StreamingService consumes messages, transforms each one individually and
// hands the result straight to a processor function. Handling is short and
// per-delivery, so a small worker pool over the consumer channel is enough;
// there is no batching stage.
type StreamingService[T any] struct {
	numWorkers  int
	consumer    MessageConsumer
	transformer MessageTransformer[T]
	processor   StreamProcessor[T]
	logger      zerolog.Logger
	wg          sync.WaitGroup
}

// StreamingServiceConfig holds configuration for a StreamingService.
type StreamingServiceConfig struct {
	NumWorkers int
}

// NewStreamingService creates a new StreamingService.
func NewStreamingService[T any](
	cfg StreamingServiceConfig,
	consumer MessageConsumer,
	transformer MessageTransformer[T],
	processor StreamProcessor[T],
	logger zerolog.Logger,
) (*StreamingService[T], error) {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 5
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer cannot be nil")
	}
	if transformer == nil {
		return nil, fmt.Errorf("transformer cannot be nil")
	}
	if processor == nil {
		return nil, fmt.Errorf("processor cannot be nil")
	}

	return &StreamingService[T]{
		numWorkers:  cfg.NumWorkers,
		consumer:    consumer,
		transformer: transformer,
		processor:   processor,
		logger:      logger.With().Str("service", "StreamingService").Logger(),
	}, nil
}

// Start launches the consumer and the worker pool.
func (s *StreamingService[T]) Start(ctx context.Context) error {
	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start message consumer: %w", err)
	}

	s.wg.Add(s.numWorkers)
	for i := 0; i < s.numWorkers; i++ {
		go s.worker(ctx, i)
	}

	s.logger.Info().Int("worker_count", s.numWorkers).Msg("Streaming service started.")
	return nil
}

// Stop shuts the service down in order: the consumer first so no new
// messages arrive, then waits for workers to drain in-flight messages,
// respecting the context deadline.
func (s *StreamingService[T]) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping streaming service...")

	if err := s.consumer.Stop(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Error during consumer stop, continuing shutdown.")
	}

	workersDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(workersDone)
	}()

	select {
	case <-workersDone:
		s.logger.Info().Msg("Streaming service stopped.")
		return nil
	case <-ctx.Done():
		s.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for processing workers to finish.")
		return ctx.Err()
	}
}

func (s *StreamingService[T]) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.consumer.Messages():
			if !ok {
				s.logger.Debug().Int("worker_id", workerID).Msg("Consumer channel closed, worker exiting.")
				return
			}
			s.handle(ctx, msg)
		}
	}
}

func (s *StreamingService[T]) handle(ctx context.Context, msg Message) {
	payload, skip, err := s.transformer(ctx, &msg)
	if err != nil {
		s.logger.Error().Err(err).Str("msg_id", msg.ID).Msg("Failed to transform message, Nacking.")
		msg.Nack()
		return
	}
	if skip {
		msg.Ack()
		return
	}

	if err := s.processor(ctx, msg, payload); err != nil {
		s.logger.Error().Err(err).Str("msg_id", msg.ID).Msg("Processor failed to handle message, Nacking.")
		msg.Nack()
		return
	}
	msg.Ack()
}
