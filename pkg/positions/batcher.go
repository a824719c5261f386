package positions

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// BatcherConfig holds configuration for the position batcher.
type BatcherConfig struct {
	BatchSize     int
	FlushInterval time.Duration // How often to flush a partial batch.
	InsertTimeout time.Duration // Timeout for a single flush.
}

// NewBatcherDefaults provides a config with sensible defaults.
func NewBatcherDefaults() *BatcherConfig {
	return &BatcherConfig{
		BatchSize:     50,
		FlushInterval: 2 * time.Second,
		InsertTimeout: 30 * time.Second,
	}
}

// Batcher collects position rows and flushes them to a BatchInserter when the
// batch fills or the flush interval elapses.
type Batcher struct {
	cfg       *BatcherConfig
	inserter  BatchInserter
	logger    zerolog.Logger
	inputChan chan *Position
	wg        sync.WaitGroup
}

// NewBatcher creates a batcher over inserter. Start must be called.
func NewBatcher(cfg *BatcherConfig, inserter BatchInserter, logger zerolog.Logger) *Batcher {
	return &Batcher{
		cfg:       cfg,
		inserter:  inserter,
		logger:    logger.With().Str("component", "PositionBatcher").Logger(),
		inputChan: make(chan *Position, cfg.BatchSize*2),
	}
}

// Start begins the batching worker.
func (b *Batcher) Start(ctx context.Context) {
	b.logger.Info().
		Int("batch_size", b.cfg.BatchSize).
		Dur("flush_interval", b.cfg.FlushInterval).
		Msg("Starting position batcher.")
	b.wg.Add(1)
	go b.worker(ctx)
}

// Add queues one row for insertion. It blocks only when the worker has fallen
// a full two batches behind.
func (b *Batcher) Add(row *Position) {
	b.inputChan <- row
}

// Stop closes the input, flushes the final batch and waits for the worker,
// bounded by ctx.
func (b *Batcher) Stop(ctx context.Context) error {
	close(b.inputChan)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		b.logger.Info().Msg("Position batcher stopped.")
	case <-ctx.Done():
		b.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for position batcher to stop.")
		return ctx.Err()
	}

	if err := b.inserter.Close(); err != nil {
		b.logger.Error().Err(err).Msg("Error closing position inserter.")
	}
	return nil
}

func (b *Batcher) worker(ctx context.Context) {
	defer b.wg.Done()
	batch := make([]*Position, 0, b.cfg.BatchSize)
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Shutdown flush runs on a fresh context so the rows already
			// accepted still land.
			b.flush(context.Background(), batch)
			return
		case row, ok := <-b.inputChan:
			if !ok {
				b.flush(context.Background(), batch)
				return
			}
			batch = append(batch, row)
			if len(batch) >= b.cfg.BatchSize {
				b.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				b.flush(ctx, batch)
				batch = batch[:0]
			}
		}
	}
}

func (b *Batcher) flush(ctx context.Context, batch []*Position) {
	if len(batch) == 0 {
		return
	}
	insertCtx, cancel := context.WithTimeout(ctx, b.cfg.InsertTimeout)
	defer cancel()

	rows := make([]*Position, len(batch))
	copy(rows, batch)
	if err := b.inserter.InsertBatch(insertCtx, rows); err != nil {
		b.logger.Error().Err(err).Int("batch_size", len(rows)).Msg("Failed to flush position batch.")
	}
}
