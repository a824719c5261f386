package positions

import (
	"context"
	"sync"
)

// InMemoryInserter collects rows in memory. For tests and local runs.
type InMemoryInserter struct {
	mu   sync.Mutex
	rows []*Position
}

// NewInMemoryInserter creates an empty in-memory inserter.
func NewInMemoryInserter() *InMemoryInserter {
	return &InMemoryInserter{}
}

// InsertBatch implements BatchInserter.
func (i *InMemoryInserter) InsertBatch(_ context.Context, rows []*Position) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.rows = append(i.rows, rows...)
	return nil
}

// Rows returns a copy of everything inserted so far.
func (i *InMemoryInserter) Rows() []*Position {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]*Position(nil), i.rows...)
}

// Close implements BatchInserter.
func (i *InMemoryInserter) Close() error {
	return nil
}
