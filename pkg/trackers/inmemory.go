package trackers

import (
	"context"
	"fmt"
	"sync"
)

// InMemoryStore is a map-backed Store for tests and small deployments.
type InMemoryStore struct {
	mu     sync.RWMutex
	byIMEI map[string]Tracker
	byID   map[int64]Tracker
}

// NewInMemoryStore creates a store pre-loaded with the given trackers.
func NewInMemoryStore(seed ...Tracker) *InMemoryStore {
	s := &InMemoryStore{
		byIMEI: make(map[string]Tracker),
		byID:   make(map[int64]Tracker),
	}
	for _, t := range seed {
		s.Add(t)
	}
	return s
}

// Add registers or replaces a tracker.
func (s *InMemoryStore) Add(t Tracker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byIMEI[t.IMEI] = t
	s.byID[t.ID] = t
}

// Remove deletes a tracker by IMEI if present.
func (s *InMemoryStore) Remove(imei string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.byIMEI[imei]; ok {
		delete(s.byID, t.ID)
		delete(s.byIMEI, imei)
	}
}

// FindByIMEI implements Store.
func (s *InMemoryStore) FindByIMEI(_ context.Context, imei string) (*Tracker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byIMEI[imei]
	if !ok {
		return nil, fmt.Errorf("imei %s: %w", imei, ErrNotFound)
	}
	return &t, nil
}

// ExistingIDs implements Store.
func (s *InMemoryStore) ExistingIDs(_ context.Context, orgID *int64, ids []int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	existing := make([]int64, 0, len(ids))
	for _, id := range ids {
		t, ok := s.byID[id]
		if !ok {
			continue
		}
		if orgID != nil && t.OrganizationID != *orgID {
			continue
		}
		existing = append(existing, id)
	}
	return existing, nil
}
