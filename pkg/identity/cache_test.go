package identity_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-trackflow/pkg/identity"
	"github.com/illmade-knight/go-trackflow/pkg/trackers"
)

// countingStore wraps an in-memory store and counts FindByIMEI calls.
type countingStore struct {
	*trackers.InMemoryStore
	mu    sync.Mutex
	calls int
}

func (c *countingStore) FindByIMEI(ctx context.Context, imei string) (*trackers.Tracker, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.InMemoryStore.FindByIMEI(ctx, imei)
}

func (c *countingStore) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newTestCache(store trackers.Store) *identity.Cache {
	return identity.NewCache(identity.NewCacheDefaults(), store, zerolog.Nop())
}

func TestCache_PositiveLookupIsCached(t *testing.T) {
	store := &countingStore{InMemoryStore: trackers.NewInMemoryStore(
		trackers.Tracker{ID: 7, IMEI: "111", OrganizationID: 1},
	)}
	cache := newTestCache(store)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		got, err := cache.Lookup(ctx, "111")
		require.NoError(t, err)
		assert.Equal(t, int64(7), got.ID)
	}
	assert.Equal(t, 1, store.callCount())
}

func TestCache_UnknownDeviceShortCircuitsAfterBudget(t *testing.T) {
	store := &countingStore{InMemoryStore: trackers.NewInMemoryStore()}
	cache := newTestCache(store)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		_, err := cache.Lookup(ctx, "999")
		assert.ErrorIs(t, err, identity.ErrUnknownTracker)
	}
	// Only the first 10 lookups inside the window reach the store.
	assert.Equal(t, 10, store.callCount())
}

func TestCache_WindowExpiryRetriesTheStore(t *testing.T) {
	store := &countingStore{InMemoryStore: trackers.NewInMemoryStore()}
	cache := identity.NewCache(&identity.CacheConfig{MaxAttempts: 10, Window: 5 * time.Minute}, store, zerolog.Nop())
	ctx := context.Background()

	now := time.Now()
	cache.SetNowFunc(func() time.Time { return now })

	for i := 0; i < 12; i++ {
		_, err := cache.Lookup(ctx, "999")
		assert.ErrorIs(t, err, identity.ErrUnknownTracker)
	}
	require.Equal(t, 10, store.callCount())

	// Inside the window the device stays blocked.
	now = now.Add(4 * time.Minute)
	_, err := cache.Lookup(ctx, "999")
	assert.ErrorIs(t, err, identity.ErrUnknownTracker)
	assert.Equal(t, 10, store.callCount())

	// Once the window elapses the store is consulted again.
	now = now.Add(2 * time.Minute)
	_, err = cache.Lookup(ctx, "999")
	assert.ErrorIs(t, err, identity.ErrUnknownTracker)
	assert.Equal(t, 11, store.callCount())
}

func TestCache_SuccessfulLookupClearsMissCount(t *testing.T) {
	store := &countingStore{InMemoryStore: trackers.NewInMemoryStore()}
	cache := newTestCache(store)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		_, err := cache.Lookup(ctx, "111")
		require.ErrorIs(t, err, identity.ErrUnknownTracker)
	}

	// The device gets registered before the budget is spent.
	store.Add(trackers.Tracker{ID: 3, IMEI: "111", OrganizationID: 1})
	got, err := cache.Lookup(ctx, "111")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.ID)

	// After invalidation, old misses must not count against the fresh start.
	cache.Invalidate("111")
	store.Remove("111")
	for i := 0; i < 10; i++ {
		_, err := cache.Lookup(ctx, "111")
		assert.ErrorIs(t, err, identity.ErrUnknownTracker)
	}
	assert.Equal(t, 20, store.callCount())
}

func TestCache_InvalidateForcesRefetch(t *testing.T) {
	store := &countingStore{InMemoryStore: trackers.NewInMemoryStore(
		trackers.Tracker{ID: 1, IMEI: "111", OrganizationID: 1},
	)}
	cache := newTestCache(store)
	ctx := context.Background()

	_, err := cache.Lookup(ctx, "111")
	require.NoError(t, err)

	store.Add(trackers.Tracker{ID: 1, IMEI: "111", OrganizationID: 2})
	cache.Invalidate("111")

	got, err := cache.Lookup(ctx, "111")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.OrganizationID)
	assert.Equal(t, 2, store.callCount())
}
