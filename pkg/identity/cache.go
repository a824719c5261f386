// Package identity resolves device IMEIs to registered trackers, caching both
// outcomes. Hits are cached forever (registrations change through Invalidate,
// not expiry); misses are counted so an unregistered device flooding events
// cannot hammer the tracker store.
package identity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-trackflow/pkg/trackers"
)

// ErrUnknownTracker is returned when the IMEI has no registration, whether
// freshly looked up or short-circuited from the negative cache.
var ErrUnknownTracker = errors.New("unknown tracker")

// CacheConfig holds configuration for the identity cache.
type CacheConfig struct {
	// MaxAttempts is how many store misses are tolerated per IMEI within
	// one window before lookups short-circuit.
	MaxAttempts int
	// Window bounds the miss count; once it elapses the count resets and
	// the store is consulted again.
	Window time.Duration
}

// NewCacheDefaults provides a config with sensible defaults.
func NewCacheDefaults() *CacheConfig {
	return &CacheConfig{
		MaxAttempts: 10,
		Window:      5 * time.Minute,
	}
}

// missRecord tracks store misses for one IMEI.
type missRecord struct {
	attempts    int
	windowStart time.Time
}

// Cache is a concurrency-safe IMEI resolver over a trackers.Store.
type Cache struct {
	cfg    *CacheConfig
	store  trackers.Store
	logger zerolog.Logger

	mu       sync.Mutex
	resolved map[string]trackers.Tracker
	misses   map[string]missRecord

	now func() time.Time
}

// NewCache creates an identity cache over store.
func NewCache(cfg *CacheConfig, store trackers.Store, logger zerolog.Logger) *Cache {
	return &Cache{
		cfg:      cfg,
		store:    store,
		logger:   logger.With().Str("component", "IdentityCache").Logger(),
		resolved: make(map[string]trackers.Tracker),
		misses:   make(map[string]missRecord),
		now:      time.Now,
	}
}

// SetNowFunc overrides the clock. Tests use it to step through miss windows.
func (c *Cache) SetNowFunc(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Lookup resolves imei to its tracker. It returns ErrUnknownTracker for
// unregistered devices and passes through other store failures uncounted.
func (c *Cache) Lookup(ctx context.Context, imei string) (*trackers.Tracker, error) {
	c.mu.Lock()
	// Miss budget first, positive map second.
	if rec, ok := c.misses[imei]; ok {
		if c.now().Sub(rec.windowStart) >= c.cfg.Window {
			delete(c.misses, imei)
		} else if rec.attempts >= c.cfg.MaxAttempts {
			c.mu.Unlock()
			return nil, ErrUnknownTracker
		}
	}
	if tracker, ok := c.resolved[imei]; ok {
		c.mu.Unlock()
		return &tracker, nil
	}
	c.mu.Unlock()

	tracker, err := c.store.FindByIMEI(ctx, imei)
	if err == nil {
		c.mu.Lock()
		c.resolved[imei] = *tracker
		delete(c.misses, imei)
		c.mu.Unlock()
		return tracker, nil
	}
	if !errors.Is(err, trackers.ErrNotFound) {
		return nil, err
	}

	c.mu.Lock()
	rec, ok := c.misses[imei]
	if !ok || c.now().Sub(rec.windowStart) >= c.cfg.Window {
		rec = missRecord{windowStart: c.now()}
	}
	rec.attempts++
	c.misses[imei] = rec
	attempts := rec.attempts
	c.mu.Unlock()

	if attempts >= c.cfg.MaxAttempts {
		c.logger.Warn().Str("imei", imei).Int("attempts", attempts).
			Msg("Unknown device reached its lookup budget, short-circuiting further lookups.")
	}
	return nil, ErrUnknownTracker
}

// Invalidate forgets everything cached for imei. Call it when a tracker is
// registered, re-registered or removed.
func (c *Cache) Invalidate(imei string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.resolved, imei)
	delete(c.misses, imei)
}
