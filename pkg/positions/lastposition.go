package positions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrNoPosition is returned when a tracker has no cached last position.
var ErrNoPosition = errors.New("no last position for tracker")

// LastPositionCache keeps the most recent position per tracker.
type LastPositionCache interface {
	Set(ctx context.Context, row *Position) error
	Fetch(ctx context.Context, trackerID int64) (*Position, error)
	Delete(ctx context.Context, trackerID int64) error
	Close() error
}

// RedisConfig holds configuration for the Redis last-position cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// TTL ages out positions of trackers that stopped reporting. Zero
	// keeps them until overwritten or deleted.
	TTL time.Duration
}

// RedisLastPositionCache is a distributed LastPositionCache over Redis.
type RedisLastPositionCache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisLastPositionCache connects to Redis and verifies the connection.
func NewRedisLastPositionCache(ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisLastPositionCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis for last-position cache: %w", err)
	}
	logger.Info().Str("redis_address", cfg.Addr).Msg("Connected to Redis for last-position cache.")

	return &RedisLastPositionCache{
		client: rdb,
		ttl:    cfg.TTL,
		logger: logger.With().Str("component", "RedisLastPositionCache").Logger(),
	}, nil
}

func lastPositionKey(trackerID int64) string {
	return fmt.Sprintf("tracker:last_position:%d", trackerID)
}

// Set stores row as the tracker's current position.
func (c *RedisLastPositionCache) Set(ctx context.Context, row *Position) error {
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal last position for tracker %d: %w", row.TrackerID, err)
	}
	key := lastPositionKey(row.TrackerID)
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set for %s: %w", key, err)
	}
	return nil
}

// Fetch returns the tracker's current position, or ErrNoPosition.
func (c *RedisLastPositionCache) Fetch(ctx context.Context, trackerID int64) (*Position, error) {
	key := lastPositionKey(trackerID)
	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("tracker %d: %w", trackerID, ErrNoPosition)
		}
		return nil, fmt.Errorf("redis get for %s: %w", key, err)
	}
	var row Position
	if err := json.Unmarshal([]byte(data), &row); err != nil {
		return nil, fmt.Errorf("unmarshal last position for %s: %w", key, err)
	}
	return &row, nil
}

// Delete removes the tracker's current position.
func (c *RedisLastPositionCache) Delete(ctx context.Context, trackerID int64) error {
	if err := c.client.Del(ctx, lastPositionKey(trackerID)).Err(); err != nil {
		return fmt.Errorf("redis del for tracker %d: %w", trackerID, err)
	}
	return nil
}

// Close closes the Redis client.
func (c *RedisLastPositionCache) Close() error {
	return c.client.Close()
}

// InMemoryLastPositionCache is a map-backed LastPositionCache for tests and
// single-process deployments.
type InMemoryLastPositionCache struct {
	mu   sync.RWMutex
	rows map[int64]Position
}

// NewInMemoryLastPositionCache creates an empty cache.
func NewInMemoryLastPositionCache() *InMemoryLastPositionCache {
	return &InMemoryLastPositionCache{rows: make(map[int64]Position)}
}

// Set implements LastPositionCache.
func (c *InMemoryLastPositionCache) Set(_ context.Context, row *Position) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows[row.TrackerID] = *row
	return nil
}

// Fetch implements LastPositionCache.
func (c *InMemoryLastPositionCache) Fetch(_ context.Context, trackerID int64) (*Position, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	row, ok := c.rows[trackerID]
	if !ok {
		return nil, fmt.Errorf("tracker %d: %w", trackerID, ErrNoPosition)
	}
	return &row, nil
}

// Delete implements LastPositionCache.
func (c *InMemoryLastPositionCache) Delete(_ context.Context, trackerID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rows, trackerID)
	return nil
}

// Close implements LastPositionCache.
func (c *InMemoryLastPositionCache) Close() error {
	return nil
}
