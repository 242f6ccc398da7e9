// Package cache provides the Redis-backed read cache for favorite snapshots
// and the single persisted last-location slot.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Ruslan-Po/final-weather/internal/forecast"
)

// DefaultTTL bounds how long a cached snapshot may serve reads before the
// next database hit repopulates it.
const DefaultTTL = time.Hour

const lastLocationKey = "last_location"

// Cache wraps a Redis client with typed accessors for weather snapshots.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New constructs a Cache. A non-positive ttl falls back to DefaultTTL.
func New(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{client: client, ttl: ttl}
}

func key(cityKey string) string {
	return "snapshot:" + forecast.CityKey(cityKey)
}

// Get retrieves a cached snapshot. Returns nil, nil on a cache miss.
func (c *Cache) Get(ctx context.Context, cityKey string) (*forecast.WeatherSnapshot, error) {
	val, err := c.client.Get(ctx, key(cityKey)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache get for %s: %w", cityKey, err)
	}

	var snap forecast.WeatherSnapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return nil, fmt.Errorf("unmarshaling cached snapshot for %s: %w", cityKey, err)
	}

	return &snap, nil
}

// Set stores a snapshot with the configured TTL. A nil snapshot is a no-op.
func (c *Cache) Set(ctx context.Context, cityKey string, snap *forecast.WeatherSnapshot) error {
	if snap == nil {
		return nil
	}

	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling snapshot for %s: %w", cityKey, err)
	}

	if err := c.client.Set(ctx, key(cityKey), b, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set for %s: %w", cityKey, err)
	}

	return nil
}

// Delete drops the cached snapshot for the given city.
func (c *Cache) Delete(ctx context.Context, cityKey string) error {
	if err := c.client.Del(ctx, key(cityKey)).Err(); err != nil {
		return fmt.Errorf("cache delete for %s: %w", cityKey, err)
	}
	return nil
}

// SaveLastLocation overwrites the single last-location slot. No TTL: the seed
// stays until replaced or cleared.
func (c *Cache) SaveLastLocation(ctx context.Context, loc forecast.LastLocation) error {
	b, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("marshaling last location: %w", err)
	}
	if err := c.client.Set(ctx, lastLocationKey, b, 0).Err(); err != nil {
		return fmt.Errorf("saving last location: %w", err)
	}
	return nil
}

// LastLocation returns the stored slot, or nil, nil when it was never set.
func (c *Cache) LastLocation(ctx context.Context) (*forecast.LastLocation, error) {
	val, err := c.client.Get(ctx, lastLocationKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading last location: %w", err)
	}

	var loc forecast.LastLocation
	if err := json.Unmarshal([]byte(val), &loc); err != nil {
		return nil, fmt.Errorf("unmarshaling last location: %w", err)
	}
	return &loc, nil
}

// ClearLastLocation empties the slot.
func (c *Cache) ClearLastLocation(ctx context.Context) error {
	if err := c.client.Del(ctx, lastLocationKey).Err(); err != nil {
		return fmt.Errorf("clearing last location: %w", err)
	}
	return nil
}
