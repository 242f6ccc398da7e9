package forecast

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// FreshnessWindow is how long a cached single-location fetch stays valid.
const FreshnessWindow = 300 * time.Second

// LocationSeeder persists the last displayed location so the home screen can
// seed its default city on the next start.
type LocationSeeder interface {
	SaveLastLocation(ctx context.Context, loc LastLocation) error
}

// SingleLocationCache is a one-slot, time-boxed cache in front of a Fetcher.
// It serves the non-favorited home screen; the slot is advisory, so
// concurrent fetches racing on it resolve as last writer wins.
type SingleLocationCache struct {
	fetcher Fetcher
	clock   Clock
	seeder  LocationSeeder // optional
	log     *slog.Logger

	mu        sync.Mutex
	coord     Coordinates
	snap      *WeatherSnapshot
	fetchedAt time.Time
}

// NewSingleLocationCache constructs the cache. seeder may be nil.
func NewSingleLocationCache(fetcher Fetcher, clock Clock, seeder LocationSeeder, log *slog.Logger) *SingleLocationCache {
	return &SingleLocationCache{fetcher: fetcher, clock: clock, seeder: seeder, log: log}
}

// Fetch returns the cached snapshot when the requested coordinates exactly
// match the slot and the entry is younger than FreshnessWindow. Otherwise it
// fetches fresh data, overwriting the slot on success only; on failure the
// slot is left untouched and the error propagates.
func (c *SingleLocationCache) Fetch(ctx context.Context, coord Coordinates, forceRefresh bool) (*WeatherSnapshot, error) {
	if !forceRefresh {
		if snap := c.cachedFor(coord); snap != nil {
			return snap, nil
		}
	}

	snap, err := c.fetcher.Fetch(ctx, coord)
	if err != nil {
		return nil, err
	}

	now := c.clock.Now()

	c.mu.Lock()
	c.coord = coord
	c.snap = snap
	c.fetchedAt = now
	c.mu.Unlock()

	if c.seeder != nil {
		seed := LastLocation{Coord: coord, CityName: snap.CityName, UpdatedAt: now}
		if err := c.seeder.SaveLastLocation(ctx, seed); err != nil {
			c.log.Warn("saving last location failed", "city", snap.CityName, "err", err)
		}
	}

	return snap, nil
}

// Cached returns the current slot contents without fetching, or nil when the
// slot is empty.
func (c *SingleLocationCache) Cached() *WeatherSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

func (c *SingleLocationCache) cachedFor(coord Coordinates) *WeatherSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snap == nil || c.coord != coord {
		return nil
	}
	if c.clock.Now().Sub(c.fetchedAt) >= FreshnessWindow {
		return nil
	}
	return c.snap
}
