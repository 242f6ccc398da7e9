package api

import (
	"context"
	"time"

	"github.com/Ruslan-Po/final-weather/internal/forecast"
	"github.com/Ruslan-Po/final-weather/internal/refresh"
	"github.com/Ruslan-Po/final-weather/internal/store"
)

// FavoriteStore defines the storage operations needed by handlers.
type FavoriteStore interface {
	Upsert(ctx context.Context, cityKey string, snap *forecast.WeatherSnapshot) (*store.FavoriteCity, error)
	Get(ctx context.Context, cityKey string) (*store.FavoriteCity, error)
	GetByCoordinates(ctx context.Context, lat, lon float64) (*store.FavoriteCity, error)
	ListAll(ctx context.Context) ([]*store.FavoriteCity, error)
	IsTracked(ctx context.Context, cityKey string) (bool, error)
	Remove(ctx context.Context, cityKey string) error
	RemoveAll(ctx context.Context) error
	Flush(ctx context.Context) error
}

// SnapshotCache defines the read-cache operations needed by handlers.
type SnapshotCache interface {
	Get(ctx context.Context, cityKey string) (*forecast.WeatherSnapshot, error)
	Set(ctx context.Context, cityKey string, snap *forecast.WeatherSnapshot) error
}

// Refresher runs the batch refresh.
type Refresher interface {
	RefreshAll(ctx context.Context) (*refresh.Report, error)
}

// Notifier manages per-city alert schedules.
type Notifier interface {
	EnableDaily(ctx context.Context, cityKey string, hour, minute int) error
	EnableOnce(ctx context.Context, cityKey string, fireAt time.Time) error
	Disable(ctx context.Context, cityKey string) error
	IsEnabled(ctx context.Context, cityKey string) (bool, error)
}

// LocalWeather serves the non-favorited home-screen fetch.
type LocalWeather interface {
	Fetch(ctx context.Context, coord forecast.Coordinates, forceRefresh bool) (*forecast.WeatherSnapshot, error)
}

// LastLocationStore reads and clears the persisted last-location slot that
// seeds the home-screen default. Satisfied by *cache.Cache.
type LastLocationStore interface {
	LastLocation(ctx context.Context) (*forecast.LastLocation, error)
	ClearLastLocation(ctx context.Context) error
}
