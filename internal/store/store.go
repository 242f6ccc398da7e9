package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Ruslan-Po/final-weather/internal/forecast"
)

// Querier abstracts the subset of pgxpool.Pool used by FavoriteStore.
// This allows injection of a mock in tests.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Invalidator drops stale read-cache entries for a city. Satisfied by the
// Redis snapshot cache.
type Invalidator interface {
	Delete(ctx context.Context, cityKey string) error
}

// FavoriteCity is a tracked city with its cached forecast.
type FavoriteCity struct {
	Key         string                   `json:"key"`
	DisplayName string                   `json:"display_name"`
	Coord       forecast.Coordinates     `json:"coord"`
	Sunrise     int64                    `json:"sunrise"`
	Sunset      int64                    `json:"sunset"`
	CachedAt    *time.Time               `json:"cached_at,omitempty"`
	Points      []forecast.ForecastPoint `json:"points,omitempty"`
}

// Snapshot converts the stored city back into snapshot form, used when
// populating the read cache.
func (c *FavoriteCity) Snapshot() *forecast.WeatherSnapshot {
	return &forecast.WeatherSnapshot{
		CityName: c.DisplayName,
		Coord:    c.Coord,
		Sunrise:  c.Sunrise,
		Sunset:   c.Sunset,
		Points:   c.Points,
	}
}

// FavoriteStore is the durable keyed collection of tracked cities. Every
// statement commits before the mutating call returns; Flush carries the
// once-per-batch work instead, invalidating read-cache entries for every city
// touched since the previous flush.
type FavoriteStore struct {
	q     Querier
	inv   Invalidator // may be nil
	clock forecast.Clock

	mu    sync.Mutex
	dirty map[string]struct{}
}

// New constructs a FavoriteStore backed by the given pool.
func New(pool *pgxpool.Pool, inv Invalidator, clock forecast.Clock) *FavoriteStore {
	return NewWithQuerier(pool, inv, clock)
}

// NewWithQuerier constructs a FavoriteStore with a custom Querier (for tests).
func NewWithQuerier(q Querier, inv Invalidator, clock forecast.Clock) *FavoriteStore {
	return &FavoriteStore{q: q, inv: inv, clock: clock, dirty: make(map[string]struct{})}
}

// Upsert atomically replaces the city's forecast points, coordinates, sun
// times and cache timestamp with the snapshot's, creating the city if the key
// is new. The point set is replaced wholesale, never merged.
func (s *FavoriteStore) Upsert(ctx context.Context, cityKey string, snap *forecast.WeatherSnapshot) (*FavoriteCity, error) {
	cachedAt := s.clock.Now()

	tx, err := s.q.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning upsert for %s: %w", cityKey, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const upsertCity = `
		INSERT INTO favorite_cities (city_key, display_name, latitude, longitude, sunrise, sunset, cached_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (city_key) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    latitude     = EXCLUDED.latitude,
		    longitude    = EXCLUDED.longitude,
		    sunrise      = EXCLUDED.sunrise,
		    sunset       = EXCLUDED.sunset,
		    cached_at    = EXCLUDED.cached_at
	`
	if _, err := tx.Exec(ctx, upsertCity,
		cityKey, snap.CityName, snap.Coord.Lat, snap.Coord.Lon, snap.Sunrise, snap.Sunset, cachedAt,
	); err != nil {
		return nil, fmt.Errorf("upserting city %s: %w", cityKey, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM forecast_points WHERE city_key = $1`, cityKey); err != nil {
		return nil, fmt.Errorf("clearing points for %s: %w", cityKey, err)
	}

	const insertPoint = `
		INSERT INTO forecast_points (city_key, ts, temperature, temp_min, temp_max, feels_like,
		                             humidity, pressure, wind_speed, wind_deg, wind_gust,
		                             visibility, condition_code, condition_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	for _, p := range snap.Points {
		if _, err := tx.Exec(ctx, insertPoint,
			cityKey, p.Time, p.Temperature, p.TempMin, p.TempMax, p.FeelsLike,
			p.Humidity, p.Pressure, p.WindSpeed, p.WindDeg, p.WindGust,
			p.Visibility, p.ConditionCode, p.ConditionText,
		); err != nil {
			return nil, fmt.Errorf("inserting point for %s: %w", cityKey, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing upsert for %s: %w", cityKey, err)
	}

	s.markDirty(cityKey)

	return &FavoriteCity{
		Key:         cityKey,
		DisplayName: snap.CityName,
		Coord:       snap.Coord,
		Sunrise:     snap.Sunrise,
		Sunset:      snap.Sunset,
		CachedAt:    &cachedAt,
		Points:      snap.Points,
	}, nil
}

const cityColumns = `city_key, display_name, latitude, longitude, sunrise, sunset, cached_at`

// Get returns the city with its full ordered point set, or nil, nil when the
// key is not tracked.
func (s *FavoriteStore) Get(ctx context.Context, cityKey string) (*FavoriteCity, error) {
	row := s.q.QueryRow(ctx, `SELECT `+cityColumns+` FROM favorite_cities WHERE city_key = $1`, cityKey)

	city, err := scanCity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying city %s: %w", cityKey, err)
	}

	city.Points, err = s.loadPoints(ctx, cityKey)
	if err != nil {
		return nil, err
	}
	return city, nil
}

// GetByCoordinates returns the tracked city last cached at exactly these
// coordinates, or nil, nil when none matches.
func (s *FavoriteStore) GetByCoordinates(ctx context.Context, lat, lon float64) (*FavoriteCity, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+cityColumns+` FROM favorite_cities WHERE latitude = $1 AND longitude = $2 LIMIT 1`,
		lat, lon,
	)

	city, err := scanCity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying city by coordinates (%f, %f): %w", lat, lon, err)
	}

	city.Points, err = s.loadPoints(ctx, city.Key)
	if err != nil {
		return nil, err
	}
	return city, nil
}

// ListAll returns every tracked city in first-cached order. Points are not
// loaded; use Get or CurrentWeather for those.
func (s *FavoriteStore) ListAll(ctx context.Context) ([]*FavoriteCity, error) {
	rows, err := s.q.Query(ctx, `SELECT `+cityColumns+` FROM favorite_cities ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing favorites: %w", err)
	}
	defer rows.Close()

	var cities []*FavoriteCity
	for rows.Next() {
		city, err := scanCity(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning favorite row: %w", err)
		}
		cities = append(cities, city)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating favorite rows: %w", err)
	}

	return cities, nil
}

// IsTracked reports whether the key exists in the store.
func (s *FavoriteStore) IsTracked(ctx context.Context, cityKey string) (bool, error) {
	var tracked bool
	err := s.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM favorite_cities WHERE city_key = $1)`, cityKey,
	).Scan(&tracked)
	if err != nil {
		return false, fmt.Errorf("checking city %s: %w", cityKey, err)
	}
	return tracked, nil
}

// CurrentWeather returns the earliest cached forecast point for the city,
// or nil, nil when the city is untracked or has no cached points.
func (s *FavoriteStore) CurrentWeather(ctx context.Context, cityKey string) (*forecast.ForecastPoint, error) {
	row := s.q.QueryRow(ctx, `
		SELECT ts, temperature, temp_min, temp_max, feels_like, humidity, pressure,
		       wind_speed, wind_deg, wind_gust, visibility, condition_code, condition_text
		FROM forecast_points
		WHERE city_key = $1
		ORDER BY ts ASC
		LIMIT 1
	`, cityKey)

	p, err := scanPoint(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying current weather for %s: %w", cityKey, err)
	}
	return p, nil
}

// Remove deletes the city and, explicitly in the same transaction, its
// forecast points. Removing an untracked key is a no-op.
func (s *FavoriteStore) Remove(ctx context.Context, cityKey string) error {
	tx, err := s.q.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning remove for %s: %w", cityKey, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM forecast_points WHERE city_key = $1`, cityKey); err != nil {
		return fmt.Errorf("deleting points for %s: %w", cityKey, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM favorite_cities WHERE city_key = $1`, cityKey); err != nil {
		return fmt.Errorf("deleting city %s: %w", cityKey, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing remove for %s: %w", cityKey, err)
	}

	s.markDirty(cityKey)
	return nil
}

// RemoveAll deletes every tracked city and all cached points.
func (s *FavoriteStore) RemoveAll(ctx context.Context) error {
	cities, err := s.ListAll(ctx)
	if err != nil {
		return err
	}

	tx, err := s.q.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning remove all: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM forecast_points`); err != nil {
		return fmt.Errorf("deleting all points: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM favorite_cities`); err != nil {
		return fmt.Errorf("deleting all cities: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing remove all: %w", err)
	}

	for _, c := range cities {
		s.markDirty(c.Key)
	}
	return nil
}

// Flush invalidates read-cache entries for every city mutated since the last
// flush. Keys whose invalidation fails stay dirty and are retried on the next
// flush; already-committed rows are never affected.
func (s *FavoriteStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	keys := make([]string, 0, len(s.dirty))
	for k := range s.dirty {
		keys = append(keys, k)
	}
	s.dirty = make(map[string]struct{})
	s.mu.Unlock()

	if s.inv == nil || len(keys) == 0 {
		return nil
	}

	var errs []error
	for _, k := range keys {
		if err := s.inv.Delete(ctx, k); err != nil {
			s.markDirty(k)
			errs = append(errs, fmt.Errorf("invalidating %s: %w", k, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("flushing favorites: %w", errors.Join(errs...))
	}
	return nil
}

func (s *FavoriteStore) markDirty(cityKey string) {
	s.mu.Lock()
	s.dirty[cityKey] = struct{}{}
	s.mu.Unlock()
}

func (s *FavoriteStore) loadPoints(ctx context.Context, cityKey string) ([]forecast.ForecastPoint, error) {
	rows, err := s.q.Query(ctx, `
		SELECT ts, temperature, temp_min, temp_max, feels_like, humidity, pressure,
		       wind_speed, wind_deg, wind_gust, visibility, condition_code, condition_text
		FROM forecast_points
		WHERE city_key = $1
		ORDER BY ts ASC
	`, cityKey)
	if err != nil {
		return nil, fmt.Errorf("querying points for %s: %w", cityKey, err)
	}
	defer rows.Close()

	var points []forecast.ForecastPoint
	for rows.Next() {
		p, err := scanPoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning point row: %w", err)
		}
		points = append(points, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating point rows: %w", err)
	}

	return points, nil
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCity(sc scanner) (*FavoriteCity, error) {
	var c FavoriteCity
	err := sc.Scan(&c.Key, &c.DisplayName, &c.Coord.Lat, &c.Coord.Lon, &c.Sunrise, &c.Sunset, &c.CachedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanPoint(sc scanner) (*forecast.ForecastPoint, error) {
	var p forecast.ForecastPoint
	err := sc.Scan(&p.Time, &p.Temperature, &p.TempMin, &p.TempMax, &p.FeelsLike,
		&p.Humidity, &p.Pressure, &p.WindSpeed, &p.WindDeg, &p.WindGust,
		&p.Visibility, &p.ConditionCode, &p.ConditionText)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
