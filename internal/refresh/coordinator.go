// Package refresh orchestrates the concurrent batch refresh of every
// favorite city.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Ruslan-Po/final-weather/internal/events"
	"github.com/Ruslan-Po/final-weather/internal/forecast"
	"github.com/Ruslan-Po/final-weather/internal/store"
)

// Store is the slice of FavoriteStore the coordinator needs.
type Store interface {
	ListAll(ctx context.Context) ([]*store.FavoriteCity, error)
	Upsert(ctx context.Context, cityKey string, snap *forecast.WeatherSnapshot) (*store.FavoriteCity, error)
	Flush(ctx context.Context) error
}

// Stage names the pipeline step a city failed at.
type Stage string

const (
	StageResolve Stage = "resolve"
	StageFetch   Stage = "fetch"
	StagePersist Stage = "persist"
	StagePanic   Stage = "panic"
)

// Failure records one city's terminal error within a batch.
type Failure struct {
	CityKey string `json:"city_key"`
	Stage   Stage  `json:"stage"`
	Err     error  `json:"-"`
	Reason  string `json:"reason"`
}

// Report summarizes one batch refresh.
type Report struct {
	Attempted int       `json:"attempted"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Failures  []Failure `json:"failures,omitempty"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
}

// Coordinator fans out one resolve→fetch→upsert pipeline per favorite and
// joins on all of them. Batches are serialized: a RefreshAll call that
// arrives while another runs waits its turn, so two batches never interleave
// writes for the same city.
type Coordinator struct {
	store   Store
	geo     forecast.GeoResolver
	fetcher forecast.Fetcher
	clock   forecast.Clock
	bus     *events.Bus
	log     *slog.Logger

	mu sync.Mutex
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(st Store, geo forecast.GeoResolver, fetcher forecast.Fetcher, clock forecast.Clock, bus *events.Bus, log *slog.Logger) *Coordinator {
	return &Coordinator{store: st, geo: geo, fetcher: fetcher, clock: clock, bus: bus, log: log}
}

// RefreshAll refreshes every city tracked at the moment the batch starts.
// Per-city failures are recorded in the report and never abort the batch; the
// join barrier waits for all pipelines before the single flush and the single
// FavoritesChanged event. An empty favorite set returns immediately without
// touching any port.
func (c *Coordinator) RefreshAll(ctx context.Context) (*Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	report := &Report{Started: c.clock.Now()}

	cities, err := c.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing favorites for refresh: %w", err)
	}

	report.Attempted = len(cities)
	if len(cities) == 0 {
		report.Finished = c.clock.Now()
		return report, nil
	}

	// One slot per city: each pipeline writes only its own index, so the
	// join needs no extra locking.
	results := make([]*Failure, len(cities))

	g, gCtx := errgroup.WithContext(ctx)
	for i, city := range cities {
		g.Go(func() error {
			// A panic is recorded as this city's failure, not returned: an
			// errgroup error would cancel gCtx and abort sibling pipelines.
			defer func() {
				if r := recover(); r != nil {
					c.log.Error("refresh pipeline panicked", "city", city.Key, "recover", r)
					err := fmt.Errorf("refresh pipeline panicked: %v", r)
					results[i] = &Failure{CityKey: city.Key, Stage: StagePanic, Err: err, Reason: err.Error()}
				}
			}()
			results[i] = c.refreshOne(gCtx, city)
			return nil
		})
	}
	werr := g.Wait()

	for _, f := range results {
		if f == nil {
			report.Succeeded++
			continue
		}
		report.Failed++
		report.Failures = append(report.Failures, *f)
	}

	if err := c.store.Flush(ctx); err != nil {
		c.log.Error("flush after batch refresh failed", "err", err)
		werr = errors.Join(werr, err)
	}
	c.bus.Publish(events.FavoritesChanged{})

	report.Finished = c.clock.Now()
	c.log.Info("batch refresh finished",
		"attempted", report.Attempted, "succeeded", report.Succeeded, "failed", report.Failed)

	return report, werr
}

// refreshOne runs a single city's pipeline to a terminal state. A non-nil
// return is the city's recorded failure; the previously cached snapshot is
// left untouched in that case.
func (c *Coordinator) refreshOne(ctx context.Context, city *store.FavoriteCity) *Failure {
	coord, err := c.geo.Resolve(ctx, city.DisplayName)
	if err != nil {
		c.log.Warn("refresh: resolve failed", "city", city.Key, "err", err)
		return &Failure{CityKey: city.Key, Stage: StageResolve, Err: err, Reason: err.Error()}
	}

	snap, err := c.fetcher.Fetch(ctx, coord)
	if err != nil {
		c.log.Warn("refresh: fetch failed", "city", city.Key, "err", err)
		return &Failure{CityKey: city.Key, Stage: StageFetch, Err: err, Reason: err.Error()}
	}

	if _, err := c.store.Upsert(ctx, city.Key, snap); err != nil {
		c.log.Warn("refresh: persist failed", "city", city.Key, "err", err)
		return &Failure{CityKey: city.Key, Stage: StagePersist, Err: err, Reason: err.Error()}
	}

	return nil
}
