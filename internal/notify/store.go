package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier abstracts the subset of pgxpool.Pool used by ScheduleStore.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Schedule is the persisted per-city alert intent. The table is keyed by
// city, so at most one row (one active trigger) exists per city.
type Schedule struct {
	CityKey   string    `json:"city_key"`
	Enabled   bool      `json:"enabled"`
	Trigger   Trigger   `json:"trigger"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScheduleStore persists NotificationSchedule rows, a table separate from and
// independent of the favorites table.
type ScheduleStore struct {
	q Querier
}

// NewScheduleStore constructs a ScheduleStore backed by the given pool.
func NewScheduleStore(pool *pgxpool.Pool) *ScheduleStore {
	return &ScheduleStore{q: pool}
}

// NewScheduleStoreWithQuerier constructs a ScheduleStore with a custom Querier (for tests).
func NewScheduleStoreWithQuerier(q Querier) *ScheduleStore {
	return &ScheduleStore{q: q}
}

// Save upserts the schedule row for its city.
func (s *ScheduleStore) Save(ctx context.Context, sched Schedule) error {
	const q = `
		INSERT INTO notification_schedules (city_key, enabled, kind, fire_at, hour, minute, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (city_key) DO UPDATE
		SET enabled    = EXCLUDED.enabled,
		    kind       = EXCLUDED.kind,
		    fire_at    = EXCLUDED.fire_at,
		    hour       = EXCLUDED.hour,
		    minute     = EXCLUDED.minute,
		    updated_at = EXCLUDED.updated_at
	`

	var fireAt int64
	if sched.Trigger.Kind == TriggerOnce {
		fireAt = sched.Trigger.FireAt.Unix()
	}

	if _, err := s.q.Exec(ctx, q,
		sched.CityKey, sched.Enabled, string(sched.Trigger.Kind),
		fireAt, sched.Trigger.Hour, sched.Trigger.Minute, sched.UpdatedAt,
	); err != nil {
		return fmt.Errorf("saving schedule for %s: %w", sched.CityKey, err)
	}
	return nil
}

// Get returns the schedule for a city, or nil, nil when none exists.
func (s *ScheduleStore) Get(ctx context.Context, cityKey string) (*Schedule, error) {
	const q = `
		SELECT city_key, enabled, kind, fire_at, hour, minute, updated_at
		FROM notification_schedules
		WHERE city_key = $1
	`

	sched, err := scanSchedule(s.q.QueryRow(ctx, q, cityKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying schedule for %s: %w", cityKey, err)
	}
	return sched, nil
}

// Delete removes the row for a city. Deleting a missing row is a no-op.
func (s *ScheduleStore) Delete(ctx context.Context, cityKey string) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM notification_schedules WHERE city_key = $1`, cityKey); err != nil {
		return fmt.Errorf("deleting schedule for %s: %w", cityKey, err)
	}
	return nil
}

// ListEnabled returns every active schedule; used to re-arm the in-process
// scheduler after a restart.
func (s *ScheduleStore) ListEnabled(ctx context.Context) ([]Schedule, error) {
	rows, err := s.q.Query(ctx, `
		SELECT city_key, enabled, kind, fire_at, hour, minute, updated_at
		FROM notification_schedules
		WHERE enabled
		ORDER BY city_key
	`)
	if err != nil {
		return nil, fmt.Errorf("listing enabled schedules: %w", err)
	}
	defer rows.Close()

	var scheds []Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning schedule row: %w", err)
		}
		scheds = append(scheds, *sched)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating schedule rows: %w", err)
	}

	return scheds, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSchedule(sc scanner) (*Schedule, error) {
	var (
		sched  Schedule
		kind   string
		fireAt int64
	)
	err := sc.Scan(&sched.CityKey, &sched.Enabled, &kind, &fireAt,
		&sched.Trigger.Hour, &sched.Trigger.Minute, &sched.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sched.Trigger.Kind = TriggerKind(kind)
	if sched.Trigger.Kind == TriggerOnce {
		sched.Trigger.FireAt = time.Unix(fireAt, 0)
	}
	return &sched, nil
}
