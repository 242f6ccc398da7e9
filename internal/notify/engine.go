package notify

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/Ruslan-Po/final-weather/internal/events"
	"github.com/Ruslan-Po/final-weather/internal/forecast"
	"github.com/Ruslan-Po/final-weather/internal/store"
)

// SnapshotSource reads the cached weather an alert payload is built from.
// Satisfied by *store.FavoriteStore.
type SnapshotSource interface {
	Get(ctx context.Context, cityKey string) (*store.FavoriteCity, error)
}

// ScheduleRepo persists schedule intent. Satisfied by *ScheduleStore.
type ScheduleRepo interface {
	Save(ctx context.Context, sched Schedule) error
	Get(ctx context.Context, cityKey string) (*Schedule, error)
	Delete(ctx context.Context, cityKey string) error
	ListEnabled(ctx context.Context) ([]Schedule, error)
}

type permissionState int

const (
	permissionUnknown permissionState = iota
	permissionGranted
	permissionDenied
)

// Engine drives the per-city alert state machine:
// Disabled → Pending (awaiting permission) → Scheduled (once|daily) → Disabled.
// It never watches the favorite store; the orchestration layer must call
// Disable before removing a city.
type Engine struct {
	sched     SchedulerPort
	snapshots SnapshotSource
	repo      ScheduleRepo
	bus       *events.Bus
	clock     forecast.Clock
	log       *slog.Logger

	mu   sync.Mutex
	perm permissionState
}

// NewEngine constructs an Engine.
func NewEngine(sched SchedulerPort, snapshots SnapshotSource, repo ScheduleRepo, bus *events.Bus, clock forecast.Clock, log *slog.Logger) *Engine {
	return &Engine{sched: sched, snapshots: snapshots, repo: repo, bus: bus, clock: clock, log: log}
}

// EnableDaily schedules a recurring alert at hour:minute for the city,
// superseding any active trigger.
func (e *Engine) EnableDaily(ctx context.Context, cityKey string, hour, minute int) error {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return fmt.Errorf("invalid daily trigger %02d:%02d", hour, minute)
	}
	return e.enable(ctx, cityKey, Trigger{Kind: TriggerDaily, Hour: hour, Minute: minute})
}

// EnableOnce schedules a one-shot alert at fireAt for the city, superseding
// any active trigger.
func (e *Engine) EnableOnce(ctx context.Context, cityKey string, fireAt time.Time) error {
	if !fireAt.After(e.clock.Now()) {
		return fmt.Errorf("one-shot trigger %s is in the past", fireAt.Format(time.RFC3339))
	}
	return e.enable(ctx, cityKey, Trigger{Kind: TriggerOnce, FireAt: fireAt})
}

func (e *Engine) enable(ctx context.Context, cityKey string, trigger Trigger) error {
	if err := e.ensurePermission(ctx); err != nil {
		return err
	}

	payload, err := e.buildPayload(ctx, cityKey)
	if err != nil {
		return err
	}

	id := IdentifierFor(cityKey)

	// Cancel-then-schedule keeps the one-active-schedule invariant across
	// trigger type changes.
	if err := e.sched.Cancel(ctx, id); err != nil {
		return &SchedulerError{Op: "cancel", Err: err}
	}
	if err := e.sched.Schedule(ctx, id, trigger, payload); err != nil {
		// The prior trigger is already gone; settle on fully-disabled
		// rather than leaving a stale record behind.
		if derr := e.repo.Delete(ctx, cityKey); derr != nil {
			e.log.Error("clearing schedule record after failed schedule", "city", cityKey, "err", derr)
		}
		e.bus.Publish(events.NotificationStateChanged{CityKey: cityKey, Enabled: false})
		return &SchedulerError{Op: "schedule", Err: err}
	}

	sched := Schedule{CityKey: cityKey, Enabled: true, Trigger: trigger, UpdatedAt: e.clock.Now()}
	if err := e.repo.Save(ctx, sched); err != nil {
		// Mirror the failed-schedule path: the port must not keep a trigger
		// the repo never recorded.
		if cerr := e.sched.Cancel(ctx, id); cerr != nil {
			e.log.Error("canceling alert after failed save", "city", cityKey, "err", cerr)
		}
		if derr := e.repo.Delete(ctx, cityKey); derr != nil {
			e.log.Error("clearing schedule record after failed save", "city", cityKey, "err", derr)
		}
		e.bus.Publish(events.NotificationStateChanged{CityKey: cityKey, Enabled: false})
		return err
	}

	e.bus.Publish(events.NotificationStateChanged{CityKey: cityKey, Enabled: true})
	e.log.Info("alert scheduled", "city", cityKey, "kind", trigger.Kind)
	return nil
}

// Disable cancels the city's alert and clears its schedule record. Idempotent:
// disabling a city with nothing scheduled still succeeds (and still issues the
// cancel, which the scheduler treats as a no-op).
func (e *Engine) Disable(ctx context.Context, cityKey string) error {
	id := IdentifierFor(cityKey)

	if err := e.sched.Cancel(ctx, id); err != nil {
		// The record is cleared regardless; a failed cancel leaves at worst
		// an orphaned trigger whose identifier the next enable reuses.
		e.log.Warn("canceling alert failed", "city", cityKey, "err", err)
	}

	if err := e.repo.Delete(ctx, cityKey); err != nil {
		return err
	}

	e.bus.Publish(events.NotificationStateChanged{CityKey: cityKey, Enabled: false})
	return nil
}

// IsEnabled reports whether the city has an active schedule.
func (e *Engine) IsEnabled(ctx context.Context, cityKey string) (bool, error) {
	sched, err := e.repo.Get(ctx, cityKey)
	if err != nil {
		return false, err
	}
	return sched != nil && sched.Enabled, nil
}

// RestoreAll re-arms every persisted schedule with the in-process scheduler.
// Called once at startup; schedules whose city lost its cached data are
// skipped and logged, not dropped.
func (e *Engine) RestoreAll(ctx context.Context) error {
	scheds, err := e.repo.ListEnabled(ctx)
	if err != nil {
		return err
	}

	for _, sched := range scheds {
		payload, err := e.buildPayload(ctx, sched.CityKey)
		if err != nil {
			e.log.Warn("skipping schedule restore", "city", sched.CityKey, "err", err)
			continue
		}
		id := IdentifierFor(sched.CityKey)
		if err := e.sched.Schedule(ctx, id, sched.Trigger, payload); err != nil {
			e.log.Error("restoring schedule failed", "city", sched.CityKey, "err", err)
		}
	}

	return nil
}

// buildPayload reads the city's cached current weather. The alert body shows
// the temperature and condition as of the last cache refresh.
func (e *Engine) buildPayload(ctx context.Context, cityKey string) (Payload, error) {
	city, err := e.snapshots.Get(ctx, cityKey)
	if err != nil {
		return Payload{}, err
	}
	if city == nil || len(city.Points) == 0 {
		return Payload{}, ErrNoData
	}

	current := city.Points[0]
	return Payload{
		Title: city.DisplayName,
		Body:  fmt.Sprintf("%d°C, %s", int(math.Round(current.Temperature)), current.ConditionText),
	}, nil
}

func (e *Engine) ensurePermission(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.perm {
	case permissionGranted:
		return nil
	case permissionDenied:
		return ErrPermissionDenied
	}

	granted, err := e.sched.RequestPermission(ctx)
	if err != nil {
		return &SchedulerError{Op: "permission", Err: err}
	}
	if !granted {
		e.perm = permissionDenied
		return ErrPermissionDenied
	}
	e.perm = permissionGranted
	return nil
}
