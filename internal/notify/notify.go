// Package notify keeps per-city alert schedules consistent with user intent
// and drives the alert scheduler port. At most one schedule is active per
// city; enabling a new trigger supersedes the old one.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TriggerKind selects between a one-shot and a daily recurring alert.
type TriggerKind string

const (
	TriggerOnce  TriggerKind = "once"
	TriggerDaily TriggerKind = "daily"
)

// Trigger is the timing rule for a scheduled alert. FireAt applies to
// TriggerOnce; Hour/Minute to TriggerDaily.
type Trigger struct {
	Kind   TriggerKind `json:"kind"`
	FireAt time.Time   `json:"fire_at,omitempty"`
	Hour   int         `json:"hour,omitempty"`
	Minute int         `json:"minute,omitempty"`
}

// Payload is the user-visible content of a delivered alert.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// SchedulerPort is the host-side alert scheduler. Delivery semantics belong
// to the implementation.
type SchedulerPort interface {
	RequestPermission(ctx context.Context) (bool, error)
	Schedule(ctx context.Context, identifier string, trigger Trigger, payload Payload) error
	Cancel(ctx context.Context, identifier string) error
}

// ErrPermissionDenied is returned when the user declined alert permission.
var ErrPermissionDenied = errors.New("alert permission denied")

// ErrNoData is returned when a city has no cached weather to build an alert
// payload from; the caller should refresh favorites first.
var ErrNoData = errors.New("no cached weather for this city yet: refresh first")

// SchedulerError wraps a failure reported by the scheduler port.
type SchedulerError struct {
	Op  string
	Err error
}

func (e *SchedulerError) Error() string { return fmt.Sprintf("scheduler %s: %v", e.Op, e.Err) }
func (e *SchedulerError) Unwrap() error { return e.Err }

// IdentifierFor derives the stable scheduler identifier for a city. It must
// never change across the city's lifetime or a re-schedule would orphan the
// previously registered trigger.
func IdentifierFor(cityKey string) string {
	return "weather-" + cityKey
}
