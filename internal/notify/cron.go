package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

// DeliverFunc receives an alert when its trigger fires.
type DeliverFunc func(identifier string, payload Payload)

// CronScheduler implements SchedulerPort with an in-process gocron scheduler.
// Jobs are tagged with the alert identifier, so cancel and supersede both
// reduce to removing the tag. An in-process scheduler needs no OS permission,
// so RequestPermission always grants.
type CronScheduler struct {
	scheduler *gocron.Scheduler
	deliver   DeliverFunc
	log       *slog.Logger
}

// NewCronScheduler constructs a CronScheduler. Daily triggers fire in loc.
func NewCronScheduler(loc *time.Location, deliver DeliverFunc, log *slog.Logger) *CronScheduler {
	return &CronScheduler{
		scheduler: gocron.NewScheduler(loc),
		deliver:   deliver,
		log:       log,
	}
}

// Start launches the scheduler loop in the background.
func (c *CronScheduler) Start() {
	c.scheduler.StartAsync()
}

// Stop halts the scheduler; pending jobs are dropped.
func (c *CronScheduler) Stop() {
	c.scheduler.Stop()
}

// RequestPermission always grants for in-process delivery.
func (c *CronScheduler) RequestPermission(context.Context) (bool, error) {
	return true, nil
}

// Schedule registers the trigger under the identifier, replacing any job
// already tagged with it.
func (c *CronScheduler) Schedule(_ context.Context, identifier string, trigger Trigger, payload Payload) error {
	if err := c.removeTag(identifier); err != nil {
		return err
	}

	job := func() { c.deliver(identifier, payload) }

	var err error
	switch trigger.Kind {
	case TriggerDaily:
		_, err = c.scheduler.Every(1).Day().
			At(fmt.Sprintf("%02d:%02d", trigger.Hour, trigger.Minute)).
			Tag(identifier).Do(job)
	case TriggerOnce:
		_, err = c.scheduler.Every(1).Day().
			StartAt(trigger.FireAt).LimitRunsTo(1).
			Tag(identifier).Do(job)
	default:
		return fmt.Errorf("unknown trigger kind %q", trigger.Kind)
	}
	if err != nil {
		return fmt.Errorf("registering %s job for %s: %w", trigger.Kind, identifier, err)
	}

	return nil
}

// Cancel removes the job tagged with the identifier. Canceling an unknown
// identifier is a no-op.
func (c *CronScheduler) Cancel(_ context.Context, identifier string) error {
	return c.removeTag(identifier)
}

func (c *CronScheduler) removeTag(identifier string) error {
	err := c.scheduler.RemoveByTag(identifier)
	if err != nil && !errors.Is(err, gocron.ErrJobNotFoundWithTag) {
		return fmt.Errorf("removing job %s: %w", identifier, err)
	}
	return nil
}

var _ SchedulerPort = (*CronScheduler)(nil)
