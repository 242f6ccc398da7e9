package refresh

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

// batchTimeout caps one background batch; a wedged network call must not
// stall the next interval forever.
const batchTimeout = 2 * time.Minute

// Refresher is satisfied by *Coordinator.
type Refresher interface {
	RefreshAll(ctx context.Context) (*Report, error)
}

// Periodic runs RefreshAll on a fixed interval in the background.
type Periodic struct {
	scheduler *gocron.Scheduler
	refresher Refresher
	interval  time.Duration
	log       *slog.Logger
}

// NewPeriodic constructs a Periodic runner. An interval of zero disables it.
func NewPeriodic(refresher Refresher, interval time.Duration, log *slog.Logger) *Periodic {
	return &Periodic{
		scheduler: gocron.NewScheduler(time.UTC),
		refresher: refresher,
		interval:  interval,
		log:       log,
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
func (p *Periodic) Start() error {
	if p.interval <= 0 {
		p.log.Info("periodic refresh disabled")
		return nil
	}

	_, err := p.scheduler.Every(p.interval).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
		defer cancel()

		report, err := p.refresher.RefreshAll(ctx)
		if err != nil {
			p.log.Error("periodic refresh failed", "err", err)
			return
		}
		p.log.Info("periodic refresh completed",
			"attempted", report.Attempted, "succeeded", report.Succeeded, "failed", report.Failed)
	})
	if err != nil {
		return err
	}

	p.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future runs.
func (p *Periodic) Stop() {
	if p.scheduler != nil {
		p.scheduler.Stop()
	}
}
