/*
scheduler.go - Startup and daily triggers for the billing sweep

PURPOSE:
  Runs the sweep once when the process starts, then once per day at a
  configured local time, so bill statuses follow the calendar without any
  manual action.

DESIGN:
  - Runs a background goroutine that checks the clock every CheckInterval
  - Fires on the first check at or after DailyAt (HH:MM) local time, so a
    late tick or a DailyAt inside a DST gap still runs that day
  - Fires at most once per local calendar day
  - A failed run is logged; the next schedule runs normally

CONFIGURATION:
  - DailyAt: Local time of day to run (default: 23:50)
  - Location: Timezone of DailyAt and of "today" (default: UTC)
  - CheckInterval: How often to check the clock (default: 1 minute)
  - Enabled: Whether the scheduler is active

USAGE:
  scheduler, err := billing.NewScheduler(sweeper, billing.SchedulerConfig{DailyAt: "23:50", Enabled: true}, logger)
  scheduler.Start(ctx)
  // ... later
  scheduler.Stop()

SEE ALSO:
  - sweep.go: The run itself
*/
package billing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultDailyAt is the local time the scheduled sweep runs at.
const DefaultDailyAt = "23:50"

// SweepRunner runs a sweep. Implemented by *Sweeper.
type SweepRunner interface {
	RunNow(ctx context.Context, trigger Trigger) (SweepResult, error)
}

// SchedulerConfig holds the tunables of a Scheduler.
type SchedulerConfig struct {
	DailyAt       string
	Location      *time.Location
	CheckInterval time.Duration
	Enabled       bool
}

// Scheduler triggers the sweep at startup and daily.
type Scheduler struct {
	Runner        SweepRunner
	DailyAt       string
	Location      *time.Location
	CheckInterval time.Duration
	Enabled       bool
	Logger        *slog.Logger

	// Clock returns the current instant. Defaults to time.Now.
	Clock func() time.Time

	hour, minute int
	lastRun      time.Time // local calendar date of the last scheduled run

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewScheduler creates a scheduler. DailyAt must be HH:MM; an empty value
// means DefaultDailyAt.
func NewScheduler(runner SweepRunner, cfg SchedulerConfig, logger *slog.Logger) (*Scheduler, error) {
	if cfg.DailyAt == "" {
		cfg.DailyAt = DefaultDailyAt
	}
	hour, minute, err := ParseDailyAt(cfg.DailyAt)
	if err != nil {
		return nil, err
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		Runner:        runner,
		DailyAt:       cfg.DailyAt,
		Location:      cfg.Location,
		CheckInterval: cfg.CheckInterval,
		Enabled:       cfg.Enabled,
		Logger:        logger.With("component", "billing.scheduler"),
		Clock:         time.Now,
		hour:          hour,
		minute:        minute,
	}, nil
}

// Start begins the scheduler. The startup sweep runs on the scheduler
// goroutine, so Start returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("scheduler disabled, not starting")
		return
	}
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)

	s.Logger.Info("scheduler started",
		"daily_at", s.DailyAt,
		"timezone", s.Location.String(),
		"check_interval", s.CheckInterval)
}

// Stop cancels the scheduler and waits for its goroutine. A sweep in flight
// keeps running on the sweeper until Sweeper.Stop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.cancel = nil
	s.Logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	s.runOnce(ctx, TriggerStartup)

	ticker := time.NewTicker(s.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.due(s.Clock()) {
				s.runOnce(ctx, TriggerSchedule)
			}
		}
	}
}

// due reports whether the daily run should fire at now, and marks the local
// day as run when it does.
func (s *Scheduler) due(now time.Time) bool {
	local := now.In(s.Location)
	if local.Hour()*60+local.Minute() < s.hour*60+s.minute {
		return false
	}
	day := DateOf(local)
	if day.Equal(s.lastRun) {
		return false
	}
	s.lastRun = day
	return true
}

func (s *Scheduler) runOnce(ctx context.Context, trigger Trigger) {
	if _, err := s.Runner.RunNow(ctx, trigger); err != nil {
		// Already logged in detail by the sweeper.
		s.Logger.Warn("scheduled sweep did not complete", "trigger", string(trigger), "error", err)
	}
}

// ParseDailyAt parses an HH:MM time of day.
func ParseDailyAt(value string) (int, int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, fmt.Errorf("daily time %q must be HH:MM: %w", value, err)
	}
	return t.Hour(), t.Minute(), nil
}
