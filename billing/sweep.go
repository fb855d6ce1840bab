/*
sweep.go - Batch status transitions for bills

PURPOSE:
  Advances bill statuses as calendar boundaries pass:

    OPEN   -> CLOSED   when EndDate < today
    CLOSED -> OVERDUE  when DueDate < today

  PAID bills are never selected, so they are never touched.

PAGING:
  Each transition runs in pages of PageSize bills. A page is one unit of
  work: select candidates, then update them conditionally on their current
  status. Updated bills drop out of the candidate query, so the next page
  picks up where the last one stopped without a cursor. A short or empty
  page ends the transition.

SINGLE-FLIGHT:
  Startup, the schedule and the admin endpoint may all call RunNow at once.
  Concurrent callers share the in-flight run and its result.

SHUTDOWN:
  Cancellation is checked between pages. A started page always completes.

SEE ALSO:
  - scheduler.go: Startup and daily triggers
  - events.go: Status change notifications
*/
package billing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultSweepPageSize is the page size used when none is configured.
const DefaultSweepPageSize = 100

// =============================================================================
// TRIGGERS AND TRANSITIONS
// =============================================================================

// Trigger names what started a sweep run.
type Trigger string

const (
	TriggerStartup  Trigger = "startup"
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)

// Transition is one status edge driven by a date column.
type Transition struct {
	From Status
	To   Status
}

var (
	TransitionClose   = Transition{From: StatusOpen, To: StatusClosed}
	TransitionOverdue = Transition{From: StatusClosed, To: StatusOverdue}
)

func (t Transition) String() string {
	return string(t.From) + "->" + string(t.To)
}

// SweepResult summarizes one run.
type SweepResult struct {
	Trigger  Trigger       `json:"trigger"`
	Today    time.Time     `json:"today"`
	Closed   int64         `json:"closed"`
	Overdue  int64         `json:"overdue"`
	Pages    int           `json:"pages"`
	Duration time.Duration `json:"duration"`
	// Shared is true when the run's result went to more than one caller.
	Shared bool `json:"shared"`
}

// =============================================================================
// SWEEPER
// =============================================================================

// Sweeper runs the status transitions over a TxStore.
type Sweeper struct {
	Store     TxStore
	PageSize  int
	Location  *time.Location
	Publisher EventPublisher
	Metrics   *Metrics
	Logger    *slog.Logger

	// Clock returns the current instant. Defaults to time.Now.
	Clock func() time.Time

	group singleflight.Group

	// Runs execute on a context owned by the sweeper, so a caller that goes
	// away never aborts a run other callers share. Stop cancels it.
	mu      sync.Mutex
	ctx     context.Context
	stop    context.CancelFunc
	running sync.WaitGroup
}

// SweeperConfig holds the tunables of a Sweeper.
type SweeperConfig struct {
	PageSize int
	Location *time.Location
}

// NewSweeper creates a sweeper. Zero config values fall back to defaults.
func NewSweeper(store TxStore, cfg SweeperConfig, publisher EventPublisher, metrics *Metrics, logger *slog.Logger) *Sweeper {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultSweepPageSize
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		Store:     store,
		PageSize:  cfg.PageSize,
		Location:  cfg.Location,
		Publisher: publisher,
		Metrics:   metrics,
		Logger:    logger.With("component", "billing.sweep"),
		Clock:     time.Now,
	}
}

// RunNow runs both transitions once. If a run is already in flight the
// caller waits for it and receives its result.
//
// ctx bounds only the wait: when it is done RunNow returns ctx.Err() and
// the run carries on for any other caller.
func (s *Sweeper) RunNow(ctx context.Context, trigger Trigger) (SweepResult, error) {
	if err := ctx.Err(); err != nil {
		return SweepResult{Trigger: trigger}, err
	}

	ch := s.group.DoChan("sweep", func() (any, error) {
		runCtx, done := s.begin()
		defer done()
		return s.run(runCtx, trigger)
	})

	select {
	case <-ctx.Done():
		return SweepResult{Trigger: trigger}, ctx.Err()
	case res := <-ch:
		result, _ := res.Val.(SweepResult)
		if res.Shared {
			result.Shared = true
		}
		return result, res.Err
	}
}

// Stop cancels the in-flight run at its next page boundary and waits for
// it to return. Runs requested afterwards fail with context.Canceled.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	s.lifetime()
	s.stop()
	s.mu.Unlock()

	s.running.Wait()
}

// begin registers a run and returns the context it executes on.
func (s *Sweeper) begin() (context.Context, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := s.lifetime()
	if ctx.Err() != nil {
		return ctx, func() {}
	}
	s.running.Add(1)
	return ctx, s.running.Done
}

// lifetime returns the sweeper context, creating it on first use.
// Callers hold s.mu.
func (s *Sweeper) lifetime() context.Context {
	if s.ctx == nil {
		s.ctx, s.stop = context.WithCancel(context.Background())
	}
	return s.ctx
}

func (s *Sweeper) run(ctx context.Context, trigger Trigger) (SweepResult, error) {
	started := s.Clock()
	today := TodayIn(started, s.Location)
	result := SweepResult{Trigger: trigger, Today: today}

	log := s.Logger.With("trigger", string(trigger), "today", today.Format(DateLayout))
	log.Info("billing sweep started")

	var err error
	result.Closed, err = s.transition(ctx, trigger, TransitionClose, today, &result)
	if err == nil {
		result.Overdue, err = s.transition(ctx, trigger, TransitionOverdue, today, &result)
	}

	result.Duration = s.Clock().Sub(started)
	s.Metrics.observeSweep(trigger, result.Duration, err)

	if err != nil {
		log.Error("billing sweep failed", "error", err, "closed", result.Closed, "overdue", result.Overdue)
		return result, err
	}

	log.Info("billing sweep finished",
		"closed", result.Closed,
		"overdue", result.Overdue,
		"pages", result.Pages,
		"duration", result.Duration)
	return result, nil
}

// transition pages through one status edge until no candidates remain.
func (s *Sweeper) transition(ctx context.Context, trigger Trigger, t Transition, today time.Time, result *SweepResult) (int64, error) {
	var moved int64

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return moved, &SweepError{Trigger: trigger, Transition: t, Page: page, Err: err}
		}

		// A started page finishes even if ctx is cancelled meanwhile.
		changes, affected, err := s.runPage(context.WithoutCancel(ctx), trigger, t, today)
		if err != nil {
			return moved, &SweepError{Trigger: trigger, Transition: t, Page: page, Err: err}
		}
		result.Pages++
		moved += affected
		s.Metrics.addTransitioned(t, affected)

		if len(changes) > 0 {
			if err := s.Publisher.PublishStatusChanges(context.WithoutCancel(ctx), changes); err != nil {
				s.Logger.Warn("publish status changes failed",
					"transition", t.String(), "page", page, "bills", len(changes), "error", err)
			}
		}

		if affected == 0 || len(changes) < s.PageSize {
			return moved, nil
		}
	}
}

// runPage selects one page of candidates and moves them in one unit of work.
func (s *Sweeper) runPage(ctx context.Context, trigger Trigger, t Transition, today time.Time) ([]StatusChange, int64, error) {
	var (
		changes  []StatusChange
		affected int64
	)

	err := s.Store.WithTx(ctx, func(store Store) error {
		bills, err := store.BillsForTransition(ctx, t.From, today, s.PageSize)
		if err != nil {
			return fmt.Errorf("select candidates: %w", err)
		}
		if len(bills) == 0 {
			return nil
		}

		ids := make([]BillID, len(bills))
		for i, b := range bills {
			ids[i] = b.ID
		}

		affected, err = store.UpdateBillStatuses(ctx, ids, t.From, t.To)
		if err != nil {
			return fmt.Errorf("update statuses: %w", err)
		}

		at := s.Clock().UTC()
		changes = make([]StatusChange, len(bills))
		for i, b := range bills {
			changes[i] = StatusChange{
				BillID:    b.ID,
				AccountID: b.AccountID,
				From:      t.From,
				To:        t.To,
				Trigger:   trigger,
				At:        at,
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return changes, affected, nil
}
