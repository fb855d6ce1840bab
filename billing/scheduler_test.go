package billing

import (
	"context"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu       sync.Mutex
	triggers []Trigger
}

func (r *fakeRunner) RunNow(_ context.Context, trigger Trigger) (SweepResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggers = append(r.triggers, trigger)
	return SweepResult{Trigger: trigger}, nil
}

func (r *fakeRunner) calls() []Trigger {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Trigger(nil), r.triggers...)
}

func newTestScheduler(t *testing.T, runner SweepRunner, cfg SchedulerConfig) *Scheduler {
	t.Helper()
	s, err := NewScheduler(runner, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s
}

// =============================================================================
// STARTUP AND SHUTDOWN TESTS
// =============================================================================

func TestScheduler_RunsAtStartup(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestScheduler(t, runner, SchedulerConfig{DailyAt: "03:00", Enabled: true, CheckInterval: time.Hour})

	s.Start(context.Background())

	assert.Eventually(t, func() bool {
		return len(runner.calls()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []Trigger{TriggerStartup}, runner.calls())

	s.Stop()
	s.Stop() // idempotent
}

func TestScheduler_DisabledNeverRuns(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestScheduler(t, runner, SchedulerConfig{Enabled: false, CheckInterval: 5 * time.Millisecond})

	s.Start(context.Background())
	time.Sleep(30 * time.Millisecond)

	assert.Empty(t, runner.calls())
}

func TestScheduler_DailyRunFiresOncePerDay(t *testing.T) {
	// GIVEN: A clock frozen at the daily time and a fast ticker
	// WHEN: The scheduler ticks many times
	// THEN: One startup run and exactly one scheduled run

	runner := &fakeRunner{}
	s := newTestScheduler(t, runner, SchedulerConfig{DailyAt: "23:50", Enabled: true, CheckInterval: 2 * time.Millisecond})
	s.Clock = func() time.Time { return time.Date(2024, time.March, 20, 23, 50, 30, 0, time.UTC) }

	s.Start(context.Background())

	assert.Eventually(t, func() bool {
		return len(runner.calls()) == 2
	}, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	assert.Equal(t, []Trigger{TriggerStartup, TriggerSchedule}, runner.calls())
}

// =============================================================================
// DAILY TIME TESTS
// =============================================================================

func TestScheduler_Due(t *testing.T) {
	rome := time.FixedZone("CET", 60*60)
	s, err := NewScheduler(&fakeRunner{}, SchedulerConfig{DailyAt: "23:50", Location: rome}, nil)
	require.NoError(t, err)

	// 22:50 UTC is 23:50 in UTC+1
	assert.True(t, s.due(time.Date(2024, time.March, 20, 22, 50, 0, 0, time.UTC)))
	assert.False(t, s.due(time.Date(2024, time.March, 20, 22, 50, 40, 0, time.UTC)), "already ran today")
	assert.False(t, s.due(time.Date(2024, time.March, 20, 23, 50, 0, 0, time.UTC)), "00:50 local is before the daily time")
	assert.False(t, s.due(time.Date(2024, time.March, 21, 22, 49, 0, 0, time.UTC)))
	assert.True(t, s.due(time.Date(2024, time.March, 21, 22, 50, 0, 0, time.UTC)), "next day fires again")
}

func TestScheduler_Due_LateTicks(t *testing.T) {
	// GIVEN: One-minute ticks delivered a few milliseconds off the minute
	// WHEN: No tick lands inside 23:50
	// THEN: The first tick after 23:50 still fires, once

	s, err := NewScheduler(&fakeRunner{}, SchedulerConfig{DailyAt: "23:50"}, nil)
	require.NoError(t, err)

	assert.False(t, s.due(time.Date(2024, time.March, 20, 23, 49, 59, 999_000_000, time.UTC)))
	assert.True(t, s.due(time.Date(2024, time.March, 20, 23, 51, 0, 1_000_000, time.UTC)))
	assert.False(t, s.due(time.Date(2024, time.March, 20, 23, 52, 0, 0, time.UTC)), "already ran today")
	assert.False(t, s.due(time.Date(2024, time.March, 21, 0, 0, 0, 0, time.UTC)), "before the daily time")
	assert.True(t, s.due(time.Date(2024, time.March, 21, 23, 59, 59, 0, time.UTC)))
}

func TestScheduler_Due_DSTGap(t *testing.T) {
	// GIVEN: DailyAt 02:30 in New York, skipped on 2024-03-10 (02:00 -> 03:00)
	// WHEN: Ticking across the gap
	// THEN: The 03:00 tick fires for that day

	newYork, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	s, err := NewScheduler(&fakeRunner{}, SchedulerConfig{DailyAt: "02:30", Location: newYork}, nil)
	require.NoError(t, err)

	assert.False(t, s.due(time.Date(2024, time.March, 10, 6, 59, 0, 0, time.UTC)), "01:59 EST")
	assert.True(t, s.due(time.Date(2024, time.March, 10, 7, 0, 0, 0, time.UTC)), "03:00 EDT")
	assert.False(t, s.due(time.Date(2024, time.March, 10, 7, 30, 0, 0, time.UTC)))
}

func TestParseDailyAt(t *testing.T) {
	h, m, err := ParseDailyAt("23:50")
	require.NoError(t, err)
	assert.Equal(t, 23, h)
	assert.Equal(t, 50, m)

	for _, bad := range []string{"", "24:00", "7:5", "noon", "23:50:00"} {
		_, _, err := ParseDailyAt(bad)
		assert.Error(t, err, "%q", bad)
	}
}

func TestNewScheduler_Defaults(t *testing.T) {
	s, err := NewScheduler(&fakeRunner{}, SchedulerConfig{}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultDailyAt, s.DailyAt)
	assert.Equal(t, time.UTC, s.Location)
	assert.Equal(t, time.Minute, s.CheckInterval)

	_, err = NewScheduler(&fakeRunner{}, SchedulerConfig{DailyAt: "25:00"}, nil)
	assert.Error(t, err)
}
