package ingest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCleaner struct {
	calls     atomic.Int32
	retention atomic.Int32
	err       error
}

func (f *fakeCleaner) CleanupOldRawPayloads(retentionDays int, now time.Time) (int64, error) {
	f.calls.Add(1)
	f.retention.Store(int32(retentionDays))
	return 2, f.err
}

type fakePruner struct {
	calls atomic.Int32
	err   error
}

func (f *fakePruner) Prune() (int, error) {
	f.calls.Add(1)
	return 3, f.err
}

func newTestScheduler(t *testing.T, start time.Time) (*Scheduler, *fakeIngester, *fakeCleaner, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(start)
	ing := &fakeIngester{results: []*Result{{StationID: "A", RowsInserted: 1}}}
	cleaner := &fakeCleaner{}
	refresh := NewRefreshManager(ing, &fakeComputer{}, clock, quietLogger())
	return NewScheduler(refresh, cleaner, 6, clock, quietLogger()), ing, cleaner, clock
}

func TestScheduler_RunsOncePerDayAfterRefreshHour(t *testing.T) {
	s, ing, cleaner, clock := newTestScheduler(t, time.Date(2024, 1, 10, 5, 30, 0, 0, time.UTC))
	ctx := context.Background()

	s.runDailyIfNeeded(ctx)
	assert.Equal(t, int32(0), ing.calls.Load(), "before refresh hour")

	clock.Advance(45 * time.Minute)
	s.runDailyIfNeeded(ctx)
	assert.Equal(t, int32(1), ing.calls.Load())
	assert.Equal(t, int32(1), cleaner.calls.Load())
	assert.Equal(t, int32(defaultPayloadRetention), cleaner.retention.Load())

	clock.Advance(3 * time.Hour)
	s.runDailyIfNeeded(ctx)
	assert.Equal(t, int32(1), ing.calls.Load(), "same day")

	clock.Advance(21 * time.Hour)
	s.runDailyIfNeeded(ctx)
	assert.Equal(t, int32(2), ing.calls.Load(), "next day")
	assert.Equal(t, int32(2), cleaner.calls.Load())
}

func TestScheduler_SkipsWhenRefreshRunning(t *testing.T) {
	s, ing, cleaner, _ := newTestScheduler(t, time.Date(2024, 1, 10, 7, 0, 0, 0, time.UTC))
	ing.release = make(chan struct{})
	_, err := s.refresh.Start(context.Background())
	require.NoError(t, err)

	s.runDailyIfNeeded(context.Background())
	assert.Equal(t, int32(1), cleaner.calls.Load(), "cleanup still runs")

	close(ing.release)
	require.NoError(t, s.refresh.Wait(context.Background()))
	assert.Equal(t, int32(1), ing.calls.Load(), "only the manual job ran")
}

func TestScheduler_CleanupErrorIsLogged(t *testing.T) {
	s, ing, cleaner, _ := newTestScheduler(t, time.Date(2024, 1, 10, 7, 0, 0, 0, time.UTC))
	cleaner.err = errors.New("locked")
	s.runDailyIfNeeded(context.Background())
	assert.Equal(t, int32(1), ing.calls.Load())
	assert.Equal(t, int32(1), cleaner.calls.Load())
}

func TestScheduler_PrunesCards(t *testing.T) {
	s, _, _, clock := newTestScheduler(t, time.Date(2024, 1, 10, 7, 0, 0, 0, time.UTC))
	pruner := &fakePruner{}
	s.SetCardPruner(pruner)

	s.runDailyIfNeeded(context.Background())
	assert.Equal(t, int32(1), pruner.calls.Load())

	pruner.err = errors.New("permission denied")
	clock.Advance(24 * time.Hour)
	s.runDailyIfNeeded(context.Background())
	assert.Equal(t, int32(2), pruner.calls.Load())
}

func TestScheduler_RunTicksUntilCancelled(t *testing.T) {
	s, ing, _, clock := newTestScheduler(t, time.Date(2024, 1, 10, 5, 50, 0, 0, time.UTC))
	s.SetInterval(10 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
	assert.Equal(t, int32(0), ing.calls.Load())

	clock.Advance(10 * time.Minute)
	require.Eventually(t, func() bool { return ing.calls.Load() == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
