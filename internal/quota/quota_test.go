package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fiverlaine/tracktelegram/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterAt(used, limit int64, start time.Time, period time.Duration) model.UsageCounter {
	return model.UsageCounter{
		AccountID:   1,
		WindowStart: start,
		WindowEnd:   start.Add(period),
		Used:        used,
		Limit:       limit,
	}
}

func TestApply_BoundaryAtLimit(t *testing.T) {
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(time.Hour)

	// used=limit-1: the last allowed click
	c, out := Apply(counterAt(9, 10, start, 30*24*time.Hour), now)
	assert.True(t, out.Allowed)
	assert.Equal(t, int64(10), out.Used)
	assert.Equal(t, int64(0), out.Remaining)
	assert.Equal(t, int64(10), c.Used)

	// used=limit: denied, counter untouched
	c, out = Apply(c, now)
	assert.False(t, out.Allowed)
	assert.Equal(t, int64(10), out.Used)
	assert.Equal(t, int64(0), out.Remaining)
	assert.Equal(t, int64(10), c.Used)
}

func TestApply_ZeroLimitDeniesEverything(t *testing.T) {
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	_, out := Apply(counterAt(0, 0, start, 30*24*time.Hour), start.Add(time.Minute))
	assert.False(t, out.Allowed)
	assert.Equal(t, int64(0), out.Used)
}

func TestApply_RolloverResetsOnce(t *testing.T) {
	period := 30 * 24 * time.Hour
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	c := counterAt(10, 10, start, period)

	// first click after the window closed: reset then debit
	now := start.Add(period).Add(time.Minute)
	c, out := Apply(c, now)
	assert.True(t, out.Allowed)
	assert.Equal(t, int64(1), out.Used)
	assert.Equal(t, start.Add(period), c.WindowStart)
	assert.Equal(t, start.Add(2*period), c.WindowEnd)

	// second click in the same window must not reset again
	c, out = Apply(c, now.Add(time.Second))
	assert.True(t, out.Allowed)
	assert.Equal(t, int64(2), out.Used)
}

func TestApply_RolloverSkipsWholeIdlePeriods(t *testing.T) {
	period := 30 * 24 * time.Hour
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := counterAt(7, 10, start, period)

	// three full periods idle; the window lands on the one covering now
	now := start.Add(3*period + time.Hour)
	c, out := Apply(c, now)
	assert.True(t, out.Allowed)
	assert.Equal(t, start.Add(3*period), c.WindowStart)
	assert.Equal(t, start.Add(4*period), c.WindowEnd)
	assert.Equal(t, int64(1), c.Used)
}

func TestApply_ExactWindowEndRollsOver(t *testing.T) {
	period := time.Hour
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	c := counterAt(5, 5, start, period)

	// now == WindowEnd belongs to the next window
	c, out := Apply(c, start.Add(period))
	assert.True(t, out.Allowed)
	assert.Equal(t, int64(1), c.Used)
	assert.Equal(t, start.Add(period), c.WindowStart)
}

func TestMemoryGate_ConcurrentDebitsNeverExceedLimit(t *testing.T) {
	g := NewMemoryGate(10, 30*24*time.Hour)

	const clicks = 100
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < clicks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := g.TryDebit(context.Background(), 42, nil)
			require.NoError(t, err)
			if out.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, allowed)

	c, err := g.CurrentUsage(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(10), c.Used)
}

func TestMemoryGate_SetLimitNeverRewindsUsed(t *testing.T) {
	g := NewMemoryGate(5, 30*24*time.Hour)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		out, err := g.TryDebit(ctx, 7, nil)
		require.NoError(t, err)
		require.True(t, out.Allowed)
	}

	// downgrade below current usage: everything denied until rollover
	require.NoError(t, g.SetLimit(ctx, 7, 3))
	out, err := g.TryDebit(ctx, 7, nil)
	require.NoError(t, err)
	assert.False(t, out.Allowed)
	assert.Equal(t, int64(5), out.Used)

	// upgrade opens headroom immediately
	require.NoError(t, g.SetLimit(ctx, 7, 100))
	out, err = g.TryDebit(ctx, 7, nil)
	require.NoError(t, err)
	assert.True(t, out.Allowed)
	assert.Equal(t, int64(6), out.Used)
}
