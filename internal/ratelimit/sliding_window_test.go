package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsImpossibleLimit(t *testing.T) {
	_, err := New(0, time.Second, 0)
	assert.ErrorIs(t, err, ErrInvalidLimit)

	l, err := New(0, 0, 0)
	require.NoError(t, err)
	assert.True(t, l.Disabled())
}

func TestDisabledLimiterNeverWaits(t *testing.T) {
	l, err := New(1, 0, 0)
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Acquire(context.Background()))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 0, l.InWindow())
}

func TestFourthCallWaitsForFirstToLeaveWindow(t *testing.T) {
	const period = 300 * time.Millisecond
	l, err := New(3, period, 5*time.Millisecond)
	require.NoError(t, err)

	ctx := context.Background()
	var before, after [5]time.Time
	for i := 0; i < 5; i++ {
		before[i] = time.Now()
		require.NoError(t, l.Acquire(ctx))
		after[i] = time.Now()
	}

	assert.GreaterOrEqual(t, after[3].Sub(before[0]), period, "call 4 returned inside call 1's window")
	assert.GreaterOrEqual(t, after[4].Sub(before[1]), period, "call 5 returned inside call 2's window")
	// the first three are free
	assert.Less(t, after[2].Sub(before[0]), period/2)

	stats := l.Stats()
	assert.Equal(t, 3, stats.MaxCalls)
	assert.GreaterOrEqual(t, stats.Waits, int64(1))
}

func TestConcurrentCallersShareOneWindow(t *testing.T) {
	const (
		maxCalls = 4
		period   = 200 * time.Millisecond
	)
	l, err := New(maxCalls, period, 2*time.Millisecond)
	require.NoError(t, err)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 3*maxCalls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Acquire(context.Background()))
		}()
	}
	wg.Wait()

	// permit 2N+1 cannot be issued before two full periods have passed
	assert.GreaterOrEqual(t, time.Since(start), 2*period)
	assert.LessOrEqual(t, l.InWindow(), maxCalls)
}

func TestAcquireHonoursContext(t *testing.T) {
	l, err := New(1, time.Hour, 0)
	require.NoError(t, err)
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = l.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, l.InWindow(), "a cancelled wait must not record a permit")
}

func TestPruneUsesInjectedClock(t *testing.T) {
	now := time.Date(2024, 3, 13, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	l, err := New(2, time.Minute, 0, WithClock(clock))
	require.NoError(t, err)
	require.NoError(t, l.Acquire(context.Background()))
	require.NoError(t, l.Acquire(context.Background()))
	assert.Equal(t, 2, l.InWindow())

	now = now.Add(59 * time.Second)
	assert.Equal(t, 2, l.InWindow())

	now = now.Add(time.Second)
	assert.Equal(t, 0, l.InWindow(), "timestamps exactly one period old have left the window")
}

func TestAcquireN(t *testing.T) {
	l, err := New(5, time.Minute, 0)
	require.NoError(t, err)
	require.NoError(t, l.AcquireN(context.Background(), 3))
	assert.Equal(t, 3, l.InWindow())
}
