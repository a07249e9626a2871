package collector

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when something sleeps on it.
type fakeClock struct {
	mu     sync.Mutex
	t      time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.t = c.t.Add(d)
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func newTestLimiter(clock *fakeClock, jitter time.Duration) *RateLimiter {
	l := NewRateLimiter(2*time.Second, time.Second, nil)
	l.now = clock.Now
	l.sleep = clock.Sleep
	l.jitter = func(time.Duration) time.Duration { return jitter }
	return l
}

func TestAcquire_FirstCallDoesNotWait(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock, 500*time.Millisecond)

	require.NoError(t, l.Acquire(context.Background(), "AAPL"))
	assert.Empty(t, clock.Sleeps())
}

func TestAcquire_SameKeyWaitsRemainderPlusJitter(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock, 300*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "AAPL"))
	clock.Advance(500 * time.Millisecond)
	require.NoError(t, l.Acquire(ctx, "AAPL"))

	assert.Equal(t, []time.Duration{1500*time.Millisecond + 300*time.Millisecond}, clock.Sleeps())
}

func TestAcquire_NoWaitAfterInterval(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock, 300*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "AAPL"))
	clock.Advance(2 * time.Second)
	require.NoError(t, l.Acquire(ctx, "AAPL"))

	assert.Empty(t, clock.Sleeps())
}

func TestAcquire_KeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock, 0)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "AAPL"))
	require.NoError(t, l.Acquire(ctx, "MSFT"))
	require.NoError(t, l.Acquire(ctx, "GOOG"))

	assert.Empty(t, clock.Sleeps())
}

func TestAcquire_WallClockSpacing(t *testing.T) {
	l := NewRateLimiter(60*time.Millisecond, 10*time.Millisecond, nil)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "AAPL"))
	first := time.Now()
	require.NoError(t, l.Acquire(ctx, "AAPL"))
	assert.GreaterOrEqual(t, time.Since(first), 55*time.Millisecond)

	start := time.Now()
	require.NoError(t, l.Acquire(ctx, "MSFT"))
	assert.Less(t, time.Since(start), 30*time.Millisecond)
}

func TestAcquire_ConcurrentSameKeySerializes(t *testing.T) {
	l := NewRateLimiter(30*time.Millisecond, 0, nil)
	ctx := context.Background()

	var mu sync.Mutex
	var stamps []time.Time
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Acquire(ctx, "AAPL"))
			mu.Lock()
			stamps = append(stamps, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, stamps, 3)
	first, last := stamps[0], stamps[0]
	for _, s := range stamps {
		if s.Before(first) {
			first = s
		}
		if s.After(last) {
			last = s
		}
	}
	assert.GreaterOrEqual(t, last.Sub(first), 55*time.Millisecond)
}

func TestAcquire_ContextCancelled(t *testing.T) {
	l := NewRateLimiter(time.Hour, 0, nil)
	require.NoError(t, l.Acquire(context.Background(), "AAPL"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx, "AAPL")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, SleepContext(context.Background(), 0))
	assert.NoError(t, SleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, SleepContext(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, SleepContext(ctx, 0), context.Canceled)
}
