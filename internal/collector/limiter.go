package collector

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"PortfolioFeed/internal/metrics"
)

// RateLimiter spaces requests for the same key at least MinInterval apart.
// When a caller has to wait, a uniform random jitter in [0, MaxJitter) is added
// so concurrent callers do not wake up in lockstep. Keys are independent.
type RateLimiter struct {
	interval  time.Duration
	maxJitter time.Duration

	mu    sync.Mutex
	slots map[string]*keySlot

	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	jitter  func(max time.Duration) time.Duration
	metrics *metrics.Recorder
}

type keySlot struct {
	sem  chan struct{}
	last time.Time
}

// NewRateLimiter creates a limiter with the given per-key spacing and jitter bound.
func NewRateLimiter(interval, maxJitter time.Duration, rec *metrics.Recorder) *RateLimiter {
	return &RateLimiter{
		interval:  interval,
		maxJitter: maxJitter,
		slots:     make(map[string]*keySlot),
		now:       time.Now,
		sleep:     SleepContext,
		jitter:    uniformJitter,
		metrics:   rec,
	}
}

func (l *RateLimiter) slot(key string) *keySlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &keySlot{sem: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	return s
}

// Acquire blocks until key may issue its next request and records the
// acquisition time. Callers on the same key are served one at a time.
// The only error is the context's.
func (l *RateLimiter) Acquire(ctx context.Context, key string) error {
	s := l.slot(key)
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.sem }()

	start := l.now()
	if !s.last.IsZero() {
		if wait := s.last.Add(l.interval).Sub(start); wait > 0 {
			wait += l.jitter(l.maxJitter)
			if err := l.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	s.last = l.now()
	l.metrics.LimiterWait(s.last.Sub(start))
	return nil
}

func uniformJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}

// SleepContext waits for d or until ctx is done, whichever comes first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
