package collector

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"PortfolioFeed/internal/metrics"
)

// RetryConfig controls the backoff of a RetryingFetcher.
type RetryConfig struct {
	MaxRetries int           // total attempts, including the first
	BaseDelay  time.Duration // backoff after attempt n is BaseDelay^n seconds plus jitter
	MaxJitter  time.Duration
}

// DefaultRetryConfig is three attempts with a 2s exponential base and up to 1s jitter.
var DefaultRetryConfig = RetryConfig{MaxRetries: 3, BaseDelay: 2 * time.Second, MaxJitter: time.Second}

// RetryingFetcher runs upstream calls through the rate limiter and retries
// throttled attempts with exponential backoff. Every other failure is terminal.
type RetryingFetcher struct {
	limiter  *RateLimiter
	cfg      RetryConfig
	provider string
	log      logrus.FieldLogger
	metrics  *metrics.Recorder

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
}

// RetryOption customizes a RetryingFetcher.
type RetryOption func(*RetryingFetcher)

// WithBackoffSleep replaces the function used to wait between throttled attempts.
func WithBackoffSleep(sleep func(ctx context.Context, d time.Duration) error) RetryOption {
	return func(r *RetryingFetcher) { r.sleep = sleep }
}

// NewRetryingFetcher creates a RetryingFetcher for the named provider.
func NewRetryingFetcher(limiter *RateLimiter, cfg RetryConfig, provider string, log logrus.FieldLogger, rec *metrics.Recorder, opts ...RetryOption) *RetryingFetcher {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultRetryConfig.MaxRetries
	}
	r := &RetryingFetcher{
		limiter:  limiter,
		cfg:      cfg,
		provider: provider,
		log:      log.WithField("component", "retry"),
		metrics:  rec,
		sleep:    SleepContext,
		jitter:   uniformJitter,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// backoff returns the wait after the zero-based throttled attempt: 1s, 2s, 4s for a 2s base.
func (r *RetryingFetcher) backoff(attempt int) time.Duration {
	secs := math.Pow(r.cfg.BaseDelay.Seconds(), float64(attempt))
	return time.Duration(secs * float64(time.Second))
}

// FetchWithRetry executes fn at most MaxRetries times, acquiring the limiter slot
// for key before each attempt. It never returns an error: ok is false when the
// call failed terminally, stayed throttled for every attempt, or ctx ended.
// A throttled final attempt does not sleep before giving up.
func FetchWithRetry[T any](ctx context.Context, r *RetryingFetcher, key, op string, fn func(context.Context) (T, error)) (result T, ok bool) {
	log := r.log.WithFields(logrus.Fields{"symbol": key, "op": op})

	for attempt := 0; attempt < r.cfg.MaxRetries; attempt++ {
		if err := r.limiter.Acquire(ctx, key); err != nil {
			log.WithError(err).Warn("gave up waiting for rate limiter")
			return result, false
		}

		start := time.Now()
		v, err := fn(ctx)
		elapsed := time.Since(start)
		if err == nil {
			r.metrics.FetchAttempt(r.provider, op, "ok", elapsed)
			return v, true
		}

		if !IsRateLimited(err) {
			r.metrics.FetchAttempt(r.provider, op, "error", elapsed)
			log.WithError(err).Error("error fetching data")
			return result, false
		}

		r.metrics.FetchAttempt(r.provider, op, "throttled", elapsed)
		if attempt == r.cfg.MaxRetries-1 {
			break
		}
		delay := r.backoff(attempt) + r.jitter(r.cfg.MaxJitter)
		log.WithField("attempt", attempt+1).Warnf("rate limit hit, waiting %.2f seconds", delay.Seconds())
		if err := r.sleep(ctx, delay); err != nil {
			log.WithError(err).Warn("backoff interrupted")
			return result, false
		}
	}

	r.metrics.RetriesExhausted(r.provider, op)
	log.WithField("attempts", r.cfg.MaxRetries).Error("max retries exceeded")
	return result, false
}
