package collector

import (
	"errors"
	"fmt"
)

// RateLimitedError is returned by a Fetcher when the provider answered with a
// throttling response. It is the only error the retry loop backs off on.
type RateLimitedError struct {
	Provider   string
	Status     int
	RetryAfter string // raw Retry-After header, if the provider sent one
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter == "" {
		return fmt.Sprintf("%s: rate limited (status %d)", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s: rate limited (status %d, retry after %s)", e.Provider, e.Status, e.RetryAfter)
}

// IsRateLimited reports whether err is, or wraps, a *RateLimitedError.
func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}

// ErrNoData is returned when a provider answered successfully but had nothing for the symbol.
var ErrNoData = errors.New("no data returned")
