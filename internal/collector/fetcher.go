package collector

import (
	"context"

	"PortfolioFeed/internal/model"
)

//go:generate mockgen -package=mocks -destination=../mocks/mock_fetcher.go -source=fetcher.go Fetcher

// Fetcher defines the interface for fetching market data from an upstream provider.
// Implementations return a *RateLimitedError when the provider throttles a request.
type Fetcher interface {
	FetchQuote(ctx context.Context, symbol string) (*model.Quote, error)
	FetchHistory(ctx context.Context, symbol, period string) (model.PriceSeries, error)
	FetchFinancials(ctx context.Context, symbol string) (*model.QuarterlyFinancials, error)
	Name() string
}

// ValidPeriods lists the history periods accepted by FetchHistory.
var ValidPeriods = []string{"1d", "5d", "1mo", "3mo", "6mo", "1y", "2y", "5y", "10y", "ytd", "max"}

// IsValidPeriod reports whether period is one of ValidPeriods.
func IsValidPeriod(period string) bool {
	for _, p := range ValidPeriods {
		if p == period {
			return true
		}
	}
	return false
}
