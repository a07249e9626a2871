package collector

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/guregu/null/v6"

	"PortfolioFeed/internal/model"
)

// MockFetcher returns deterministic generated data for development and testing.
// The first ThrottleFirst calls are answered with a *RateLimitedError.
type MockFetcher struct {
	Price         float64
	ThrottleFirst int
	Now           func() time.Time

	mu    sync.Mutex
	calls int
}

func (m *MockFetcher) Name() string { return "mock" }

// Calls returns how many fetch calls the mock has served, throttled ones included.
func (m *MockFetcher) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockFetcher) admit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls <= m.ThrottleFirst {
		return &RateLimitedError{Provider: m.Name(), Status: 429}
	}
	return nil
}

func (m *MockFetcher) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *MockFetcher) basePrice() float64 {
	if m.Price <= 0 {
		return 100
	}
	return m.Price
}

func (m *MockFetcher) FetchQuote(ctx context.Context, symbol string) (*model.Quote, error) {
	if err := m.admit(); err != nil {
		return nil, err
	}
	bars := generateMockBars(m.basePrice(), 252, m.now())
	last := bars[len(bars)-1]
	low, high := math.Inf(1), math.Inf(-1)
	for _, b := range bars {
		low = math.Min(low, b.Low)
		high = math.Max(high, b.High)
	}
	return &model.Quote{
		CurrentPrice:     null.FloatFrom(last.Close),
		DayLow:           null.FloatFrom(last.Low),
		DayHigh:          null.FloatFrom(last.High),
		FiftyTwoWeekLow:  null.FloatFrom(low),
		FiftyTwoWeekHigh: null.FloatFrom(high),
		Volume:           null.IntFrom(int64(last.Volume)),
		AvgVolume:        null.IntFrom(1_000_000),
		MarketCap:        null.FloatFrom(last.Close * 1e9),
		PERatio:          null.FloatFrom(24.5),
		ForwardPE:        null.FloatFrom(21.3),
		EPS:              null.FloatFrom(last.Close / 24.5),
		ProfitMargin:     null.FloatFrom(0.21),
		DividendYield:    null.FloatFrom(0.006),
		NextEarnings:     null.TimeFrom(m.now().AddDate(0, 0, 30).UTC().Truncate(24 * time.Hour)),
	}, nil
}

func (m *MockFetcher) FetchHistory(ctx context.Context, symbol, period string) (model.PriceSeries, error) {
	if err := m.admit(); err != nil {
		return nil, err
	}
	n, err := tradingDays(period)
	if err != nil {
		return nil, err
	}
	return generateMockBars(m.basePrice(), n, m.now()), nil
}

func (m *MockFetcher) FetchFinancials(ctx context.Context, symbol string) (*model.QuarterlyFinancials, error) {
	if err := m.admit(); err != nil {
		return nil, err
	}
	fin := &model.QuarterlyFinancials{}
	end := quarterEnd(m.now())
	for i := 0; i < 4; i++ {
		label := end.Format("2006-01-02")
		revenue := 1e9 * (1 + 0.02*float64(4-i))
		fin.Revenue = append(fin.Revenue, model.PeriodValue{Period: label, Value: revenue})
		fin.NetIncome = append(fin.NetIncome, model.PeriodValue{Period: label, Value: revenue * 0.2})
		end = quarterEnd(end)
	}
	return fin, nil
}

// quarterEnd returns the last day of the calendar quarter before the one containing t.
func quarterEnd(t time.Time) time.Time {
	firstMonth := time.Month((int(t.Month())-1)/3*3 + 1)
	return time.Date(t.Year(), firstMonth, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
}

// tradingDays approximates the number of daily bars in period.
func tradingDays(period string) (int, error) {
	switch period {
	case "ytd":
		return 180, nil
	case "max":
		return 2520, nil
	}
	n, unit, err := splitPeriod(period)
	if err != nil {
		return 0, fmt.Errorf("mock: %w", err)
	}
	switch unit {
	case "d":
		return n, nil
	case "mo":
		return n * 21, nil
	default:
		return n * 252, nil
	}
}

// generateMockBars returns count weekday bars ending on the weekday at or before end.
// The same end date always produces the same prices for a given date.
func generateMockBars(basePrice float64, count int, end time.Time) model.PriceSeries {
	day := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	dates := make([]time.Time, 0, count)
	for len(dates) < count {
		if wd := day.Weekday(); wd != time.Saturday && wd != time.Sunday {
			dates = append(dates, day)
		}
		day = day.AddDate(0, 0, -1)
	}

	bars := make(model.PriceSeries, count)
	for i := range dates {
		d := dates[len(dates)-1-i]
		x := float64(d.Unix()/86400) / 10
		p := basePrice * (1 + 0.05*math.Sin(x) + 0.02*math.Sin(x/7))
		bars[i] = model.PricePoint{
			Date:   d,
			Open:   p * 0.999,
			High:   p * 1.005,
			Low:    p * 0.995,
			Close:  p,
			Volume: 1000000,
		}
	}
	return bars
}
