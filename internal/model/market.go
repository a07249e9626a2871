package model

import (
	"time"

	"github.com/guregu/null/v6"
)

// PricePoint represents a single daily OHLCV observation.
type PricePoint struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// DateKey returns the calendar day of the point, used for de-duplication.
func (p PricePoint) DateKey() string {
	return p.Date.Format("2006-01-02")
}

// PriceSeries holds price points ordered by strictly increasing date.
type PriceSeries []PricePoint

// Closes extracts the closing prices in series order.
func (s PriceSeries) Closes() []float64 {
	closes := make([]float64, len(s))
	for i, p := range s {
		closes[i] = p.Close
	}
	return closes
}

// Last returns the most recent point; ok is false for an empty series.
func (s PriceSeries) Last() (p PricePoint, ok bool) {
	if len(s) == 0 {
		return PricePoint{}, false
	}
	return s[len(s)-1], true
}

// IsOrdered reports whether dates are strictly increasing with no shared day.
func (s PriceSeries) IsOrdered() bool {
	for i := 1; i < len(s); i++ {
		if !s[i].Date.After(s[i-1].Date) || s[i].DateKey() == s[i-1].DateKey() {
			return false
		}
	}
	return true
}

// Quote is the current quote and fundamentals of a symbol as reported upstream.
// Any field may be null when the provider does not report it.
type Quote struct {
	CurrentPrice     null.Float `json:"current_price"`
	DayLow           null.Float `json:"day_low"`
	DayHigh          null.Float `json:"day_high"`
	FiftyTwoWeekLow  null.Float `json:"fifty_two_week_low"`
	FiftyTwoWeekHigh null.Float `json:"fifty_two_week_high"`
	Volume           null.Int   `json:"volume"`
	AvgVolume        null.Int   `json:"avg_volume"`
	MarketCap        null.Float `json:"market_cap"`

	PERatio       null.Float `json:"pe_ratio"`
	ForwardPE     null.Float `json:"forward_pe"`
	EPS           null.Float `json:"eps"`
	ProfitMargin  null.Float `json:"profit_margin"`
	DividendYield null.Float `json:"dividend_yield"`
	NextEarnings  null.Time  `json:"next_earnings_date"`
}

// PeriodValue is one reporting period of a financial statement line.
type PeriodValue struct {
	Period string  `json:"period"`
	Value  float64 `json:"value"`
}

// PeriodValues is ordered most recent period first.
type PeriodValues []PeriodValue

// QuarterlyFinancials holds the most recent quarterly statement lines.
type QuarterlyFinancials struct {
	Revenue   PeriodValues `json:"quarterly_revenue"`
	NetIncome PeriodValues `json:"quarterly_net_income"`
}
