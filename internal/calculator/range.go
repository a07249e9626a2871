package calculator

import (
	"errors"
	"math"

	"PortfolioFeed/internal/model"
)

// TradingDaysPerYear is the window used for the 52-week range.
const TradingDaysPerYear = 252

// Calculate52WeekRange scans the most recent 252 trading days and returns the high and low.
func Calculate52WeekRange(dailyBars model.PriceSeries) (high, low float64, err error) {
	if len(dailyBars) == 0 {
		return 0, 0, errors.New("no daily bars provided")
	}
	n := len(dailyBars)
	start := n - TradingDaysPerYear
	if start < 0 {
		start = 0
	}
	high = math.Inf(-1)
	low = math.Inf(1)
	for i := start; i < n; i++ {
		if dailyBars[i].High > high {
			high = dailyBars[i].High
		}
		if dailyBars[i].Low < low {
			low = dailyBars[i].Low
		}
	}
	return high, low, nil
}

// RangePosition places price within [low, high] as a value from 0 to 1,
// clamped at both ends. A flat range is 0.5; an inverted one is NaN.
func RangePosition(price, high, low float64) float64 {
	switch {
	case high < low:
		return math.NaN()
	case high == low:
		return 0.5
	}
	return math.Max(0, math.Min(1, (price-low)/(high-low)))
}
