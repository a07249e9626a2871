package calculator

import "math"

// LastSMA is the mean of the final period prices, or NaN when there are
// fewer than period of them.
func LastSMA(prices []float64, period int) float64 {
	n := len(prices)
	if period <= 0 || n < period {
		return math.NaN()
	}
	var sum float64
	for _, p := range prices[n-period:] {
		sum += p
	}
	return sum / float64(period)
}

// SMASeries returns the rolling simple mean for every position of prices.
// Positions with fewer than period prior values are NaN.
func SMASeries(prices []float64, period int) []float64 {
	out := make([]float64, len(prices))
	sum := 0.0
	for i, p := range prices {
		sum += p
		if i >= period {
			sum -= prices[i-period]
		}
		if period <= 0 || i < period-1 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(period)
	}
	return out
}

// EMASeries returns the exponential moving average with alpha = 2/(span+1),
// seeded with the first value and without bias adjustment.
func EMASeries(prices []float64, span int) []float64 {
	out := make([]float64, len(prices))
	if len(prices) == 0 {
		return out
	}
	alpha := 2.0 / (float64(span) + 1.0)
	out[0] = prices[0]
	for i := 1; i < len(prices); i++ {
		out[i] = alpha*prices[i] + (1-alpha)*out[i-1]
	}
	return out
}
