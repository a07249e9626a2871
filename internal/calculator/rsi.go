package calculator

import "math"

// RSISeries computes the RSI at every bar using simple rolling means of gains
// and losses over period bars (not Wilder smoothing). The first bar has no
// prior close and counts as a zero change. Positions before the window is
// full are NaN, and a window with no movement at all is NaN. A window with
// gains but no losses is 100.
func RSISeries(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	if period <= 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}

	gains := make([]float64, len(closes))
	losses := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains[i] = change
		} else {
			losses[i] = -change
		}
	}

	avgGain := SMASeries(gains, period)
	avgLoss := SMASeries(losses, period)
	for i := range closes {
		g, l := avgGain[i], avgLoss[i]
		switch {
		case math.IsNaN(g) || math.IsNaN(l):
			out[i] = math.NaN()
		case l == 0 && g == 0:
			out[i] = math.NaN()
		case l == 0:
			out[i] = 100
		default:
			rs := g / l
			out[i] = 100 - 100/(1+rs)
		}
	}
	return out
}
