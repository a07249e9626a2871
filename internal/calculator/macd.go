package calculator

// MACD periods.
const (
	MACDFast   = 12
	MACDSlow   = 26
	MACDSignal = 9
)

// MACDSeries returns the MACD line (fast EMA minus slow EMA) and its signal line.
func MACDSeries(closes []float64, fast, slow, signal int) (macd, sig []float64) {
	emaFast := EMASeries(closes, fast)
	emaSlow := EMASeries(closes, slow)
	macd = make([]float64, len(closes))
	for i := range closes {
		macd[i] = emaFast[i] - emaSlow[i]
	}
	return macd, EMASeries(macd, signal)
}

// BullishCrossover reports whether the MACD line crossed above the signal line
// on the last bar: above now, at or below on the bar before.
func BullishCrossover(macd, sig []float64) bool {
	n := len(macd)
	if n < 2 || len(sig) != n {
		return false
	}
	return macd[n-1] > sig[n-1] && macd[n-2] <= sig[n-2]
}
