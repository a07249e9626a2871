package calculator

import (
	"math"

	"github.com/guregu/null/v6"

	"PortfolioFeed/internal/model"
)

// Indicator windows and RSI thresholds.
const (
	RSIPeriod     = 14
	SMAShort      = 50
	SMALong       = 200
	RSIOverbought = 70.0
	RSIOversold   = 30.0
)

// Compute derives all indicators from the last bar of series. Values that need
// more history than the series holds are null, as are the flags built on them.
func Compute(series model.PriceSeries) model.IndicatorResult {
	res := model.IndicatorResult{Bars: len(series)}
	last, ok := series.Last()
	if !ok {
		return res
	}
	res.AsOf = last.Date

	closes := series.Closes()
	n := len(closes)

	rsi := RSISeries(closes, RSIPeriod)[n-1]
	macd, sig := MACDSeries(closes, MACDFast, MACDSlow, MACDSignal)
	sma50 := LastSMA(closes, SMAShort)
	sma200 := LastSMA(closes, SMALong)

	res.RSI = toNull(rsi)
	res.MACD = toNull(macd[n-1])
	res.MACDSignal = toNull(sig[n-1])
	res.SMA50 = toNull(sma50)
	res.SMA200 = toNull(sma200)

	res.RSIOverbought = compare(rsi, func(v float64) bool { return v > RSIOverbought })
	res.RSIOversold = compare(rsi, func(v float64) bool { return v < RSIOversold })
	res.AboveSMA50 = compare(sma50, func(v float64) bool { return last.Close > v })
	res.AboveSMA200 = compare(sma200, func(v float64) bool { return last.Close > v })
	if n >= 2 {
		res.MACDBullishCrossover = null.BoolFrom(BullishCrossover(macd, sig))
	}

	if high, low, err := Calculate52WeekRange(series); err == nil {
		res.High52w = null.FloatFrom(high)
		res.Low52w = null.FloatFrom(low)
		res.Position52w = toNull(RangePosition(last.Close, high, low))
	}
	return res
}

func toNull(v float64) null.Float {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return null.Float{}
	}
	return null.FloatFrom(v)
}

func compare(v float64, pred func(float64) bool) null.Bool {
	if math.IsNaN(v) {
		return null.Bool{}
	}
	return null.BoolFrom(pred(v))
}
