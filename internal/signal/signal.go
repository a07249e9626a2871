package signal

import (
	"fmt"

	"PortfolioFeed/internal/model"
)

// NearHighRatio is how close to the 52-week high the price must be to count as "at" it.
const NearHighRatio = 0.95

// AlertType classifies an alert for display.
type AlertType string

const (
	AlertWarning     AlertType = "warning"
	AlertOpportunity AlertType = "opportunity"
)

// Flags are the boolean technical markers exported per position.
type Flags struct {
	RSIOverbought    bool `json:"rsi_overbought" yaml:"rsi_overbought"`
	RSIOversold      bool `json:"rsi_oversold" yaml:"rsi_oversold"`
	BullishMACDCross bool `json:"bullish_macd_cross" yaml:"bullish_macd_cross"`
	AboveSMA200      bool `json:"above_200_sma" yaml:"above_200_sma"`
	At52WeekHigh     bool `json:"at_52_week_high" yaml:"at_52_week_high"`
}

// Alert is one raised technical signal.
type Alert struct {
	Type   AlertType `json:"type"`
	Symbol string    `json:"symbol"`
	Signal string    `json:"signal"`
	Value  string    `json:"value"`
}

func (a Alert) String() string {
	return fmt.Sprintf("%s: %s (%s)", a.Symbol, a.Signal, a.Value)
}

// Result holds the flags and alerts evaluated for one snapshot.
type Result struct {
	Key    model.CacheKey `json:"key"`
	Flags  Flags          `json:"flags"`
	Alerts []Alert        `json:"alerts"`
}

// Evaluate derives flags and alerts from snap. Null values never raise anything.
func Evaluate(snap *model.MarketSnapshot) Result {
	if snap == nil {
		return Result{}
	}
	t := snap.Technicals
	res := Result{
		Key: snap.Key,
		Flags: Flags{
			RSIOverbought:    t.RSIOverbought.Valid && t.RSIOverbought.Bool,
			RSIOversold:      t.RSIOversold.Valid && t.RSIOversold.Bool,
			BullishMACDCross: t.MACDBullishCrossover.Valid && t.MACDBullishCrossover.Bool,
			AboveSMA200:      t.AboveSMA200.Valid && t.AboveSMA200.Bool,
			At52WeekHigh:     atHigh(snap.Quote),
		},
	}
	res.Alerts = alerts(snap.Key.Symbol, t, res.Flags)
	return res
}

func atHigh(q model.Quote) bool {
	if !q.CurrentPrice.Valid || !q.FiftyTwoWeekHigh.Valid {
		return false
	}
	if q.CurrentPrice.Float64 <= 0 || q.FiftyTwoWeekHigh.Float64 <= 0 {
		return false
	}
	return q.CurrentPrice.Float64 >= q.FiftyTwoWeekHigh.Float64*NearHighRatio
}

func alerts(symbol string, t model.Technicals, f Flags) []Alert {
	var out []Alert

	switch {
	case f.RSIOverbought:
		out = append(out, Alert{
			Type:   AlertWarning,
			Symbol: symbol,
			Signal: "RSI Overbought",
			Value:  fmt.Sprintf("RSI: %.1f", t.RSI.Float64),
		})
	case f.RSIOversold:
		out = append(out, Alert{
			Type:   AlertOpportunity,
			Symbol: symbol,
			Signal: "RSI Oversold",
			Value:  fmt.Sprintf("RSI: %.1f", t.RSI.Float64),
		})
	}

	if f.BullishMACDCross {
		out = append(out, Alert{
			Type:   AlertOpportunity,
			Symbol: symbol,
			Signal: "Bullish MACD Crossover",
			Value:  fmt.Sprintf("MACD: %.2f", t.MACD.Float64),
		})
	}

	// Price between the two averages.
	if t.AboveSMA50.Valid && t.AboveSMA200.Valid {
		switch {
		case t.AboveSMA200.Bool && !t.AboveSMA50.Bool:
			out = append(out, Alert{
				Type:   AlertWarning,
				Symbol: symbol,
				Signal: "50 SMA Bearish Cross",
				Value:  "Price below 50 SMA",
			})
		case !t.AboveSMA200.Bool && t.AboveSMA50.Bool:
			out = append(out, Alert{
				Type:   AlertOpportunity,
				Symbol: symbol,
				Signal: "50 SMA Bullish Cross",
				Value:  "Price above 50 SMA",
			})
		}
	}
	return out
}

// Unseen returns the alerts of cur that were not already raised in prev, so a
// condition that persists across refreshes is reported once.
func Unseen(prev, cur []Alert) []Alert {
	seen := make(map[string]bool, len(prev))
	for _, a := range prev {
		seen[a.Symbol+"|"+a.Signal] = true
	}
	var out []Alert
	for _, a := range cur {
		if !seen[a.Symbol+"|"+a.Signal] {
			out = append(out, a)
		}
	}
	return out
}
