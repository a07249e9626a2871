// Package availability reports which categories of market data a snapshot
// actually holds, so consumers can render partial data instead of failing.
package availability

import (
	"time"

	"PortfolioFeed/internal/model"
)

// Status is the overall availability of a snapshot.
type Status string

const (
	StatusFull    Status = "full"
	StatusPartial Status = "partial"
)

// Category names, in report order.
const (
	BasicPrice   = "basic_price"
	MarketStats  = "market_stats"
	Fundamentals = "fundamentals"
	Technicals   = "technicals"
	Financials   = "financials"
)

// Categories lists every category in report order.
var Categories = []string{BasicPrice, MarketStats, Fundamentals, Technicals, Financials}

type field struct {
	name    string
	present func(s *model.MarketSnapshot) bool
}

var categoryFields = map[string][]field{
	BasicPrice: {
		{"current_price", func(s *model.MarketSnapshot) bool { return s.CurrentPrice.Valid }},
	},
	MarketStats: {
		{"day_low", func(s *model.MarketSnapshot) bool { return s.DayLow.Valid }},
		{"day_high", func(s *model.MarketSnapshot) bool { return s.DayHigh.Valid }},
		{"volume", func(s *model.MarketSnapshot) bool { return s.Volume.Valid }},
		{"avg_volume", func(s *model.MarketSnapshot) bool { return s.AvgVolume.Valid }},
	},
	Fundamentals: {
		{"pe_ratio", func(s *model.MarketSnapshot) bool { return s.PERatio.Valid }},
		{"forward_pe", func(s *model.MarketSnapshot) bool { return s.ForwardPE.Valid }},
		{"eps", func(s *model.MarketSnapshot) bool { return s.EPS.Valid }},
		{"profit_margin", func(s *model.MarketSnapshot) bool { return s.ProfitMargin.Valid }},
	},
	Technicals: {
		{"rsi", func(s *model.MarketSnapshot) bool { return s.RSI.Valid }},
		{"macd", func(s *model.MarketSnapshot) bool { return s.MACD.Valid }},
		{"macd_signal", func(s *model.MarketSnapshot) bool { return s.MACDSignal.Valid }},
		{"sma_50", func(s *model.MarketSnapshot) bool { return s.SMA50.Valid }},
		{"sma_200", func(s *model.MarketSnapshot) bool { return s.SMA200.Valid }},
	},
	Financials: {
		{"quarterly_revenue", func(s *model.MarketSnapshot) bool { return len(s.QuarterlyRevenue) > 0 }},
		{"quarterly_net_income", func(s *model.MarketSnapshot) bool { return len(s.QuarterlyNetIncome) > 0 }},
	},
}

// Report is the classification of one snapshot.
type Report struct {
	Status        Status              `json:"status"`
	Categories    map[string]bool     `json:"categories"`
	Missing       map[string][]string `json:"missing,omitempty"`
	DataTimestamp *time.Time          `json:"data_timestamp"`
}

// Available reports whether a category is present.
func (r Report) Available(category string) bool {
	return r.Categories[category]
}

// Classify marks each category present only when all of its fields are set.
// A nil snapshot has every category absent. Classify has no side effects and
// must be re-run on every read.
func Classify(s *model.MarketSnapshot) Report {
	r := Report{
		Status:     StatusFull,
		Categories: make(map[string]bool, len(Categories)),
	}
	if s != nil && !s.LastUpdated.IsZero() {
		ts := s.LastUpdated
		r.DataTimestamp = &ts
	}

	for _, cat := range Categories {
		var missing []string
		for _, f := range categoryFields[cat] {
			if s == nil || !f.present(s) {
				missing = append(missing, f.name)
			}
		}
		r.Categories[cat] = len(missing) == 0
		if len(missing) > 0 {
			r.Status = StatusPartial
			if r.Missing == nil {
				r.Missing = make(map[string][]string)
			}
			r.Missing[cat] = missing
		}
	}
	return r
}
