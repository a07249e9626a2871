package model

import (
	"time"

	"github.com/guregu/null/v6"
)

// CacheKey identifies one cached entity: a symbol held by an owning record.
// Two positions in the same symbol have distinct keys.
type CacheKey struct {
	EntityID string `json:"entity_id"`
	Symbol   string `json:"symbol"`
}

func (k CacheKey) String() string {
	return k.EntityID + ":" + k.Symbol
}

// Technicals are the indicator values stored alongside a snapshot.
type Technicals struct {
	RSI                  null.Float `json:"rsi"`
	MACD                 null.Float `json:"macd"`
	MACDSignal           null.Float `json:"macd_signal"`
	SMA50                null.Float `json:"sma_50"`
	SMA200               null.Float `json:"sma_200"`
	AboveSMA50           null.Bool  `json:"is_above_50_sma"`
	AboveSMA200          null.Bool  `json:"is_above_200_sma"`
	RSIOverbought        null.Bool  `json:"rsi_overbought"`
	RSIOversold          null.Bool  `json:"rsi_oversold"`
	MACDBullishCrossover null.Bool  `json:"macd_crossover"`
}

// MarketSnapshot is the last known market state for a CacheKey.
type MarketSnapshot struct {
	Key CacheKey `json:"key"`
	Quote
	Technicals
	QuarterlyRevenue   PeriodValues `json:"quarterly_revenue,omitempty"`
	QuarterlyNetIncome PeriodValues `json:"quarterly_net_income,omitempty"`

	LastUpdated time.Time `json:"last_updated"`
	// TechnicalsUpdated is when the technicals were last computed. Quote
	// refreshes move LastUpdated but leave it alone.
	TechnicalsUpdated time.Time `json:"technicals_updated,omitzero"`
	Source            string    `json:"source"`
}

// IndicatorResult is computed fresh from a price series; values that need more
// history than is available are null.
type IndicatorResult struct {
	Technicals
	High52w null.Float `json:"high_52w"`
	Low52w  null.Float `json:"low_52w"`
	// Position52w is where the last close sits in the 52-week range, 0 to 1.
	Position52w null.Float `json:"position_52w"`
	AsOf        time.Time  `json:"as_of"`
	Bars        int        `json:"bars"`
	Cached      bool       `json:"cached"`
}
