package cache

import (
	"fmt"
	"math"
	"time"

	"github.com/guregu/null/v6"

	"PortfolioFeed/internal/model"
)

// Fields is a partial snapshot update keyed by persisted field name.
// A nil value clears the field.
type Fields map[string]any

type setter func(s *model.MarketSnapshot, v any) error

// fieldSetters is the complete set of fields Upsert accepts. Keys outside it are ignored.
var fieldSetters = map[string]setter{
	"current_price":       floatField(func(s *model.MarketSnapshot) *null.Float { return &s.CurrentPrice }),
	"day_low":             floatField(func(s *model.MarketSnapshot) *null.Float { return &s.DayLow }),
	"day_high":            floatField(func(s *model.MarketSnapshot) *null.Float { return &s.DayHigh }),
	"fifty_two_week_low":  floatField(func(s *model.MarketSnapshot) *null.Float { return &s.FiftyTwoWeekLow }),
	"fifty_two_week_high": floatField(func(s *model.MarketSnapshot) *null.Float { return &s.FiftyTwoWeekHigh }),
	"volume":              intField(func(s *model.MarketSnapshot) *null.Int { return &s.Volume }),
	"avg_volume":          intField(func(s *model.MarketSnapshot) *null.Int { return &s.AvgVolume }),
	"market_cap":          floatField(func(s *model.MarketSnapshot) *null.Float { return &s.MarketCap }),
	"pe_ratio":            floatField(func(s *model.MarketSnapshot) *null.Float { return &s.PERatio }),
	"forward_pe":          floatField(func(s *model.MarketSnapshot) *null.Float { return &s.ForwardPE }),
	"eps":                 floatField(func(s *model.MarketSnapshot) *null.Float { return &s.EPS }),
	"profit_margin":       floatField(func(s *model.MarketSnapshot) *null.Float { return &s.ProfitMargin }),
	"dividend_yield":      floatField(func(s *model.MarketSnapshot) *null.Float { return &s.DividendYield }),
	"next_earnings_date":  timeField(func(s *model.MarketSnapshot) *null.Time { return &s.NextEarnings }),

	"rsi":              floatField(func(s *model.MarketSnapshot) *null.Float { return &s.RSI }),
	"macd":             floatField(func(s *model.MarketSnapshot) *null.Float { return &s.MACD }),
	"macd_signal":      floatField(func(s *model.MarketSnapshot) *null.Float { return &s.MACDSignal }),
	"sma_50":           floatField(func(s *model.MarketSnapshot) *null.Float { return &s.SMA50 }),
	"sma_200":          floatField(func(s *model.MarketSnapshot) *null.Float { return &s.SMA200 }),
	"is_above_50_sma":  boolField(func(s *model.MarketSnapshot) *null.Bool { return &s.AboveSMA50 }),
	"is_above_200_sma": boolField(func(s *model.MarketSnapshot) *null.Bool { return &s.AboveSMA200 }),
	"rsi_overbought":   boolField(func(s *model.MarketSnapshot) *null.Bool { return &s.RSIOverbought }),
	"rsi_oversold":     boolField(func(s *model.MarketSnapshot) *null.Bool { return &s.RSIOversold }),
	"macd_crossover":   boolField(func(s *model.MarketSnapshot) *null.Bool { return &s.MACDBullishCrossover }),

	"quarterly_revenue":    periodsField(func(s *model.MarketSnapshot) *model.PeriodValues { return &s.QuarterlyRevenue }),
	"quarterly_net_income": periodsField(func(s *model.MarketSnapshot) *model.PeriodValues { return &s.QuarterlyNetIncome }),

	"source": func(s *model.MarketSnapshot, v any) error {
		switch x := v.(type) {
		case nil:
			s.Source = ""
		case string:
			s.Source = x
		default:
			return typeError(v, "string")
		}
		return nil
	},
}

// touchesTechnicals reports whether f sets any indicator field.
func touchesTechnicals(f Fields) bool {
	for name := range TechnicalFields(model.Technicals{}) {
		if _, ok := f[name]; ok {
			return true
		}
	}
	return false
}

func typeError(v any, want string) error {
	return fmt.Errorf("got %T, want %s", v, want)
}

func floatField(get func(*model.MarketSnapshot) *null.Float) setter {
	return func(s *model.MarketSnapshot, v any) error {
		var f null.Float
		switch x := v.(type) {
		case nil:
		case null.Float:
			f = x
		case float64:
			f = null.FloatFrom(x)
		case float32:
			f = null.FloatFrom(float64(x))
		case int:
			f = null.FloatFrom(float64(x))
		case int64:
			f = null.FloatFrom(float64(x))
		case *float64:
			f = null.FloatFromPtr(x)
		default:
			return typeError(v, "number")
		}
		if f.Valid && (math.IsNaN(f.Float64) || math.IsInf(f.Float64, 0)) {
			f = null.Float{}
		}
		*get(s) = f
		return nil
	}
}

func intField(get func(*model.MarketSnapshot) *null.Int) setter {
	return func(s *model.MarketSnapshot, v any) error {
		var n null.Int
		switch x := v.(type) {
		case nil:
		case null.Int:
			n = x
		case int:
			n = null.IntFrom(int64(x))
		case int64:
			n = null.IntFrom(x)
		case float64:
			if x != math.Trunc(x) || math.IsInf(x, 0) {
				return typeError(v, "integer")
			}
			n = null.IntFrom(int64(x))
		default:
			return typeError(v, "integer")
		}
		*get(s) = n
		return nil
	}
}

func boolField(get func(*model.MarketSnapshot) *null.Bool) setter {
	return func(s *model.MarketSnapshot, v any) error {
		var b null.Bool
		switch x := v.(type) {
		case nil:
		case null.Bool:
			b = x
		case bool:
			b = null.BoolFrom(x)
		default:
			return typeError(v, "bool")
		}
		*get(s) = b
		return nil
	}
}

// timeField also accepts unix seconds, the form providers report earnings dates in.
func timeField(get func(*model.MarketSnapshot) *null.Time) setter {
	return func(s *model.MarketSnapshot, v any) error {
		var t null.Time
		switch x := v.(type) {
		case nil:
		case null.Time:
			t = x
		case time.Time:
			t = null.TimeFrom(x)
		case int64:
			t = null.TimeFrom(time.Unix(x, 0).UTC())
		case int:
			t = null.TimeFrom(time.Unix(int64(x), 0).UTC())
		default:
			return typeError(v, "time")
		}
		*get(s) = t
		return nil
	}
}

// periodsField keeps the stored series when the update is empty.
func periodsField(get func(*model.MarketSnapshot) *model.PeriodValues) setter {
	return func(s *model.MarketSnapshot, v any) error {
		switch x := v.(type) {
		case nil:
		case model.PeriodValues:
			if len(x) > 0 {
				*get(s) = append(model.PeriodValues(nil), x...)
			}
		case []model.PeriodValue:
			if len(x) > 0 {
				*get(s) = append(model.PeriodValues(nil), x...)
			}
		default:
			return typeError(v, "period values")
		}
		return nil
	}
}

// QuoteFields converts a provider quote into an update that sets every quote field.
func QuoteFields(q *model.Quote) Fields {
	return Fields{
		"current_price":       q.CurrentPrice,
		"day_low":             q.DayLow,
		"day_high":            q.DayHigh,
		"fifty_two_week_low":  q.FiftyTwoWeekLow,
		"fifty_two_week_high": q.FiftyTwoWeekHigh,
		"volume":              q.Volume,
		"avg_volume":          q.AvgVolume,
		"market_cap":          q.MarketCap,
		"pe_ratio":            q.PERatio,
		"forward_pe":          q.ForwardPE,
		"eps":                 q.EPS,
		"profit_margin":       q.ProfitMargin,
		"dividend_yield":      q.DividendYield,
		"next_earnings_date":  q.NextEarnings,
	}
}

// TechnicalFields converts computed technicals into an update.
func TechnicalFields(t model.Technicals) Fields {
	return Fields{
		"rsi":              t.RSI,
		"macd":             t.MACD,
		"macd_signal":      t.MACDSignal,
		"sma_50":           t.SMA50,
		"sma_200":          t.SMA200,
		"is_above_50_sma":  t.AboveSMA50,
		"is_above_200_sma": t.AboveSMA200,
		"rsi_overbought":   t.RSIOverbought,
		"rsi_oversold":     t.RSIOversold,
		"macd_crossover":   t.MACDBullishCrossover,
	}
}

// FinancialFields converts quarterly financials into an update. Empty series are left out.
func FinancialFields(f *model.QuarterlyFinancials) Fields {
	out := Fields{}
	if f == nil {
		return out
	}
	if len(f.Revenue) > 0 {
		out["quarterly_revenue"] = f.Revenue
	}
	if len(f.NetIncome) > 0 {
		out["quarterly_net_income"] = f.NetIncome
	}
	return out
}

// Merge returns a new Fields holding the keys of all sets; later sets win.
func Merge(sets ...Fields) Fields {
	out := Fields{}
	for _, s := range sets {
		for k, v := range s {
			out[k] = v
		}
	}
	return out
}
