package notifier

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/guregu/null/v6"

	"PortfolioFeed/internal/availability"
	"PortfolioFeed/internal/model"
	"PortfolioFeed/internal/signal"
)

// FormatAlerts formats raised technical alerts into one Telegram message.
func FormatAlerts(alerts []signal.Alert, now time.Time) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🔔 <b>Technical Alerts</b> | %s\n\n", now.Format("2006-01-02 15:04")))
	for _, a := range alerts {
		icon := "✅"
		if a.Type == signal.AlertWarning {
			icon = "⚠️"
		}
		b.WriteString(fmt.Sprintf("%s %s\n", icon, html.EscapeString(a.String())))
	}
	return b.String()
}

// FormatQuote formats a single snapshot.
func FormatQuote(s *model.MarketSnapshot, stale bool) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📈 <b>%s</b>\n\n", html.EscapeString(s.Key.Symbol)))
	b.WriteString(fmt.Sprintf("Price: %s\n", num(s.CurrentPrice, "%.2f")))
	b.WriteString(fmt.Sprintf("Day range: %s - %s\n", num(s.DayLow, "%.2f"), num(s.DayHigh, "%.2f")))
	b.WriteString(fmt.Sprintf("52w range: %s - %s\n", num(s.FiftyTwoWeekLow, "%.2f"), num(s.FiftyTwoWeekHigh, "%.2f")))
	b.WriteString(fmt.Sprintf("P/E: %s | EPS: %s\n", num(s.PERatio, "%.1f"), num(s.EPS, "%.2f")))
	if s.RSI.Valid {
		b.WriteString(fmt.Sprintf("RSI: %.1f | MACD: %s\n", s.RSI.Float64, num(s.MACD, "%.2f")))
	}
	b.WriteString(fmt.Sprintf("Updated: %s", s.LastUpdated.Format("2006-01-02 15:04")))
	if stale {
		b.WriteString(" (stale)")
	}
	b.WriteString("\n")
	return b.String()
}

// FormatStatus lists every stored snapshot with its age and any data
// categories it is missing.
func FormatStatus(snaps []*model.MarketSnapshot, now time.Time) string {
	if len(snaps) == 0 {
		return "📦 <b>Status</b>\n\nNo cached market data."
	}
	sorted := make([]*model.MarketSnapshot, len(snaps))
	copy(sorted, snaps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key.Symbol < sorted[j].Key.Symbol })

	var b strings.Builder
	b.WriteString(fmt.Sprintf("📦 <b>Status</b> | %d positions\n\n", len(sorted)))
	for _, s := range sorted {
		age := now.Sub(s.LastUpdated).Truncate(time.Minute)
		b.WriteString(fmt.Sprintf("%s: %s (%s ago)", html.EscapeString(s.Key.Symbol), num(s.CurrentPrice, "%.2f"), age))
		if missing := missingCategories(s); len(missing) > 0 {
			b.WriteString(" | missing " + strings.Join(missing, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func missingCategories(s *model.MarketSnapshot) []string {
	report := availability.Classify(s)
	var out []string
	for _, cat := range availability.Categories {
		if !report.Available(cat) {
			out = append(out, cat)
		}
	}
	return out
}

func num(v null.Float, format string) string {
	if !v.Valid {
		return "n/a"
	}
	return fmt.Sprintf(format, v.Float64)
}
