package scheduler

import (
	"strings"
	"sync"
	"time"

	"github.com/scmhub/calendar"
)

// DefaultMIC is the exchange assumed for symbols without a known suffix.
const DefaultMIC = "xnys"

var suffixMIC = map[string]string{
	".L":  "xlon",
	".PA": "xpar",
	".DE": "xfra",
	".AS": "xams",
	".BR": "xbru",
	".MI": "xmil",
	".MC": "xmad",
	".ST": "xsto",
	".CO": "xcse",
	".HE": "xhel",
	".VI": "xwbo",
	".SW": "xswx",
	".TO": "xtse",
	".V":  "xtsx",
	".T":  "xtks",
	".HK": "xhkg",
	".AX": "xasx",
	".KS": "xkrx",
	".TW": "xtai",
	".SS": "xshg",
	".SZ": "xshe",
}

// MICForSymbol maps a Yahoo-style exchange suffix to its ISO 10383 MIC.
func MICForSymbol(symbol string) string {
	i := strings.LastIndex(symbol, ".")
	if i <= 0 {
		return DefaultMIC
	}
	if mic, ok := suffixMIC[strings.ToUpper(symbol[i:])]; ok {
		return mic
	}
	return DefaultMIC
}

// MarketHours answers whether a symbol's exchange is trading. Calendars are
// loaded once per MIC.
type MarketHours struct {
	mu        sync.Mutex
	calendars map[string]*calendar.Calendar
}

func NewMarketHours() *MarketHours {
	return &MarketHours{calendars: make(map[string]*calendar.Calendar)}
}

func (m *MarketHours) calendarFor(mic string) *calendar.Calendar {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cal, ok := m.calendars[mic]; ok {
		return cal
	}
	cal := calendar.GetCalendar(mic)
	if cal == nil && mic != DefaultMIC {
		cal = calendar.GetCalendar(DefaultMIC)
	}
	m.calendars[mic] = cal
	return cal
}

// IsOpen reports whether the exchange of symbol is open at t. Without a
// calendar it falls back to weekdays 09:30-16:00 New York time.
func (m *MarketHours) IsOpen(symbol string, t time.Time) bool {
	cal := m.calendarFor(MICForSymbol(symbol))
	if cal != nil {
		return cal.IsOpen(t.In(cal.Loc))
	}

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	t = t.In(loc)
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	minutes := t.Hour()*60 + t.Minute()
	return minutes >= 9*60+30 && minutes < 16*60
}
