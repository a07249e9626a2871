package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"github.com/tidwall/gjson"

	"PortfolioFeed/internal/model"
)

// DefaultYahooBaseURL is the public Yahoo Finance API host.
const DefaultYahooBaseURL = "https://query1.finance.yahoo.com"

const quoteModules = "price,summaryDetail,defaultKeyStatistics,financialData,calendarEvents"

// nativeRanges are the chart ranges Yahoo accepts directly. Other periods such
// as "9mo" or "3y" are sent as an explicit period1/period2 window.
var nativeRanges = map[string]bool{
	"1d": true, "5d": true, "1mo": true, "3mo": true, "6mo": true,
	"1y": true, "2y": true, "5y": true, "10y": true, "ytd": true, "max": true,
}

// YahooFetcher implements Fetcher using the Yahoo Finance public API.
type YahooFetcher struct {
	Client    *http.Client
	BaseURL   string
	SymbolMap map[string]string // maps internal symbol to Yahoo ticker

	now func() time.Time
}

// NewYahooFetcher creates a new Yahoo Finance fetcher. An empty baseURL uses DefaultYahooBaseURL.
func NewYahooFetcher(baseURL, proxyURL string, timeout time.Duration) *YahooFetcher {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if baseURL == "" {
		baseURL = DefaultYahooBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &YahooFetcher{
		Client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		BaseURL: strings.TrimRight(baseURL, "/"),
		SymbolMap: map[string]string{
			"SPX500": "^GSPC",
			"SPX":    "^GSPC",
			"SP500":  "^GSPC",
		},
		now: time.Now,
	}
}

func (f *YahooFetcher) Name() string { return "yahoo" }

func (f *YahooFetcher) yahooSymbol(symbol string) string {
	if mapped, ok := f.SymbolMap[symbol]; ok {
		return mapped
	}
	return symbol
}

// get performs a GET and classifies the response. 429 becomes a *RateLimitedError.
func (f *YahooFetcher) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yahoo fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("yahoo read body: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitedError{
			Provider:   f.Name(),
			Status:     resp.StatusCode,
			RetryAfter: resp.Header.Get("Retry-After"),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yahoo: status %d, body: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// yahooChart is the response structure from Yahoo Finance chart API.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				GMTOffset int `json:"gmtoffset"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func orDefault(vals []*float64, i int, def float64) float64 {
	if i >= len(vals) || vals[i] == nil {
		return def
	}
	return *vals[i]
}

// chartQuery builds the query string for a history period.
func (f *YahooFetcher) chartQuery(period string) (url.Values, error) {
	q := url.Values{"interval": {"1d"}}
	if nativeRanges[period] {
		q.Set("range", period)
		return q, nil
	}
	n, unit, err := splitPeriod(period)
	if err != nil {
		return nil, err
	}
	end := f.now()
	var start time.Time
	switch unit {
	case "d":
		start = end.AddDate(0, 0, -n)
	case "mo":
		start = end.AddDate(0, -n, 0)
	case "y":
		start = end.AddDate(-n, 0, 0)
	}
	q.Set("period1", strconv.FormatInt(start.Unix(), 10))
	q.Set("period2", strconv.FormatInt(end.Unix(), 10))
	return q, nil
}

// splitPeriod parses periods of the form <n>d, <n>mo or <n>y.
func splitPeriod(period string) (int, string, error) {
	for _, unit := range []string{"mo", "d", "y"} {
		if !strings.HasSuffix(period, unit) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(period, unit))
		if err != nil || n <= 0 {
			break
		}
		return n, unit, nil
	}
	return 0, "", fmt.Errorf("yahoo: unsupported period %q", period)
}

// FetchHistory returns daily bars for period, oldest first. Bars without a
// close (holidays, the still-forming session) are skipped; a missing open,
// high or low falls back to the close.
func (f *YahooFetcher) FetchHistory(ctx context.Context, symbol, period string) (model.PriceSeries, error) {
	q, err := f.chartQuery(period)
	if err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", f.BaseURL, url.PathEscape(f.yahooSymbol(symbol)), q.Encode())
	body, err := f.get(ctx, u)
	if err != nil {
		return nil, err
	}

	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, fmt.Errorf("yahoo decode: %w", err)
	}
	if chart.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo api error: %s", chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Timestamp) == 0 ||
		len(chart.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fmt.Errorf("yahoo history %s: %w", symbol, ErrNoData)
	}

	result := chart.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	zone := time.FixedZone("exchange", result.Meta.GMTOffset)
	bars := make(model.PriceSeries, 0, len(result.Timestamp))

	for i, ts := range result.Timestamp {
		if i >= len(quote.Close) || quote.Close[i] == nil {
			continue
		}
		c := *quote.Close[i]
		o, h, l := orDefault(quote.Open, i, c), orDefault(quote.High, i, c), orDefault(quote.Low, i, c)
		local := time.Unix(ts, 0).In(zone)
		bars = append(bars, model.PricePoint{
			Date:   time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC),
			Open:   o,
			High:   h,
			Low:    l,
			Close:  c,
			Volume: orDefault(quote.Volume, i, 0),
		})
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("yahoo history %s: %w", symbol, ErrNoData)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

func (f *YahooFetcher) quoteSummary(ctx context.Context, symbol, modules string) (gjson.Result, error) {
	u := fmt.Sprintf("%s/v10/finance/quoteSummary/%s?modules=%s",
		f.BaseURL, url.PathEscape(f.yahooSymbol(symbol)), url.QueryEscape(modules))
	body, err := f.get(ctx, u)
	if err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("yahoo decode: invalid json")
	}
	doc := gjson.ParseBytes(body)
	if e := doc.Get("quoteSummary.error"); e.Exists() && e.Type != gjson.Null {
		return gjson.Result{}, fmt.Errorf("yahoo api error: %s", e.Get("description").String())
	}
	res := doc.Get("quoteSummary.result.0")
	if !res.Exists() {
		return gjson.Result{}, fmt.Errorf("yahoo quote %s: %w", symbol, ErrNoData)
	}
	return res, nil
}

// rawFloat reads a {"raw": x} value; anything missing or empty is null.
func rawFloat(r gjson.Result, paths ...string) null.Float {
	for _, p := range paths {
		v := r.Get(p + ".raw")
		if v.Type == gjson.Number {
			return null.FloatFrom(v.Float())
		}
	}
	return null.Float{}
}

func rawInt(r gjson.Result, paths ...string) null.Int {
	for _, p := range paths {
		v := r.Get(p + ".raw")
		if v.Type == gjson.Number {
			return null.IntFrom(v.Int())
		}
	}
	return null.Int{}
}

// FetchQuote returns the current quote and fundamentals of symbol.
func (f *YahooFetcher) FetchQuote(ctx context.Context, symbol string) (*model.Quote, error) {
	res, err := f.quoteSummary(ctx, symbol, quoteModules)
	if err != nil {
		return nil, err
	}

	q := &model.Quote{
		CurrentPrice:     rawFloat(res, "financialData.currentPrice", "price.regularMarketPrice"),
		DayLow:           rawFloat(res, "summaryDetail.dayLow", "price.regularMarketDayLow"),
		DayHigh:          rawFloat(res, "summaryDetail.dayHigh", "price.regularMarketDayHigh"),
		FiftyTwoWeekLow:  rawFloat(res, "summaryDetail.fiftyTwoWeekLow"),
		FiftyTwoWeekHigh: rawFloat(res, "summaryDetail.fiftyTwoWeekHigh"),
		Volume:           rawInt(res, "summaryDetail.volume", "price.regularMarketVolume"),
		AvgVolume:        rawInt(res, "summaryDetail.averageVolume"),
		MarketCap:        rawFloat(res, "summaryDetail.marketCap", "price.marketCap"),
		PERatio:          rawFloat(res, "summaryDetail.trailingPE"),
		ForwardPE:        rawFloat(res, "summaryDetail.forwardPE", "defaultKeyStatistics.forwardPE"),
		EPS:              rawFloat(res, "defaultKeyStatistics.trailingEps"),
		ProfitMargin:     rawFloat(res, "financialData.profitMargins", "defaultKeyStatistics.profitMargins"),
		DividendYield:    rawFloat(res, "summaryDetail.dividendYield"),
	}
	if ts := res.Get("calendarEvents.earnings.earningsDate.0.raw"); ts.Type == gjson.Number {
		q.NextEarnings = null.TimeFrom(time.Unix(ts.Int(), 0).UTC())
	}
	return q, nil
}

// FetchFinancials returns up to four most recent quarters of revenue and net income,
// most recent first, labelled by quarter end date.
func (f *YahooFetcher) FetchFinancials(ctx context.Context, symbol string) (*model.QuarterlyFinancials, error) {
	res, err := f.quoteSummary(ctx, symbol, "incomeStatementHistoryQuarterly")
	if err != nil {
		return nil, err
	}

	type quarter struct {
		end       int64
		label     string
		revenue   gjson.Result
		netIncome gjson.Result
	}
	var quarters []quarter
	res.Get("incomeStatementHistoryQuarterly.incomeStatementHistory").ForEach(func(_, st gjson.Result) bool {
		end := st.Get("endDate.raw").Int()
		label := st.Get("endDate.fmt").String()
		if label == "" {
			label = time.Unix(end, 0).UTC().Format("2006-01-02")
		}
		quarters = append(quarters, quarter{
			end:       end,
			label:     label,
			revenue:   st.Get("totalRevenue.raw"),
			netIncome: st.Get("netIncome.raw"),
		})
		return true
	})
	if len(quarters) == 0 {
		return nil, fmt.Errorf("yahoo financials %s: %w", symbol, ErrNoData)
	}

	sort.SliceStable(quarters, func(i, j int) bool { return quarters[i].end > quarters[j].end })
	if len(quarters) > 4 {
		quarters = quarters[:4]
	}

	fin := &model.QuarterlyFinancials{}
	for _, q := range quarters {
		if q.revenue.Type == gjson.Number {
			fin.Revenue = append(fin.Revenue, model.PeriodValue{Period: q.label, Value: q.revenue.Float()})
		}
		if q.netIncome.Type == gjson.Number {
			fin.NetIncome = append(fin.NetIncome, model.PeriodValue{Period: q.label, Value: q.netIncome.Float()})
		}
	}
	return fin, nil
}
