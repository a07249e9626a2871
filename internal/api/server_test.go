package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/guregu/null/v6"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"PortfolioFeed/internal/availability"
	"PortfolioFeed/internal/marketdata"
	"PortfolioFeed/internal/metrics"
	"PortfolioFeed/internal/model"
)

type fakeData struct {
	snap     *model.MarketSnapshot
	stale    bool
	err      error
	series   model.PriceSeries
	ind      *model.IndicatorResult
	deleted  []string
	gotForce bool
	gotEnt   string
	gotPer   string
}

func (f *fakeData) GetMarketData(_ context.Context, symbol, entityID string, force bool) (*marketdata.Result, error) {
	f.gotForce, f.gotEnt = force, entityID
	if f.err != nil {
		return nil, f.err
	}
	origin := marketdata.OriginFresh
	if f.stale {
		origin = marketdata.OriginFallback
	}
	return &marketdata.Result{Snapshot: f.snap, Origin: origin, Stale: f.stale}, nil
}

func (f *fakeData) GetHistoricalPrices(_ context.Context, _, period string) (model.PriceSeries, error) {
	f.gotPer = period
	if period == "7w" {
		return nil, fmt.Errorf("%w: unknown period %q", marketdata.ErrInvalidArgument, period)
	}
	return f.series, f.err
}

func (f *fakeData) GetTechnicalIndicators(_ context.Context, _, entityID string, force bool) (*model.IndicatorResult, error) {
	f.gotForce, f.gotEnt = force, entityID
	return f.ind, f.err
}

func (f *fakeData) ClassifyAvailability(snap *model.MarketSnapshot) availability.Report {
	return availability.Classify(snap)
}

func (f *fakeData) Availability(_ context.Context, entityID string) (*model.MarketSnapshot, availability.Report, error) {
	if f.err != nil {
		return nil, availability.Report{}, f.err
	}
	if f.snap == nil || f.snap.Key.EntityID != entityID {
		return nil, availability.Classify(nil), nil
	}
	return f.snap, availability.Classify(f.snap), nil
}

func (f *fakeData) DeleteEntity(_ context.Context, entityID string) error {
	f.deleted = append(f.deleted, entityID)
	return f.err
}

func newTestServer(data MarketData, opts Options) (*Server, *metrics.Recorder) {
	logger, _ := logtest.NewNullLogger()
	rec := metrics.New()
	return New(data, opts, logger, rec), rec
}

func do(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func testSnapshot() *model.MarketSnapshot {
	s := &model.MarketSnapshot{
		Key:         model.CacheKey{EntityID: "pos-1", Symbol: "AAPL"},
		LastUpdated: time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC),
		Source:      "yahoo",
	}
	s.CurrentPrice = null.FloatFrom(198)
	s.FiftyTwoWeekHigh = null.FloatFrom(200)
	s.RSI = null.FloatFrom(72)
	s.RSIOverbought = null.BoolFrom(true)
	return s
}

func TestGetMarket(t *testing.T) {
	data := &fakeData{snap: testSnapshot(), stale: true}
	s, _ := newTestServer(data, Options{})

	w := do(t, s, http.MethodGet, "/api/v1/market/aapl?entity_id=pos-1&force=true")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, data.gotForce)
	assert.Equal(t, "pos-1", data.gotEnt)

	body := gjson.Parse(w.Body.String())
	assert.Equal(t, "AAPL", body.Get("snapshot.key.symbol").String())
	assert.Equal(t, 198.0, body.Get("snapshot.current_price").Float())
	assert.True(t, body.Get("snapshot.day_low").Type == gjson.Null)
	assert.True(t, body.Get("stale").Bool())
	assert.Equal(t, "fallback", body.Get("origin").String())
	assert.Equal(t, "partial", body.Get("availability.status").String())
	assert.True(t, body.Get("availability.categories.basic_price").Bool())
	assert.True(t, body.Get("flags.at_52_week_high").Bool())
	assert.True(t, body.Get("flags.rsi_overbought").Bool())
	assert.Equal(t, "RSI Overbought", body.Get("alerts.0.signal").String())
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestGetMarket_ErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
		msg  string
	}{
		{marketdata.ErrNoData, http.StatusNotFound, "no data"},
		{fmt.Errorf("%w: empty symbol", marketdata.ErrInvalidArgument), http.StatusBadRequest, "invalid argument: empty symbol"},
		{errors.New("boom"), http.StatusInternalServerError, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			s, _ := newTestServer(&fakeData{err: tt.err}, Options{})
			w := do(t, s, http.MethodGet, "/api/v1/market/AAPL")
			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, tt.msg, gjson.Get(w.Body.String(), "error").String())
		})
	}
}

func TestGetHistory(t *testing.T) {
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	data := &fakeData{series: model.PriceSeries{{Date: day, Close: 185.6}}}
	s, _ := newTestServer(data, Options{})

	w := do(t, s, http.MethodGet, "/api/v1/history/AAPL")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "", data.gotPer)
	assert.Equal(t, "1y", gjson.Get(w.Body.String(), "period").String())
	assert.Equal(t, 185.6, gjson.Get(w.Body.String(), "prices.0.close").Float())

	w = do(t, s, http.MethodGet, "/api/v1/history/AAPL?period=7w")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetIndicators(t *testing.T) {
	ind := &model.IndicatorResult{Bars: 252, Cached: true}
	ind.RSI = null.FloatFrom(55.5)
	data := &fakeData{ind: ind}
	s, _ := newTestServer(data, Options{})

	w := do(t, s, http.MethodGet, "/api/v1/indicators/AAPL?entity_id=pos-1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, data.gotForce)
	assert.Equal(t, "pos-1", data.gotEnt)
	body := gjson.Parse(w.Body.String())
	assert.Equal(t, 55.5, body.Get("rsi").Float())
	assert.Equal(t, gjson.Null, body.Get("macd").Type)
	assert.True(t, body.Get("cached").Bool())

	do(t, s, http.MethodGet, "/api/v1/indicators/AAPL?entity_id=pos-1&force=1")
	assert.True(t, data.gotForce)
}

func TestGetAvailability(t *testing.T) {
	s, _ := newTestServer(&fakeData{snap: testSnapshot()}, Options{})

	w := do(t, s, http.MethodGet, "/api/v1/availability/pos-1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pos-1", gjson.Get(w.Body.String(), "key.entity_id").String())
	assert.Equal(t, "partial", gjson.Get(w.Body.String(), "availability.status").String())

	w = do(t, s, http.MethodGet, "/api/v1/availability/other")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "no data", gjson.Get(w.Body.String(), "error").String())
	assert.False(t, gjson.Get(w.Body.String(), "availability.categories.basic_price").Bool())
}

func TestDeleteSnapshot(t *testing.T) {
	data := &fakeData{}
	s, _ := newTestServer(data, Options{})

	w := do(t, s, http.MethodDelete, "/api/v1/snapshots/pos-9")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"pos-9"}, data.deleted)
}

func TestRateLimitPerClient(t *testing.T) {
	s, _ := newTestServer(&fakeData{snap: testSnapshot()}, Options{RequestsPerSecond: 0.001, Burst: 2})

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/v1/market/AAPL").Code)
	}
	w := do(t, s, http.MethodGet, "/api/v1/market/AAPL")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// Another client has its own allowance.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/market/AAPL", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Health checks are never limited.
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz").Code)
}

func TestClientLimiter_Cleanup(t *testing.T) {
	l := NewClientLimiter(1, 1)
	require.True(t, l.Allow("a"))
	l.Cleanup(time.Now().Add(time.Hour))
	assert.Empty(t, l.limiters)
	assert.True(t, l.Allow("a"), "fresh bucket after cleanup")

	assert.True(t, NewClientLimiter(0, 0).Allow("x"), "zero rate disables limiting")
}

func TestCleanupLoopStopsAfterEarlyShutdown(t *testing.T) {
	s, _ := newTestServer(&fakeData{}, Options{})
	require.NoError(t, s.Shutdown(context.Background()))

	stopped := make(chan struct{})
	go func() {
		s.cleanupLoop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("cleanup loop outlived shutdown")
	}
}

func TestRequestIDPropagated(t *testing.T) {
	s, _ := newTestServer(&fakeData{}, Options{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(&fakeData{snap: testSnapshot()}, Options{})
	do(t, s, http.MethodGet, "/api/v1/market/AAPL")

	w := do(t, s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `portfolio_feed_http_requests_total{method="GET",route="/api/v1/market/:symbol",status="200"} 1`)
}
