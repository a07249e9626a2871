package cache

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/guregu/null/v6"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"PortfolioFeed/internal/mocks"
	"PortfolioFeed/internal/model"
	"PortfolioFeed/internal/store"
)

var testNow = time.Date(2024, 6, 28, 15, 0, 0, 0, time.UTC)

func newTestCache(t *testing.T, st store.Store) (*Cache, *logtest.Hook) {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	c := New(st, DefaultTTL, logger, nil)
	c.now = func() time.Time { return testNow }
	return c, hook
}

var key = model.CacheKey{EntityID: "pos-1", Symbol: "AAPL"}

func TestIsValid_TTLBoundary(t *testing.T) {
	c, _ := newTestCache(t, store.NewMemoryStore())

	tests := []struct {
		name string
		age  time.Duration
		want bool
	}{
		{"just updated", 0, true},
		{"one second before ttl", DefaultTTL - time.Second, true},
		{"one nanosecond before ttl", DefaultTTL - time.Nanosecond, true},
		{"exactly ttl", DefaultTTL, false},
		{"past ttl", DefaultTTL + time.Second, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := &model.MarketSnapshot{LastUpdated: testNow.Add(-tt.age)}
			assert.Equal(t, tt.want, c.IsValid(snap))
		})
	}

	assert.False(t, c.IsValid(nil))
	assert.False(t, c.IsValid(&model.MarketSnapshot{}))
}

func TestUpsert_TechnicalsStampedSeparately(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, store.NewMemoryStore())

	snap, err := c.Upsert(ctx, key, Fields{"rsi": 55.0})
	require.NoError(t, err)
	assert.Equal(t, testNow, snap.TechnicalsUpdated)
	assert.True(t, c.TechnicalsValid(snap))

	// A later quote refresh moves LastUpdated only.
	computed := testNow
	c.now = func() time.Time { return computed.Add(DefaultTTL) }
	snap, err = c.Upsert(ctx, key, Fields{"current_price": 10.0})
	require.NoError(t, err)
	assert.True(t, c.IsValid(snap))
	assert.Equal(t, computed, snap.TechnicalsUpdated)
	assert.False(t, c.TechnicalsValid(snap))

	stored, err := c.Get(ctx, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, computed, stored.TechnicalsUpdated)
	assert.False(t, c.TechnicalsValid(&model.MarketSnapshot{LastUpdated: testNow}))
}

func TestGet_AbsentIsNil(t *testing.T) {
	c, _ := newTestCache(t, store.NewMemoryStore())
	snap, err := c.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestUpsert_FieldsAccumulate(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, store.NewMemoryStore())

	_, err := c.Upsert(ctx, key, Fields{"current_price": 10.0})
	require.NoError(t, err)
	_, err = c.Upsert(ctx, key, Fields{"volume": 500})
	require.NoError(t, err)

	snap, err := c.Get(ctx, "pos-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, null.FloatFrom(10), snap.CurrentPrice)
	assert.Equal(t, null.IntFrom(500), snap.Volume)
	assert.Equal(t, key, snap.Key)
	assert.Equal(t, testNow, snap.LastUpdated)
}

func TestUpsert_UnknownAndBadFieldsIgnored(t *testing.T) {
	ctx := context.Background()
	c, hook := newTestCache(t, store.NewMemoryStore())

	_, err := c.Upsert(ctx, key, Fields{"current_price": 10.0, "ticker_color": "red"})
	require.NoError(t, err)
	snap, err := c.Upsert(ctx, key, Fields{"current_price": "eleven", "rsi_overbought": 1, "volume": 1.5})
	require.NoError(t, err)

	assert.Equal(t, 10.0, snap.CurrentPrice.Float64)
	assert.False(t, snap.RSIOverbought.Valid)
	assert.False(t, snap.Volume.Valid)

	warnings := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warnings++
		}
	}
	assert.Equal(t, 3, warnings)
}

func TestUpsert_NilClearsField(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, store.NewMemoryStore())

	_, err := c.Upsert(ctx, key, Fields{"pe_ratio": 21.0, "eps": 3.0})
	require.NoError(t, err)
	snap, err := c.Upsert(ctx, key, Fields{"pe_ratio": nil, "eps": null.Float{}})
	require.NoError(t, err)
	assert.False(t, snap.PERatio.Valid)
	assert.False(t, snap.EPS.Valid)
}

func TestUpsert_NaNStoredAsNull(t *testing.T) {
	c, _ := newTestCache(t, store.NewMemoryStore())
	snap, err := c.Upsert(context.Background(), key, Fields{"rsi": math.NaN()})
	require.NoError(t, err)
	assert.False(t, snap.RSI.Valid)
}

func TestUpsert_EmptyFinancialsKeepPrevious(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, store.NewMemoryStore())
	rev := model.PeriodValues{{Period: "2024-03-31", Value: 9e10}, {Period: "2023-12-31", Value: 1.1e11}}

	_, err := c.Upsert(ctx, key, Fields{"quarterly_revenue": rev})
	require.NoError(t, err)
	_, err = c.Upsert(ctx, key, Fields{"quarterly_revenue": model.PeriodValues{}})
	require.NoError(t, err)

	snap, err := c.Get(ctx, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, rev, snap.QuarterlyRevenue)
}

func TestUpsert_FinancialsRoundTripThroughStore(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	c, _ := newTestCache(t, st)
	rev := model.PeriodValues{{Period: "2024-03-31", Value: 90753000000}, {Period: "2023-12-31", Value: 119575000000}}

	_, err := c.Upsert(ctx, key, FinancialFields(&model.QuarterlyFinancials{Revenue: rev}))
	require.NoError(t, err)

	rec, err := st.GetSnapshot(ctx, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, `{"2024-03-31":90753000000,"2023-12-31":119575000000}`, rec.QuarterlyRevenue.String)
	assert.False(t, rec.QuarterlyNetIncome.Valid)

	snap, err := c.Get(ctx, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, rev, snap.QuarterlyRevenue)
}

func TestGet_MalformedBlobIsAbsent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.UpsertSnapshot(ctx, &store.Record{
		EntityID:           "pos-1",
		Symbol:             "AAPL",
		QuarterlyRevenue:   null.StringFrom(`{"2024-03-31":`),
		QuarterlyNetIncome: null.StringFrom(`{"2024-03-31":1.5}`),
		LastUpdated:        testNow,
	}))
	c, hook := newTestCache(t, st)

	snap, err := c.Get(ctx, "pos-1")
	require.NoError(t, err)
	assert.Nil(t, snap.QuarterlyRevenue)
	assert.Equal(t, model.PeriodValues{{Period: "2024-03-31", Value: 1.5}}, snap.QuarterlyNetIncome)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestUpsert_ConcurrentPartialUpdatesMerge(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, store.NewMemoryStore())

	names := []string{"current_price", "day_low", "day_high", "market_cap", "pe_ratio", "forward_pe", "eps", "rsi"}
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(name string, v float64) {
			defer wg.Done()
			_, err := c.Upsert(ctx, key, Fields{name: v})
			assert.NoError(t, err)
		}(name, float64(i+1))
	}
	wg.Wait()

	snap, err := c.Get(ctx, "pos-1")
	require.NoError(t, err)
	for _, name := range names[:7] {
		assert.True(t, fieldValid(snap, name), name)
	}
	assert.True(t, snap.RSI.Valid)
	assert.Empty(t, c.locks)
}

func fieldValid(s *model.MarketSnapshot, name string) bool {
	switch name {
	case "current_price":
		return s.CurrentPrice.Valid
	case "day_low":
		return s.DayLow.Valid
	case "day_high":
		return s.DayHigh.Valid
	case "market_cap":
		return s.MarketCap.Valid
	case "pe_ratio":
		return s.PERatio.Valid
	case "forward_pe":
		return s.ForwardPE.Valid
	case "eps":
		return s.EPS.Valid
	}
	return false
}

func TestLookup(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, store.NewMemoryStore())

	snap, fresh, err := c.Lookup(ctx, "pos-1")
	require.NoError(t, err)
	assert.Nil(t, snap)
	assert.False(t, fresh)

	_, err = c.Upsert(ctx, key, Fields{"current_price": 1.0})
	require.NoError(t, err)
	_, fresh, err = c.Lookup(ctx, "pos-1")
	require.NoError(t, err)
	assert.True(t, fresh)

	c.now = func() time.Time { return testNow.Add(time.Hour) }
	snap, fresh, err = c.Lookup(ctx, "pos-1")
	require.NoError(t, err)
	assert.NotNil(t, snap)
	assert.False(t, fresh)
}

func TestUpsert_StoreErrorsPropagate(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	c, _ := newTestCache(t, st)
	boom := errors.New("disk full")

	st.EXPECT().GetSnapshot(gomock.Any(), "pos-1").Return(nil, store.ErrNotFound)
	st.EXPECT().UpsertSnapshot(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, rec *store.Record) error {
			assert.Equal(t, "AAPL", rec.Symbol)
			assert.Equal(t, 10.0, rec.CurrentPrice.Float64)
			return boom
		})

	_, err := c.Upsert(context.Background(), key, Fields{"current_price": 10.0})
	assert.ErrorIs(t, err, boom)
}

func TestGet_StoreErrorPropagates(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	c, _ := newTestCache(t, st)
	boom := errors.New("connection lost")

	st.EXPECT().GetSnapshot(gomock.Any(), "pos-1").Return(nil, boom)
	_, err := c.Get(context.Background(), "pos-1")
	assert.ErrorIs(t, err, boom)
}

func TestUpsert_EmptyEntityID(t *testing.T) {
	c, _ := newTestCache(t, store.NewMemoryStore())
	_, err := c.Upsert(context.Background(), model.CacheKey{Symbol: "AAPL"}, Fields{})
	assert.Error(t, err)
}

func TestFieldSettersCoverSnapshot(t *testing.T) {
	assert.Len(t, fieldSetters, 27)
	assert.Contains(t, fieldSetters, "macd_crossover")
}

func TestQuoteAndTechnicalFieldsAreKnown(t *testing.T) {
	for name := range Merge(QuoteFields(&model.Quote{}), TechnicalFields(model.Technicals{})) {
		_, ok := fieldSetters[name]
		assert.True(t, ok, name)
	}
}
