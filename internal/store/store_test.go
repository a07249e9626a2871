package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/guregu/null/v6"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord(entityID string) *Record {
	rec := &Record{
		EntityID:    entityID,
		Symbol:      "AAPL",
		LastUpdated: time.Date(2024, 6, 28, 14, 30, 0, 123_000_000, time.UTC),
		Source:      "yahoo",
	}
	rec.CurrentPrice = null.FloatFrom(189.4)
	rec.Volume = null.IntFrom(51200000)
	rec.PERatio = null.FloatFrom(29.4)
	rec.NextEarnings = null.TimeFrom(time.Unix(1714680000, 0).UTC())
	rec.RSI = null.FloatFrom(55.2)
	rec.AboveSMA50 = null.BoolFrom(true)
	rec.RSIOverbought = null.BoolFrom(false)
	rec.QuarterlyRevenue = null.StringFrom(`{"2024-03-31":90753000000}`)
	return rec
}

func openBackends(t *testing.T) map[string]Store {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "data", "feed.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"sqlite": sqlite,
		"memory": NewMemoryStore(),
	}
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			want := sampleRecord("pos-1")
			require.NoError(t, s.UpsertSnapshot(ctx, want))

			got, err := s.GetSnapshot(ctx, "pos-1")
			require.NoError(t, err)
			assert.Equal(t, want.Symbol, got.Symbol)
			assert.Equal(t, want.CurrentPrice, got.CurrentPrice)
			assert.Equal(t, want.Volume, got.Volume)
			assert.False(t, got.DayLow.Valid)
			assert.True(t, got.NextEarnings.Time.Equal(want.NextEarnings.Time))
			assert.Equal(t, want.AboveSMA50, got.AboveSMA50)
			assert.Equal(t, want.RSIOverbought, got.RSIOverbought)
			assert.False(t, got.MACDBullishCrossover.Valid)
			assert.Equal(t, want.QuarterlyRevenue, got.QuarterlyRevenue)
			assert.False(t, got.QuarterlyNetIncome.Valid)
			assert.True(t, got.LastUpdated.Equal(want.LastUpdated))
			assert.True(t, got.TechnicalsUpdated.IsZero(), "technicals never computed")
		})
	}
}

func TestStore_TechnicalsUpdatedRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			rec := sampleRecord("pos-1")
			rec.TechnicalsUpdated = time.Date(2024, 6, 28, 14, 15, 0, 0, time.UTC)
			require.NoError(t, s.UpsertSnapshot(ctx, rec))

			got, err := s.GetSnapshot(ctx, "pos-1")
			require.NoError(t, err)
			assert.True(t, got.TechnicalsUpdated.Equal(rec.TechnicalsUpdated))
			assert.True(t, got.LastUpdated.After(got.TechnicalsUpdated))
		})
	}
}

func TestStore_UpsertReplacesRow(t *testing.T) {
	ctx := context.Background()
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			rec := sampleRecord("pos-1")
			require.NoError(t, s.UpsertSnapshot(ctx, rec))

			rec.CurrentPrice = null.FloatFrom(200)
			rec.PERatio = null.Float{}
			require.NoError(t, s.UpsertSnapshot(ctx, rec))

			got, err := s.GetSnapshot(ctx, "pos-1")
			require.NoError(t, err)
			assert.Equal(t, 200.0, got.CurrentPrice.Float64)
			assert.False(t, got.PERatio.Valid)

			all, err := s.ListSnapshots(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 1)
		})
	}
}

func TestStore_EntitiesAreIndependent(t *testing.T) {
	ctx := context.Background()
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			a, b := sampleRecord("pos-b"), sampleRecord("pos-a")
			b.CurrentPrice = null.FloatFrom(1)
			require.NoError(t, s.UpsertSnapshot(ctx, a))
			require.NoError(t, s.UpsertSnapshot(ctx, b))

			all, err := s.ListSnapshots(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "pos-a", all[0].EntityID)
			assert.Equal(t, 1.0, all[0].CurrentPrice.Float64)
			assert.Equal(t, 189.4, all[1].CurrentPrice.Float64)
		})
	}
}

func TestStore_DeleteAndNotFound(t *testing.T) {
	ctx := context.Background()
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.GetSnapshot(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.UpsertSnapshot(ctx, sampleRecord("pos-1")))
			require.NoError(t, s.DeleteSnapshot(ctx, "pos-1"))
			_, err = s.GetSnapshot(ctx, "pos-1")
			assert.ErrorIs(t, err, ErrNotFound)

			assert.NoError(t, s.DeleteSnapshot(ctx, "pos-1"))
		})
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rec := sampleRecord("pos-1")
	require.NoError(t, s.UpsertSnapshot(ctx, rec))
	rec.CurrentPrice = null.FloatFrom(1)

	got, err := s.GetSnapshot(ctx, "pos-1")
	require.NoError(t, err)
	got.Symbol = "MSFT"

	again, err := s.GetSnapshot(ctx, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, 189.4, again.CurrentPrice.Float64)
	assert.Equal(t, "AAPL", again.Symbol)
}

func TestOpen(t *testing.T) {
	logger, _ := logtest.NewNullLogger()

	s, err := Open("memory", "", "", logger)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = Open("oracle", "", "", logger)
	assert.Error(t, err)

	_, err = Open("postgres", "", "", logger)
	assert.Error(t, err)
}
