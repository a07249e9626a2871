package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/guregu/null/v6"
	"github.com/sirupsen/logrus"
)

var snapshotColumns = []string{
	"entity_id", "symbol",
	"current_price", "day_low", "day_high", "fifty_two_week_low", "fifty_two_week_high",
	"volume", "avg_volume", "market_cap",
	"pe_ratio", "forward_pe", "eps", "profit_margin", "dividend_yield", "next_earnings_date",
	"rsi", "macd", "macd_signal", "sma_50", "sma_200",
	"is_above_50_sma", "is_above_200_sma", "rsi_overbought", "rsi_oversold", "macd_crossover",
	"quarterly_revenue", "quarterly_net_income",
	"last_updated", "technicals_updated", "source",
}

// SQLStore implements Store over database/sql. The dialect only decides the
// placeholder syntax; SQLite and Postgres share every statement.
type SQLStore struct {
	db      *sql.DB
	name    string
	numeric bool // $1-style placeholders
	mu      sync.Mutex
	log     logrus.FieldLogger

	upsertSQL string
	selectSQL string
	listSQL   string
	deleteSQL string
}

func newSQLStore(db *sql.DB, name string, numeric bool, log logrus.FieldLogger) *SQLStore {
	s := &SQLStore{db: db, name: name, numeric: numeric, log: log.WithField("component", name+"_store")}
	cols := strings.Join(snapshotColumns, ", ")

	marks := make([]string, len(snapshotColumns))
	updates := make([]string, 0, len(snapshotColumns)-1)
	for i, c := range snapshotColumns {
		marks[i] = s.placeholder(i + 1)
		if c != "entity_id" {
			updates = append(updates, c+" = excluded."+c)
		}
	}
	s.upsertSQL = fmt.Sprintf(`INSERT INTO market_snapshots (%s) VALUES (%s)
		ON CONFLICT (entity_id) DO UPDATE SET %s`,
		cols, strings.Join(marks, ", "), strings.Join(updates, ", "))
	s.selectSQL = fmt.Sprintf(`SELECT %s FROM market_snapshots WHERE entity_id = %s`, cols, s.placeholder(1))
	s.listSQL = fmt.Sprintf(`SELECT %s FROM market_snapshots ORDER BY entity_id`, cols)
	s.deleteSQL = fmt.Sprintf(`DELETE FROM market_snapshots WHERE entity_id = %s`, s.placeholder(1))
	return s
}

func (s *SQLStore) placeholder(i int) string {
	if s.numeric {
		return "$" + strconv.Itoa(i)
	}
	return "?"
}

// row holds the scan targets for conversions database/sql cannot do itself.
type row struct {
	rec               Record
	nextEarnings      null.Int
	lastUpdated       int64
	technicalsUpdated null.Int
}

func (r *row) targets() []any {
	q, t := &r.rec.Quote, &r.rec.Technicals
	return []any{
		&r.rec.EntityID, &r.rec.Symbol,
		&q.CurrentPrice, &q.DayLow, &q.DayHigh, &q.FiftyTwoWeekLow, &q.FiftyTwoWeekHigh,
		&q.Volume, &q.AvgVolume, &q.MarketCap,
		&q.PERatio, &q.ForwardPE, &q.EPS, &q.ProfitMargin, &q.DividendYield, &r.nextEarnings,
		&t.RSI, &t.MACD, &t.MACDSignal, &t.SMA50, &t.SMA200,
		&t.AboveSMA50, &t.AboveSMA200, &t.RSIOverbought, &t.RSIOversold, &t.MACDBullishCrossover,
		&r.rec.QuarterlyRevenue, &r.rec.QuarterlyNetIncome,
		&r.lastUpdated, &r.technicalsUpdated, &r.rec.Source,
	}
}

func (r *row) record() *Record {
	rec := r.rec
	if r.nextEarnings.Valid {
		rec.NextEarnings = null.TimeFrom(time.Unix(r.nextEarnings.Int64, 0).UTC())
	}
	rec.LastUpdated = time.UnixMilli(r.lastUpdated).UTC()
	if r.technicalsUpdated.Valid {
		rec.TechnicalsUpdated = time.UnixMilli(r.technicalsUpdated.Int64).UTC()
	}
	return &rec
}

func values(rec *Record) []any {
	q, t := &rec.Quote, &rec.Technicals
	var nextEarnings, technicalsUpdated null.Int
	if q.NextEarnings.Valid {
		nextEarnings = null.IntFrom(q.NextEarnings.Time.Unix())
	}
	if !rec.TechnicalsUpdated.IsZero() {
		technicalsUpdated = null.IntFrom(rec.TechnicalsUpdated.UnixMilli())
	}
	return []any{
		rec.EntityID, rec.Symbol,
		q.CurrentPrice, q.DayLow, q.DayHigh, q.FiftyTwoWeekLow, q.FiftyTwoWeekHigh,
		q.Volume, q.AvgVolume, q.MarketCap,
		q.PERatio, q.ForwardPE, q.EPS, q.ProfitMargin, q.DividendYield, nextEarnings,
		t.RSI, t.MACD, t.MACDSignal, t.SMA50, t.SMA200,
		t.AboveSMA50, t.AboveSMA200, t.RSIOverbought, t.RSIOversold, t.MACDBullishCrossover,
		rec.QuarterlyRevenue, rec.QuarterlyNetIncome,
		rec.LastUpdated.UnixMilli(), technicalsUpdated, rec.Source,
	}
}

func (s *SQLStore) GetSnapshot(ctx context.Context, entityID string) (*Record, error) {
	var r row
	err := s.db.QueryRowContext(ctx, s.selectSQL, entityID).Scan(r.targets()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", entityID, err)
	}
	return r.record(), nil
}

func (s *SQLStore) ListSnapshots(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, s.listSQL)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var r row
		if err := rows.Scan(r.targets()...); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, r.record())
	}
	return out, rows.Err()
}

func (s *SQLStore) UpsertSnapshot(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, s.upsertSQL, values(rec)...); err != nil {
		return fmt.Errorf("upsert snapshot %s: %w", rec.EntityID, err)
	}
	return nil
}

// DeleteSnapshot removes the entity's snapshot. Deleting a missing one is not an error.
func (s *SQLStore) DeleteSnapshot(ctx context.Context, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, s.deleteSQL, entityID); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", entityID, err)
	}
	return nil
}

func (s *SQLStore) migrate(stmts []string) error {
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func (s *SQLStore) Close() error {
	s.log.Info("closing store")
	return s.db.Close()
}
