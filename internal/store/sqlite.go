package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS market_snapshots (
		entity_id            TEXT PRIMARY KEY,
		symbol               TEXT NOT NULL,
		current_price        REAL,
		day_low              REAL,
		day_high             REAL,
		fifty_two_week_low   REAL,
		fifty_two_week_high  REAL,
		volume               INTEGER,
		avg_volume           INTEGER,
		market_cap           REAL,
		pe_ratio             REAL,
		forward_pe           REAL,
		eps                  REAL,
		profit_margin        REAL,
		dividend_yield       REAL,
		next_earnings_date   INTEGER,
		rsi                  REAL,
		macd                 REAL,
		macd_signal          REAL,
		sma_50               REAL,
		sma_200              REAL,
		is_above_50_sma      INTEGER,
		is_above_200_sma     INTEGER,
		rsi_overbought       INTEGER,
		rsi_oversold         INTEGER,
		macd_crossover       INTEGER,
		quarterly_revenue    TEXT,
		quarterly_net_income TEXT,
		last_updated         INTEGER NOT NULL,
		technicals_updated   INTEGER,
		source               TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_symbol ON market_snapshots(symbol)`,
}

// NewSQLiteStore opens (or creates) the SQLite database and runs migrations.
func NewSQLiteStore(dbPath string, log logrus.FieldLogger) (*SQLStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so readers are not blocked by the refresh writer.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := newSQLStore(db, "sqlite", false, log)
	if err := s.migrate(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s.log.WithField("path", dbPath).Info("sqlite store opened")
	return s, nil
}
