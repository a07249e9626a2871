package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS market_snapshots (
		entity_id            TEXT PRIMARY KEY,
		symbol               TEXT NOT NULL,
		current_price        DOUBLE PRECISION,
		day_low              DOUBLE PRECISION,
		day_high             DOUBLE PRECISION,
		fifty_two_week_low   DOUBLE PRECISION,
		fifty_two_week_high  DOUBLE PRECISION,
		volume               BIGINT,
		avg_volume           BIGINT,
		market_cap           DOUBLE PRECISION,
		pe_ratio             DOUBLE PRECISION,
		forward_pe           DOUBLE PRECISION,
		eps                  DOUBLE PRECISION,
		profit_margin        DOUBLE PRECISION,
		dividend_yield       DOUBLE PRECISION,
		next_earnings_date   BIGINT,
		rsi                  DOUBLE PRECISION,
		macd                 DOUBLE PRECISION,
		macd_signal          DOUBLE PRECISION,
		sma_50               DOUBLE PRECISION,
		sma_200              DOUBLE PRECISION,
		is_above_50_sma      BOOLEAN,
		is_above_200_sma     BOOLEAN,
		rsi_overbought       BOOLEAN,
		rsi_oversold         BOOLEAN,
		macd_crossover       BOOLEAN,
		quarterly_revenue    TEXT,
		quarterly_net_income TEXT,
		last_updated         BIGINT NOT NULL,
		technicals_updated   BIGINT,
		source               TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_symbol ON market_snapshots(symbol)`,
}

// NewPostgresStore connects to Postgres and runs migrations.
func NewPostgresStore(dsn string, log logrus.FieldLogger) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := newPostgresStore(db, log)
	if err := s.migrate(postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	s.log.Info("postgres store opened")
	return s, nil
}

func newPostgresStore(db *sql.DB, log logrus.FieldLogger) *SQLStore {
	return newSQLStore(db, "postgres", true, log)
}
