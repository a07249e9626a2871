package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/guregu/null/v6"
	"github.com/sirupsen/logrus"

	"PortfolioFeed/internal/model"
)

// ErrNotFound is returned when no snapshot exists for an entity.
var ErrNotFound = errors.New("snapshot not found")

// Record is the persisted form of a MarketSnapshot. Quarterly financials are
// kept as opaque JSON text; encoding and decoding them is the caller's job.
type Record struct {
	EntityID string
	Symbol   string
	model.Quote
	model.Technicals
	QuarterlyRevenue   null.String
	QuarterlyNetIncome null.String
	LastUpdated        time.Time
	TechnicalsUpdated  time.Time
	Source             string
}

// Clone returns a copy that shares no memory with r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

//go:generate mockgen -package=mocks -destination=../mocks/mock_store.go -source=store.go Store

// Store persists one snapshot per owning entity. UpsertSnapshot must replace
// the entity's row atomically; no cross-entity transactions are needed.
type Store interface {
	GetSnapshot(ctx context.Context, entityID string) (*Record, error)
	ListSnapshots(ctx context.Context) ([]*Record, error)
	UpsertSnapshot(ctx context.Context, rec *Record) error
	DeleteSnapshot(ctx context.Context, entityID string) error
	Close() error
}

// Open creates the store selected by driver: "sqlite", "postgres" or "memory".
func Open(driver, sqlitePath, postgresDSN string, log logrus.FieldLogger) (Store, error) {
	switch driver {
	case "", "sqlite":
		return NewSQLiteStore(sqlitePath, log)
	case "postgres":
		return NewPostgresStore(postgresDSN, log)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}
