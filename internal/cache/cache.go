package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"PortfolioFeed/internal/metrics"
	"PortfolioFeed/internal/model"
	"PortfolioFeed/internal/store"
)

// DefaultTTL is how long a snapshot counts as fresh.
const DefaultTTL = 15 * time.Minute

// Cache is the staleness-aware snapshot store. Updates for the same entity are
// serialized so concurrent partial updates merge instead of losing fields.
type Cache struct {
	store   store.Store
	ttl     time.Duration
	log     logrus.FieldLogger
	metrics *metrics.Recorder
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a Cache over st. A non-positive ttl uses DefaultTTL.
func New(st store.Store, ttl time.Duration, log logrus.FieldLogger, rec *metrics.Recorder) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		store:   st,
		ttl:     ttl,
		log:     log.WithField("component", "cache"),
		metrics: rec,
		now:     time.Now,
		locks:   make(map[string]*keyLock),
	}
}

// IsValid reports whether s exists and was updated less than TTL ago.
func (c *Cache) IsValid(s *model.MarketSnapshot) bool {
	return s != nil && c.within(s.LastUpdated)
}

// TechnicalsValid reports whether the technicals of s were computed less than
// TTL ago. Quote-only updates do not count.
func (c *Cache) TechnicalsValid(s *model.MarketSnapshot) bool {
	return s != nil && c.within(s.TechnicalsUpdated)
}

func (c *Cache) within(t time.Time) bool {
	return !t.IsZero() && c.now().Sub(t) < c.ttl
}

// Get returns the stored snapshot for entityID, or nil when there is none.
func (c *Cache) Get(ctx context.Context, entityID string) (*model.MarketSnapshot, error) {
	rec, err := c.store.GetSnapshot(ctx, entityID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c.fromRecord(rec), nil
}

// Lookup is Get plus a freshness check, and records the hit/miss/stale metric.
func (c *Cache) Lookup(ctx context.Context, entityID string) (snap *model.MarketSnapshot, fresh bool, err error) {
	snap, err = c.Get(ctx, entityID)
	if err != nil {
		return nil, false, err
	}
	switch {
	case snap == nil:
		c.metrics.CacheLookup("miss")
	case c.IsValid(snap):
		c.metrics.CacheLookup("hit")
		return snap, true, nil
	default:
		c.metrics.CacheLookup("stale")
	}
	return snap, false, nil
}

// List returns every stored snapshot ordered by entity id.
func (c *Cache) List(ctx context.Context) ([]*model.MarketSnapshot, error) {
	recs, err := c.store.ListSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*model.MarketSnapshot, 0, len(recs))
	for _, rec := range recs {
		out = append(out, c.fromRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.EntityID < out[j].Key.EntityID })
	return out, nil
}

// Upsert merges fields into the snapshot for key, creating it if absent, and
// stamps LastUpdated, plus TechnicalsUpdated when the update carries any
// indicator. Unknown field names are ignored; values of the wrong type
// are logged and skipped. The merged snapshot is returned.
func (c *Cache) Upsert(ctx context.Context, key model.CacheKey, fields Fields) (*model.MarketSnapshot, error) {
	if key.EntityID == "" {
		return nil, fmt.Errorf("upsert: empty entity id")
	}
	unlock := c.lock(key.EntityID)
	defer unlock()

	snap, err := c.Get(ctx, key.EntityID)
	if err != nil {
		return nil, fmt.Errorf("upsert %s: %w", key.EntityID, err)
	}
	if snap == nil {
		snap = &model.MarketSnapshot{}
	}
	snap.Key = key

	log := c.log.WithFields(logrus.Fields{"entity_id": key.EntityID, "symbol": key.Symbol})
	for name, v := range fields {
		set, ok := fieldSetters[name]
		if !ok {
			log.WithField("field", name).Debug("ignoring unknown field")
			continue
		}
		if err := set(snap, v); err != nil {
			log.WithField("field", name).WithError(err).Warn("skipping field with wrong type")
		}
	}
	now := c.now().UTC()
	snap.LastUpdated = now
	if touchesTechnicals(fields) {
		snap.TechnicalsUpdated = now
	}

	if err := c.store.UpsertSnapshot(ctx, c.toRecord(snap, log)); err != nil {
		return nil, err
	}
	return snap, nil
}

// Delete removes the snapshot of an entity whose owning record was deleted.
func (c *Cache) Delete(ctx context.Context, entityID string) error {
	unlock := c.lock(entityID)
	defer unlock()
	return c.store.DeleteSnapshot(ctx, entityID)
}

func (c *Cache) lock(entityID string) func() {
	c.mu.Lock()
	l, ok := c.locks[entityID]
	if !ok {
		l = &keyLock{}
		c.locks[entityID] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, entityID)
		}
		c.mu.Unlock()
	}
}

func (c *Cache) toRecord(s *model.MarketSnapshot, log logrus.FieldLogger) *store.Record {
	rec := &store.Record{
		EntityID:          s.Key.EntityID,
		Symbol:            s.Key.Symbol,
		Quote:             s.Quote,
		Technicals:        s.Technicals,
		LastUpdated:       s.LastUpdated,
		TechnicalsUpdated: s.TechnicalsUpdated,
		Source:            s.Source,
	}
	var err error
	if rec.QuarterlyRevenue, err = encodeFinancials(s.QuarterlyRevenue); err != nil {
		log.WithField("field", "quarterly_revenue").WithError(err).Error("failed to serialize financials")
	}
	if rec.QuarterlyNetIncome, err = encodeFinancials(s.QuarterlyNetIncome); err != nil {
		log.WithField("field", "quarterly_net_income").WithError(err).Error("failed to serialize financials")
	}
	return rec
}

func (c *Cache) fromRecord(rec *store.Record) *model.MarketSnapshot {
	s := &model.MarketSnapshot{
		Key:               model.CacheKey{EntityID: rec.EntityID, Symbol: rec.Symbol},
		Quote:             rec.Quote,
		Technicals:        rec.Technicals,
		LastUpdated:       rec.LastUpdated,
		TechnicalsUpdated: rec.TechnicalsUpdated,
		Source:            rec.Source,
	}
	log := c.log.WithField("entity_id", rec.EntityID)
	var err error
	if s.QuarterlyRevenue, err = decodeFinancials(rec.QuarterlyRevenue); err != nil {
		log.WithField("field", "quarterly_revenue").WithError(err).Error("failed to deserialize financials")
	}
	if s.QuarterlyNetIncome, err = decodeFinancials(rec.QuarterlyNetIncome); err != nil {
		log.WithField("field", "quarterly_net_income").WithError(err).Error("failed to deserialize financials")
	}
	return s
}
