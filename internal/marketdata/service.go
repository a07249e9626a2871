package marketdata

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"PortfolioFeed/internal/availability"
	"PortfolioFeed/internal/cache"
	"PortfolioFeed/internal/calculator"
	"PortfolioFeed/internal/collector"
	"PortfolioFeed/internal/metrics"
	"PortfolioFeed/internal/model"
)

var (
	// ErrNoData is the explicit "nothing available" outcome. Callers treat it
	// like a cache miss, not as a failure of the service.
	ErrNoData = errors.New("no data")
	// ErrInvalidArgument marks a programming error by the caller.
	ErrInvalidArgument = errors.New("invalid argument")
)

// IndicatorPeriod is the history window technical indicators are computed over.
const IndicatorPeriod = "1y"

// Origin tells where a returned snapshot came from.
type Origin string

const (
	OriginFresh    Origin = "fresh"
	OriginCache    Origin = "cache"
	OriginFallback Origin = "fallback"
)

// Result is a snapshot together with how it was obtained.
type Result struct {
	Snapshot *model.MarketSnapshot `json:"snapshot"`
	Origin   Origin                `json:"origin"`
	// Stale is set when the refresh failed and the last stored snapshot was served instead.
	Stale bool `json:"stale"`
}

// Service is the public entry point for market data: cache-aware quotes,
// chunked history and technical indicators. Fetches block on rate limiting and
// backoff, so interactive callers should run them off the latency-sensitive path.
type Service struct {
	fetcher collector.Fetcher
	retry   *collector.RetryingFetcher
	history *collector.HistoryFetcher
	cache   *cache.Cache
	group   singleflight.Group
	log     logrus.FieldLogger
	metrics *metrics.Recorder
	now     func() time.Time
}

// New creates a Service. retry and history must wrap the same fetcher.
func New(f collector.Fetcher, retry *collector.RetryingFetcher, history *collector.HistoryFetcher, c *cache.Cache, log logrus.FieldLogger, rec *metrics.Recorder) *Service {
	return &Service{
		fetcher: f,
		retry:   retry,
		history: history,
		cache:   c,
		log:     log.WithField("component", "marketdata"),
		metrics: rec,
		now:     time.Now,
	}
}

func normalizeSymbol(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return "", fmt.Errorf("%w: empty symbol", ErrInvalidArgument)
	}
	return s, nil
}

// GetMarketData returns the snapshot for symbol. With an entityID the result is
// served from cache while fresh, refreshed and written back otherwise, and
// falls back to the last stored snapshot when the refresh fails. Without an
// entityID nothing is cached. ErrNoData means nothing could be served.
func (s *Service) GetMarketData(ctx context.Context, symbol, entityID string, forceRefresh bool) (*Result, error) {
	symbol, err := normalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	log := s.log.WithFields(logrus.Fields{"symbol": symbol, "entity_id": entityID})

	if entityID != "" && !forceRefresh {
		snap, fresh, err := s.cache.Lookup(ctx, entityID)
		if err != nil {
			log.WithError(err).Warn("cache read failed, fetching fresh data")
		} else if fresh {
			return &Result{Snapshot: snap, Origin: OriginCache}, nil
		}
	}

	snap, err := s.refresh(ctx, model.CacheKey{EntityID: entityID, Symbol: symbol})
	if err == nil {
		return &Result{Snapshot: snap, Origin: OriginFresh}, nil
	}
	log.WithError(err).Warn("fresh fetch failed")
	return s.fallback(ctx, entityID, log)
}

// refresh fetches quote and financials once per key, however many callers ask concurrently.
func (s *Service) refresh(ctx context.Context, key model.CacheKey) (*model.MarketSnapshot, error) {
	ch := s.group.DoChan("quote|"+key.String(), func() (any, error) {
		// The shared fetch outlives any single caller's cancellation.
		return s.fetchSnapshot(context.WithoutCancel(ctx), key)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.MarketSnapshot), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) fetchSnapshot(ctx context.Context, key model.CacheKey) (*model.MarketSnapshot, error) {
	quote, ok := collector.FetchWithRetry(ctx, s.retry, key.Symbol, "quote", func(ctx context.Context) (*model.Quote, error) {
		return s.fetcher.FetchQuote(ctx, key.Symbol)
	})
	if !ok || quote == nil {
		return nil, ErrNoData
	}

	// Financials are optional: a failure leaves the category absent.
	fin, _ := collector.FetchWithRetry(ctx, s.retry, key.Symbol, "financials", func(ctx context.Context) (*model.QuarterlyFinancials, error) {
		return s.fetcher.FetchFinancials(ctx, key.Symbol)
	})

	fields := cache.Merge(cache.QuoteFields(quote), cache.FinancialFields(fin), cache.Fields{"source": s.fetcher.Name()})
	if key.EntityID != "" {
		snap, err := s.cache.Upsert(ctx, key, fields)
		if err == nil {
			return snap, nil
		}
		s.log.WithFields(logrus.Fields{"symbol": key.Symbol, "entity_id": key.EntityID}).
			WithError(err).Error("failed to cache market data")
	}

	snap := &model.MarketSnapshot{
		Key:         key,
		Quote:       *quote,
		LastUpdated: s.now().UTC(),
		Source:      s.fetcher.Name(),
	}
	if fin != nil {
		snap.QuarterlyRevenue = fin.Revenue
		snap.QuarterlyNetIncome = fin.NetIncome
	}
	return snap, nil
}

// fallback serves the last stored snapshot, however old, after a failed refresh.
func (s *Service) fallback(ctx context.Context, entityID string, log logrus.FieldLogger) (*Result, error) {
	if entityID == "" {
		return nil, ErrNoData
	}
	snap, err := s.cache.Get(ctx, entityID)
	if err != nil {
		log.WithError(err).Error("cache read failed during fallback")
		return nil, ErrNoData
	}
	if snap == nil {
		return nil, ErrNoData
	}
	s.metrics.StaleFallback()
	log.WithField("last_updated", snap.LastUpdated).Warn("serving stale market data")
	return &Result{Snapshot: snap, Origin: OriginFallback, Stale: true}, nil
}

// GetHistoricalPrices returns the merged daily series for period.
func (s *Service) GetHistoricalPrices(ctx context.Context, symbol, period string) (model.PriceSeries, error) {
	symbol, err := normalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if period == "" {
		period = IndicatorPeriod
	}
	if !collector.IsValidPeriod(period) {
		return nil, fmt.Errorf("%w: unknown period %q", ErrInvalidArgument, period)
	}

	series, ok := s.history.FetchHistory(ctx, symbol, period)
	if !ok {
		return nil, ErrNoData
	}
	return series, nil
}

// GetTechnicalIndicators returns the entity's cached technicals while they
// were computed less than TTL ago; otherwise, or with forceRefresh, it
// recomputes from a freshly fetched year of history and writes them back.
// Quote refreshes do not extend the life of cached technicals.
func (s *Service) GetTechnicalIndicators(ctx context.Context, symbol, entityID string, forceRefresh bool) (*model.IndicatorResult, error) {
	symbol, err := normalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	log := s.log.WithFields(logrus.Fields{"symbol": symbol, "entity_id": entityID})

	if entityID != "" && !forceRefresh {
		snap, err := s.cache.Get(ctx, entityID)
		if err != nil {
			log.WithError(err).Warn("cache read failed, recomputing indicators")
		} else if s.cache.TechnicalsValid(snap) && snap.Key.Symbol == symbol {
			return cachedIndicators(snap), nil
		}
	}

	key := model.CacheKey{EntityID: entityID, Symbol: symbol}
	ch := s.group.DoChan("indicators|"+key.String(), func() (any, error) {
		return s.computeIndicators(context.WithoutCancel(ctx), key)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.IndicatorResult), nil
	case <-ctx.Done():
		log.WithError(ctx.Err()).Warn("gave up waiting for indicators")
		return nil, ErrNoData
	}
}

func cachedIndicators(snap *model.MarketSnapshot) *model.IndicatorResult {
	res := &model.IndicatorResult{
		Technicals: snap.Technicals,
		AsOf:       snap.TechnicalsUpdated,
		High52w:    snap.FiftyTwoWeekHigh,
		Low52w:     snap.FiftyTwoWeekLow,
		Cached:     true,
	}
	if snap.CurrentPrice.Valid && res.High52w.Valid && res.Low52w.Valid {
		pos := calculator.RangePosition(snap.CurrentPrice.Float64, res.High52w.Float64, res.Low52w.Float64)
		if !math.IsNaN(pos) {
			res.Position52w = null.FloatFrom(pos)
		}
	}
	return res
}

func (s *Service) computeIndicators(ctx context.Context, key model.CacheKey) (*model.IndicatorResult, error) {
	series, ok := s.history.FetchHistory(ctx, key.Symbol, IndicatorPeriod)
	if !ok {
		return nil, ErrNoData
	}
	res := calculator.Compute(series)

	if key.EntityID != "" {
		if _, err := s.cache.Upsert(ctx, key, cache.TechnicalFields(res.Technicals)); err != nil {
			s.log.WithFields(logrus.Fields{"symbol": key.Symbol, "entity_id": key.EntityID}).
				WithError(err).Error("failed to cache indicators")
		}
	}
	return &res, nil
}

// ClassifyAvailability reports which data categories snap holds.
func (s *Service) ClassifyAvailability(snap *model.MarketSnapshot) availability.Report {
	return availability.Classify(snap)
}

// Availability classifies the stored snapshot of an entity without fetching.
func (s *Service) Availability(ctx context.Context, entityID string) (*model.MarketSnapshot, availability.Report, error) {
	if entityID == "" {
		return nil, availability.Report{}, fmt.Errorf("%w: empty entity id", ErrInvalidArgument)
	}
	snap, err := s.cache.Get(ctx, entityID)
	if err != nil {
		return nil, availability.Report{}, err
	}
	return snap, availability.Classify(snap), nil
}

// Snapshots lists every stored snapshot.
func (s *Service) Snapshots(ctx context.Context) ([]*model.MarketSnapshot, error) {
	return s.cache.List(ctx)
}

// DeleteEntity drops the snapshot of a deleted owning record.
func (s *Service) DeleteEntity(ctx context.Context, entityID string) error {
	if entityID == "" {
		return fmt.Errorf("%w: empty entity id", ErrInvalidArgument)
	}
	if err := s.cache.Delete(ctx, entityID); err != nil {
		return err
	}
	s.log.WithField("entity_id", entityID).Info("market data deleted")
	return nil
}
