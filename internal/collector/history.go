package collector

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"PortfolioFeed/internal/metrics"
	"PortfolioFeed/internal/model"
)

// DefaultChunkDelay is the pause between consecutive sub-period requests.
const DefaultChunkDelay = 2 * time.Second

// ChunksFor maps a requested period to the increasing sub-periods fetched for it.
func ChunksFor(period string) []string {
	switch period {
	case "1y":
		return []string{"3mo", "6mo", "9mo", "1y"}
	case "5y":
		return []string{"1y", "2y", "3y", "4y", "5y"}
	default:
		return []string{period}
	}
}

// HistoryFetcher retrieves a long history as several smaller requests and
// merges them into one de-duplicated series.
type HistoryFetcher struct {
	fetcher    Fetcher
	retry      *RetryingFetcher
	chunkDelay time.Duration
	log        logrus.FieldLogger
	metrics    *metrics.Recorder

	sleep func(ctx context.Context, d time.Duration) error
}

// HistoryOption customizes a HistoryFetcher.
type HistoryOption func(*HistoryFetcher)

// WithChunkSleep replaces the function used to pause between sub-periods.
func WithChunkSleep(sleep func(ctx context.Context, d time.Duration) error) HistoryOption {
	return func(h *HistoryFetcher) { h.sleep = sleep }
}

// NewHistoryFetcher creates a HistoryFetcher over f, with every sub-period
// request going through retry.
func NewHistoryFetcher(f Fetcher, retry *RetryingFetcher, chunkDelay time.Duration, log logrus.FieldLogger, rec *metrics.Recorder, opts ...HistoryOption) *HistoryFetcher {
	h := &HistoryFetcher{
		fetcher:    f,
		retry:      retry,
		chunkDelay: chunkDelay,
		log:        log.WithField("component", "history"),
		metrics:    rec,
		sleep:      SleepContext,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// FetchHistory returns the merged series for period, sorted by date ascending.
// ok is false when no sub-period produced any data, which callers must treat
// as history being unavailable rather than as an empty series.
func (h *HistoryFetcher) FetchHistory(ctx context.Context, symbol, period string) (model.PriceSeries, bool) {
	chunks := ChunksFor(period)
	log := h.log.WithFields(logrus.Fields{"symbol": symbol, "period": period})

	var acc model.PriceSeries
	for i, chunk := range chunks {
		if i > 0 {
			if err := h.sleep(ctx, h.chunkDelay); err != nil {
				log.WithError(err).Warn("chunked history fetch interrupted")
				return nil, false
			}
		}

		series, ok := FetchWithRetry(ctx, h.retry, symbol, "history", func(ctx context.Context) (model.PriceSeries, error) {
			return h.fetcher.FetchHistory(ctx, symbol, chunk)
		})
		h.metrics.HistoryChunk(ok)
		if !ok {
			log.WithField("chunk", chunk).Warn("history chunk unavailable")
			continue
		}
		acc = MergeSeries(acc, series)
		log.WithFields(logrus.Fields{"chunk": chunk, "points": len(acc)}).Debug("merged history chunk")
	}

	if len(acc) == 0 {
		return nil, false
	}
	return acc, true
}

// MergeSeries adds the points of next whose calendar date is not already in acc
// and returns the result sorted by date. Earlier points win on duplicate dates.
func MergeSeries(acc, next model.PriceSeries) model.PriceSeries {
	seen := make(map[string]struct{}, len(acc)+len(next))
	merged := make(model.PriceSeries, 0, len(acc)+len(next))
	for _, series := range []model.PriceSeries{acc, next} {
		for _, p := range series {
			k := p.DateKey()
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			merged = append(merged, p)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Date.Before(merged[j].Date) })
	return merged
}
