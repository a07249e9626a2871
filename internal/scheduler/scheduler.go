package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"PortfolioFeed/internal/marketdata"
	"PortfolioFeed/internal/metrics"
	"PortfolioFeed/internal/model"
	"PortfolioFeed/internal/notifier"
	"PortfolioFeed/internal/signal"
)

// DefaultRefreshCron refreshes every 15 minutes, on the minute.
const DefaultRefreshCron = "0 */15 * * * *"

// Entry is one watched position.
type Entry struct {
	EntityID string
	Symbol   string
}

// MarketData is the part of marketdata.Service the scheduler drives.
type MarketData interface {
	GetMarketData(ctx context.Context, symbol, entityID string, forceRefresh bool) (*marketdata.Result, error)
	GetTechnicalIndicators(ctx context.Context, symbol, entityID string, forceRefresh bool) (*model.IndicatorResult, error)
	Snapshots(ctx context.Context) ([]*model.MarketSnapshot, error)
}

// Options configures a Scheduler.
type Options struct {
	RefreshCron     string
	MarketHoursOnly bool
	Concurrency     int
}

// Scheduler refreshes the watchlist in the background and reports new signals.
type Scheduler struct {
	cron     *cron.Cron
	data     MarketData
	notifier notifier.Notifier
	hours    *MarketHours
	watch    []Entry
	opts     Options
	log      logrus.FieldLogger
	metrics  *metrics.Recorder
	now      func() time.Time

	mu     sync.Mutex
	alerts map[string][]signal.Alert
}

// New creates a Scheduler. Concurrency below 1 means one refresh at a time.
func New(data MarketData, n notifier.Notifier, watch []Entry, opts Options, log logrus.FieldLogger, rec *metrics.Recorder) *Scheduler {
	if opts.RefreshCron == "" {
		opts.RefreshCron = DefaultRefreshCron
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if n == nil {
		n = notifier.NewNoopNotifier(log)
	}
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		data:     data,
		notifier: n,
		hours:    NewMarketHours(),
		watch:    watch,
		opts:     opts,
		log:      log.WithField("component", "scheduler"),
		metrics:  rec,
		now:      time.Now,
		alerts:   make(map[string][]signal.Alert),
	}
}

// Register adds the watchlist refresh job.
func (s *Scheduler) Register(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.opts.RefreshCron, func() { s.RefreshAll(ctx) }); err != nil {
		return fmt.Errorf("register refresh task: %w", err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.WithFields(logrus.Fields{
		"cron":    s.opts.RefreshCron,
		"symbols": len(s.watch),
	}).Info("scheduler started")
}

// Stop stops the cron and waits for a running refresh to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// RefreshAll refreshes every watched entry, skipping closed markets when
// configured to. Alerts raised by the refresh are sent as one message.
func (s *Scheduler) RefreshAll(ctx context.Context) {
	start := s.now()
	var (
		mu     sync.Mutex
		raised []signal.Alert
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for _, e := range s.watch {
		if s.opts.MarketHoursOnly && !s.hours.IsOpen(e.Symbol, start) {
			s.log.WithField("symbol", e.Symbol).Debug("market closed, skipping refresh")
			continue
		}
		g.Go(func() error {
			alerts, err := s.refresh(gctx, e)
			s.metrics.Refresh(err == nil)
			if err != nil {
				// One failed symbol must not cancel the others.
				return nil
			}
			mu.Lock()
			raised = append(raised, alerts...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	s.log.WithField("duration", s.now().Sub(start)).Info("watchlist refresh finished")
	if len(raised) == 0 {
		return
	}
	if err := s.notifier.Notify(ctx, notifier.FormatAlerts(raised, s.now())); err != nil {
		s.log.WithError(err).Error("send alerts")
		return
	}
	for range raised {
		s.metrics.AlertSent()
	}
}

// refresh updates one entry and returns the alerts it had not raised before.
func (s *Scheduler) refresh(ctx context.Context, e Entry) ([]signal.Alert, error) {
	log := s.log.WithFields(logrus.Fields{"symbol": e.Symbol, "entity_id": e.EntityID})

	res, err := s.data.GetMarketData(ctx, e.Symbol, e.EntityID, true)
	if err != nil {
		log.WithError(err).Warn("refresh market data failed")
		return nil, err
	}
	if res.Stale {
		log.Warn("refresh served stale data")
		return nil, marketdata.ErrNoData
	}

	ind, err := s.data.GetTechnicalIndicators(ctx, e.Symbol, e.EntityID, true)
	if err != nil {
		log.WithError(err).Warn("refresh indicators failed")
		return nil, err
	}

	snap := *res.Snapshot
	snap.Technicals = ind.Technicals
	cur := signal.Evaluate(&snap).Alerts

	s.mu.Lock()
	defer s.mu.Unlock()
	fresh := signal.Unseen(s.alerts[e.EntityID], cur)
	s.alerts[e.EntityID] = cur
	return fresh, nil
}

// HandleCommand processes a chat command and returns the reply.
func (s *Scheduler) HandleCommand(ctx context.Context, command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return helpText
	}
	switch strings.ToLower(fields[0]) {
	case "/status":
		snaps, err := s.data.Snapshots(ctx)
		if err != nil {
			s.log.WithError(err).Error("list snapshots")
			return "Status unavailable."
		}
		return notifier.FormatStatus(snaps, s.now())
	case "/quote":
		if len(fields) < 2 {
			return "Usage: /quote SYMBOL"
		}
		symbol := strings.ToUpper(fields[1])
		res, err := s.data.GetMarketData(ctx, symbol, "", false)
		if errors.Is(err, marketdata.ErrNoData) {
			return fmt.Sprintf("No data for %s.", symbol)
		}
		if err != nil {
			return "Usage: /quote SYMBOL"
		}
		return notifier.FormatQuote(res.Snapshot, res.Stale)
	default:
		return helpText
	}
}

const helpText = "Available commands:\n• /status\n• /quote SYMBOL"
