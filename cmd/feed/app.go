package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"PortfolioFeed/internal/cache"
	"PortfolioFeed/internal/collector"
	"PortfolioFeed/internal/config"
	"PortfolioFeed/internal/marketdata"
	"PortfolioFeed/internal/metrics"
	"PortfolioFeed/internal/store"
)

// app holds the components shared by every command.
type app struct {
	cfg     *config.Config
	log     *logrus.Logger
	metrics *metrics.Recorder
	store   store.Store
	service *marketdata.Service
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		return v
	}
	return config.DefaultPath
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, err
	}

	rec := metrics.New()

	st, err := store.Open(cfg.Database.Driver, cfg.Database.SQLitePath, cfg.Database.PostgresDSN, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var fetcher collector.Fetcher
	switch cfg.Upstream.Provider {
	case "mock":
		fetcher = &collector.MockFetcher{}
	default:
		fetcher = collector.NewYahooFetcher(cfg.Upstream.BaseURL, cfg.Upstream.Proxy, cfg.Upstream.Timeout)
	}
	logger.WithField("provider", fetcher.Name()).Info("data source selected")

	limiter := collector.NewRateLimiter(cfg.Fetch.MinInterval, cfg.Fetch.MaxJitter, rec)
	retry := collector.NewRetryingFetcher(limiter, collector.RetryConfig{
		MaxRetries: cfg.Fetch.MaxRetries,
		BaseDelay:  cfg.Fetch.BaseDelay,
		MaxJitter:  cfg.Fetch.MaxJitter,
	}, fetcher.Name(), logger, rec)
	history := collector.NewHistoryFetcher(fetcher, retry, cfg.Fetch.ChunkDelay, logger, rec)
	c := cache.New(st, cfg.Cache.TTL, logger, rec)

	return &app{
		cfg:     cfg,
		log:     logger,
		metrics: rec,
		store:   st,
		service: marketdata.New(fetcher, retry, history, c, logger, rec),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.WithError(err).Error("close store")
	}
}
