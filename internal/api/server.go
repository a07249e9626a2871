// Package api exposes market data over HTTP for the portfolio UI and the
// export collaborators.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"PortfolioFeed/internal/availability"
	"PortfolioFeed/internal/marketdata"
	"PortfolioFeed/internal/metrics"
	"PortfolioFeed/internal/model"
	"PortfolioFeed/internal/signal"
)

// MarketData is the service surface the API serves.
type MarketData interface {
	GetMarketData(ctx context.Context, symbol, entityID string, forceRefresh bool) (*marketdata.Result, error)
	GetHistoricalPrices(ctx context.Context, symbol, period string) (model.PriceSeries, error)
	GetTechnicalIndicators(ctx context.Context, symbol, entityID string, forceRefresh bool) (*model.IndicatorResult, error)
	ClassifyAvailability(snap *model.MarketSnapshot) availability.Report
	Availability(ctx context.Context, entityID string) (*model.MarketSnapshot, availability.Report, error)
	DeleteEntity(ctx context.Context, entityID string) error
}

// Options configures a Server.
type Options struct {
	Addr              string
	RequestsPerSecond float64
	Burst             int
	Debug             bool
}

// Server is the HTTP front of the market data service.
type Server struct {
	engine  *gin.Engine
	http    *http.Server
	data    MarketData
	limiter *ClientLimiter
	log     logrus.FieldLogger
	metrics *metrics.Recorder
	// done is closed once Shutdown begins.
	done chan struct{}
}

// New creates a Server with its routes registered.
func New(data MarketData, opts Options, log logrus.FieldLogger, rec *metrics.Recorder) *Server {
	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		engine:  gin.New(),
		data:    data,
		limiter: NewClientLimiter(opts.RequestsPerSecond, opts.Burst),
		log:     log.WithField("component", "api"),
		metrics: rec,
		done:    make(chan struct{}),
	}
	s.engine.Use(gin.Recovery(), requestID(), accessLog(s.log, rec))
	s.setupRoutes()
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	var once sync.Once
	s.http.RegisterOnShutdown(func() { once.Do(func() { close(s.done) }) })
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	v1 := s.engine.Group("/api/v1", s.limiter.Middleware())
	v1.GET("/market/:symbol", s.getMarket)
	v1.GET("/history/:symbol", s.getHistory)
	v1.GET("/indicators/:symbol", s.getIndicators)
	v1.GET("/availability/:entity_id", s.getAvailability)
	v1.DELETE("/snapshots/:entity_id", s.deleteSnapshot)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.log.WithField("addr", s.http.Addr).Info("http server listening")
	go s.cleanupLoop()
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.limiter.Cleanup(now)
		}
	}
}

type marketResponse struct {
	*marketdata.Result
	Availability availability.Report `json:"availability"`
	Flags        signal.Flags        `json:"flags"`
	Alerts       []signal.Alert      `json:"alerts"`
}

func (s *Server) getMarket(c *gin.Context) {
	force, _ := strconv.ParseBool(c.Query("force"))
	res, err := s.data.GetMarketData(c.Request.Context(), c.Param("symbol"), c.Query("entity_id"), force)
	if err != nil {
		s.fail(c, err)
		return
	}
	sig := signal.Evaluate(res.Snapshot)
	c.JSON(http.StatusOK, marketResponse{
		Result:       res,
		Availability: s.data.ClassifyAvailability(res.Snapshot),
		Flags:        sig.Flags,
		Alerts:       sig.Alerts,
	})
}

func (s *Server) getHistory(c *gin.Context) {
	period := c.Query("period")
	series, err := s.data.GetHistoricalPrices(c.Request.Context(), c.Param("symbol"), period)
	if err != nil {
		s.fail(c, err)
		return
	}
	if period == "" {
		period = marketdata.IndicatorPeriod
	}
	c.JSON(http.StatusOK, gin.H{"period": period, "prices": series})
}

func (s *Server) getIndicators(c *gin.Context) {
	force, _ := strconv.ParseBool(c.Query("force"))
	res, err := s.data.GetTechnicalIndicators(c.Request.Context(), c.Param("symbol"), c.Query("entity_id"), force)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) getAvailability(c *gin.Context) {
	snap, report, err := s.data.Availability(c.Request.Context(), c.Param("entity_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if snap == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no data", "availability": report})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": snap.Key, "availability": report})
}

func (s *Server) deleteSnapshot(c *gin.Context) {
	if err := s.data.DeleteEntity(c.Request.Context(), c.Param("entity_id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// fail maps service errors onto status codes.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, marketdata.ErrNoData):
		c.JSON(http.StatusNotFound, gin.H{"error": "no data"})
	case errors.Is(err, marketdata.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.log.WithError(err).WithField("path", c.Request.URL.Path).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
