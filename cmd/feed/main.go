// feed serves portfolio market data: cached quotes, price history and
// technical indicators, refreshed in the background.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"PortfolioFeed/internal/api"
	"PortfolioFeed/internal/availability"
	"PortfolioFeed/internal/notifier"
	"PortfolioFeed/internal/scheduler"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "feed",
		Short: "Portfolio market data feed",
		Long: `feed fetches quotes, price history and technical indicators for
portfolio positions, caches them per position and serves them over HTTP.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (defaults to CONFIG_PATH, then configs/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(quoteCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(indicatorsCmd())
	rootCmd.AddCommand(statusCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var runOnStart bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the watchlist refresher and Telegram alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			a.log.Info("PortfolioFeed starting...")

			ctx := cmd.Context()

			var n notifier.Notifier = notifier.NewNoopNotifier(a.log)
			var tn *notifier.TelegramNotifier
			if a.cfg.TelegramEnabled() {
				tn = notifier.NewTelegramNotifier(a.cfg.Telegram.BotToken, a.cfg.Telegram.ChatID, a.cfg.Upstream.Proxy, a.log)
				n = tn
			}

			watch := make([]scheduler.Entry, 0, len(a.cfg.Watchlist))
			for _, w := range a.cfg.Watchlist {
				watch = append(watch, scheduler.Entry{EntityID: w.EntityID, Symbol: w.Symbol})
			}
			sched := scheduler.New(a.service, n, watch, scheduler.Options{
				RefreshCron:     a.cfg.Schedule.RefreshCron,
				MarketHoursOnly: a.cfg.Schedule.MarketHoursOnly,
				Concurrency:     a.cfg.Schedule.Concurrency,
			}, a.log, a.metrics)
			if err := sched.Register(ctx); err != nil {
				return err
			}
			sched.Start()
			defer sched.Stop()

			if tn != nil {
				go tn.StartPolling(ctx, sched.HandleCommand)
				a.log.Info("telegram polling started")
			}
			if runOnStart || os.Getenv("RUN_ON_START") == "true" {
				go sched.RefreshAll(ctx)
			}

			srv := api.New(a.service, api.Options{
				Addr:              a.cfg.Server.Addr,
				RequestsPerSecond: a.cfg.Server.RequestsPerSecond,
				Burst:             a.cfg.Server.Burst,
				Debug:             verbose,
			}, a.log, a.metrics)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			a.log.Info("shutdown signal received, stopping...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.log.WithError(err).Error("http shutdown")
			}
			a.log.Info("PortfolioFeed stopped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&runOnStart, "run-on-start", false, "Refresh the watchlist immediately")
	return cmd
}

func quoteCmd() *cobra.Command {
	var (
		entityID string
		force    bool
	)
	cmd := &cobra.Command{
		Use:   "quote SYMBOL",
		Short: "Print the market snapshot of a symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.service.GetMarketData(cmd.Context(), args[0], entityID, force)
			if err != nil {
				return err
			}
			return printJSON(struct {
				Result       any                 `json:"result"`
				Availability availability.Report `json:"availability"`
			}{res, a.service.ClassifyAvailability(res.Snapshot)})
		},
	}
	cmd.Flags().StringVarP(&entityID, "entity", "e", "", "Owning entity id; enables caching")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Bypass the cache")
	return cmd
}

func historyCmd() *cobra.Command {
	var period string
	cmd := &cobra.Command{
		Use:   "history SYMBOL",
		Short: "Print daily price history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			series, err := a.service.GetHistoricalPrices(cmd.Context(), args[0], period)
			if err != nil {
				return err
			}
			return printJSON(series)
		},
	}
	cmd.Flags().StringVarP(&period, "period", "p", "1y", "History period (1d 5d 1mo 3mo 6mo 1y 2y 5y 10y ytd max)")
	return cmd
}

func indicatorsCmd() *cobra.Command {
	var (
		entityID string
		force    bool
	)
	cmd := &cobra.Command{
		Use:   "indicators SYMBOL",
		Short: "Print RSI, MACD and moving averages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.service.GetTechnicalIndicators(cmd.Context(), args[0], entityID, force)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	cmd.Flags().StringVarP(&entityID, "entity", "e", "", "Owning entity id; enables caching")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Recompute even when cached technicals are fresh")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print every cached snapshot with its data availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			snaps, err := a.service.Snapshots(cmd.Context())
			if err != nil {
				return err
			}
			type row struct {
				EntityID     string              `json:"entity_id"`
				Symbol       string              `json:"symbol"`
				LastUpdated  time.Time           `json:"last_updated"`
				Availability availability.Report `json:"availability"`
			}
			rows := make([]row, 0, len(snaps))
			for _, s := range snaps {
				rows = append(rows, row{s.Key.EntityID, s.Key.Symbol, s.LastUpdated, a.service.ClassifyAvailability(s)})
			}
			return printJSON(rows)
		},
	}
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
