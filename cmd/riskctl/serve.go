package main

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ducminhle1904/risk-control-plane/internal/api"
	"github.com/ducminhle1904/risk-control-plane/internal/executor"
	"github.com/ducminhle1904/risk-control-plane/internal/monitoring"
)

func serveCmd(open opener) *cobra.Command {
	var (
		addr       string
		symbols    string
		assetClass string
		refresh    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API and refresh volatility regimes on a schedule",
		Long: `Run the admin API (health, metrics, breakers, profiles, executor state)
and periodically classify the volatility regime of each symbol from
hourly Bybit bars.

Examples:
  riskctl serve
  riskctl serve --addr :9090 --symbols BTCUSDT,ETHUSDT --refresh 15m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if addr == "" {
				addr = a.cfg.HTTPAddr
			}
			return runServe(cmd.Context(), a, addr, splitList(symbols), assetClass, refresh)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default HTTP_ADDR)")
	cmd.Flags().StringVar(&symbols, "symbols", "BTCUSDT,ETHUSDT", "comma-separated symbols to track")
	cmd.Flags().StringVar(&assetClass, "asset-class", "crypto", "asset class used to scale volatility thresholds")
	cmd.Flags().DurationVar(&refresh, "refresh", 15*time.Minute, "volatility refresh interval")
	return cmd
}

func runServe(ctx context.Context, a *app, addr string, symbols []string, assetClass string, refresh time.Duration) error {
	metrics := monitoring.NewMetrics()
	a.breaker.SetStateChangeCallback(metrics.BreakerChanged)
	metrics.SyncBreakers(a.breaker.Snapshot())
	health := monitoring.NewHealthChecker(a.breaker)

	client := a.bybitClient()
	exec, err := executor.New(executor.Options{
		Config:     a.cfg.Executor,
		Breaker:    a.breaker,
		Limits:     a.risk,
		MarketData: client,
		Gateway:    client,
		Metrics:    metrics,
		Logger:     a.log.With("executor"),
	})
	if err != nil {
		return err
	}

	server := api.NewServer(addr, api.Dependencies{
		Breakers: a.breaker,
		Profiles: a.risk,
		Executor: exec,
		Health:   health,
		Metrics:  metrics.Handler(),
		Logger:   a.log,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	a.log.Info("risk control plane started on %s (%s, profile %s)", addr, client.Environment(), a.cfg.Profiles.Active)

	refreshAll := func() {
		for _, symbol := range symbols {
			decision, err := exec.RefreshVolatility(ctx, symbol, assetClass)
			if err != nil {
				health.RecordError(err)
				a.log.Warning("volatility refresh for %s failed: %v", symbol, err)
				continue
			}
			metrics.VolatilityObserved(decision)
		}
		metrics.SyncBreakers(a.breaker.Snapshot())
	}
	refreshAll()

	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

	for {
		select {
		case err := <-errCh:
			return err
		case <-ticker.C:
			refreshAll()
		case <-ctx.Done():
			a.log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			err := server.Shutdown(shutdownCtx)
			exec.Wait()
			return err
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.ToUpper(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
