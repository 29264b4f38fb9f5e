package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ducminhle1904/risk-control-plane/internal/executor"
	"github.com/ducminhle1904/risk-control-plane/internal/monitoring"
	"github.com/ducminhle1904/risk-control-plane/internal/reporting"
)

func executeCmd(open opener) *cobra.Command {
	var (
		signal    executor.Signal
		action    string
		portfolio executor.StaticPortfolio
		monitor   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Validate and execute one signal against Bybit",
		Long: `Run one signal through validation, sizing and order creation. Protective
children are monitored for --monitor before the command returns.

Examples:
  riskctl execute --symbol BTCUSDT --action buy --price 64000 --confidence 0.8 \
    --portfolio-value 10000 --stop-loss 62000 --take-profit 68000 --monitor 5m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if signal.Action, err = executor.ParseAction(action); err != nil {
				return err
			}
			signal.Symbol = strings.ToUpper(strings.TrimSpace(signal.Symbol))
			signal.CreatedAt = time.Now()

			client := a.bybitClient()
			exec, err := executor.New(executor.Options{
				Config:     a.cfg.Executor,
				Breaker:    a.breaker,
				Limits:     a.risk,
				MarketData: client,
				Gateway:    client,
				Metrics:    monitoring.NewMetrics(),
				Logger:     a.log.With("executor"),
			})
			if err != nil {
				return err
			}

			// Children are monitored under ctx; it is cancelled once --monitor elapses.
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			result, err := exec.Execute(ctx, signal, portfolio)
			if err != nil {
				return err
			}
			if monitor > 0 && len(result.Children) > 0 {
				stop := time.AfterFunc(monitor, cancel)
				defer stop.Stop()
			} else {
				cancel()
			}
			out := cmd.OutOrStdout()
			if !result.Validation.Valid {
				fmt.Fprintf(out, "rejected [%s]: %s\n", result.Validation.Code, result.Validation.Reason)
				return nil
			}

			fmt.Fprintf(out, "order %s %s %s %.8f @ %.8f %s\n", result.Order.ID, result.Order.Side, result.Order.Symbol,
				result.Order.Quantity, result.Order.Price, result.Order.Status)
			for _, c := range result.Children {
				fmt.Fprintf(out, "  child %s %s @ %.8f\n", c.ID, c.Type, c.Price)
			}

			exec.Wait()
			reporting.PrintPositions(out, exec.Positions())
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&signal.Symbol, "symbol", "", "trading symbol")
	f.StringVar(&action, "action", "buy", "buy, sell or hold")
	f.StringVar(&signal.StrategyID, "strategy", "manual", "strategy id used for strategy-scoped breakers")
	f.Float64Var(&signal.Confidence, "confidence", 1, "signal confidence in [0, 1]")
	f.Float64Var(&signal.Price, "price", 0, "reference price for slippage and sizing")
	f.Float64Var(&signal.Quantity, "quantity", 0, "order quantity (0 sizes from the profile)")
	f.Float64Var(&signal.StopLoss, "stop-loss", 0, "protective stop price")
	f.Float64Var(&signal.TakeProfit, "take-profit", 0, "take-profit limit price")
	f.StringVar(&signal.AssetClass, "asset-class", "crypto", "asset class")
	f.Float64Var(&portfolio.Value, "portfolio-value", 0, "total portfolio value")
	f.Float64Var(&portfolio.Drawdown, "drawdown", 0, "current daily drawdown as a fraction")
	f.IntVar(&portfolio.TradeCount, "trades-today", 0, "trades already placed today")
	f.DurationVar(&monitor, "monitor", 0, "how long to monitor protective orders")
	cmd.MarkFlagRequired("symbol")
	cmd.MarkFlagRequired("price")
	cmd.MarkFlagRequired("portfolio-value")
	return cmd
}
