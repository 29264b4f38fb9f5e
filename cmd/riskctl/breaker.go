package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ducminhle1904/risk-control-plane/internal/breaker"
	"github.com/ducminhle1904/risk-control-plane/internal/reporting"
)

func breakerCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "breaker",
		Short: "Inspect, trip and reset circuit breakers",
	}
	cmd.AddCommand(breakerListCmd(open), breakerTripCmd(open), breakerResetCmd(open), breakerVolatilityCmd(open))
	return cmd
}

func breakerListCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show tripped breakers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			reporting.PrintBreakers(cmd.OutOrStdout(), a.breaker.Snapshot(), time.Now())
			allowed, status := a.breaker.Check("")
			fmt.Fprintf(cmd.OutOrStdout(), "trading allowed: %t (system status %s)\n", allowed, status)
			return nil
		},
	}
}

func breakerTripCmd(open opener) *cobra.Command {
	var (
		reason     string
		scope      string
		status     string
		resetAfter time.Duration
	)

	cmd := &cobra.Command{
		Use:   "trip <type>",
		Short: "Trip a breaker",
		Long: `Trip a breaker of the given type. Types: volatility, daily_loss, strategy,
correlation, api_failure, liquidity, execution_failure, manual, system.

Examples:
  riskctl breaker trip manual --reason "exchange maintenance"
  riskctl breaker trip strategy --scope ma-cross --status RESTRICTED --reason "losing streak"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := breaker.ParseBreakerType(args[0])
			if err != nil {
				return err
			}
			opts := []breaker.TripOption{breaker.WithScope(scope)}
			if status != "" {
				s, err := breaker.ParseStatus(status)
				if err != nil {
					return err
				}
				if s == breaker.StatusClosed {
					return fmt.Errorf("cannot trip a breaker to %s; use reset", s)
				}
				opts = append(opts, breaker.WithStatus(s))
			}
			if cmd.Flags().Changed("reset-after") {
				opts = append(opts, breaker.WithResetAfter(resetAfter))
			}

			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			rec := a.breaker.Trip(t, reason, opts...)
			fmt.Fprintf(cmd.OutOrStdout(), "%s tripped to %s\n", rec.Key(), rec.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "why the breaker is tripped")
	cmd.Flags().StringVar(&scope, "scope", "", "symbol or strategy id (empty for global)")
	cmd.Flags().StringVar(&status, "status", "", "CAUTIOUS, RESTRICTED, HALF_OPEN or OPEN (default OPEN)")
	cmd.Flags().DurationVar(&resetAfter, "reset-after", 0, "auto-reset cooldown (0 disables, default per type)")
	cmd.MarkFlagRequired("reason")
	return cmd
}

func breakerResetCmd(open opener) *cobra.Command {
	var scope string

	cmd := &cobra.Command{
		Use:   "reset <type>",
		Short: "Ease a breaker by one severity level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := breaker.ParseBreakerType(args[0])
			if err != nil {
				return err
			}

			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			status, found := a.breaker.Reset(t, scope)
			if !found {
				return fmt.Errorf("breaker %s is not tripped", breaker.Key(t, scope))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s eased to %s\n", breaker.Key(t, scope), status)
			return nil
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "", "symbol or strategy id (empty for global)")
	return cmd
}

func breakerVolatilityCmd(open opener) *cobra.Command {
	var (
		level      string
		value      float64
		assetClass string
	)

	cmd := &cobra.Command{
		Use:   "volatility <scope>",
		Short: "Feed one volatility sample for a symbol",
		Long: `Record a volatility sample for scope and apply the resulting regime to its
volatility breaker. Give either a regime with --level (low, normal, high, extreme)
or a return stddev with --value, optionally scaled by --asset-class.

Examples:
  riskctl breaker volatility BTCUSDT --level extreme
  riskctl breaker volatility EURUSD --value 0.012 --asset-class forex`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sample := breaker.LevelUnknown
			if level != "" {
				l, err := breaker.ParseVolatilityLevel(level)
				if err != nil {
					return err
				}
				sample = l
			} else if value <= 0 {
				return fmt.Errorf("either --level or a positive --value is required")
			}

			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			d := a.breaker.ProcessVolatility(sample, value, args[0], assetClass)
			fmt.Fprintf(cmd.OutOrStdout(), "%s regime %s (sample %s, %.0f%% of window): status %s, size multiplier %.2f\n",
				breaker.Key(breaker.TypeVolatility, d.Scope), d.Effective, d.Sample, d.Share*100, d.Status, d.Multiplier)
			return nil
		},
	}

	cmd.Flags().StringVar(&level, "level", "", "volatility regime: low, normal, high or extreme")
	cmd.Flags().Float64Var(&value, "value", 0, "return standard deviation to classify")
	cmd.Flags().StringVar(&assetClass, "asset-class", "", "asset class used to scale thresholds (crypto, forex, options)")
	return cmd
}
