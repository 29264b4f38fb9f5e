package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ducminhle1904/risk-control-plane/internal/breaker"
	"github.com/ducminhle1904/risk-control-plane/internal/config"
	"github.com/ducminhle1904/risk-control-plane/internal/exchange/bybit"
	"github.com/ducminhle1904/risk-control-plane/internal/logger"
	"github.com/ducminhle1904/risk-control-plane/internal/riskconfig"
	"github.com/ducminhle1904/risk-control-plane/internal/storage/postgres"
)

// opener builds the shared components for a command
type opener func(cmd *cobra.Command) (*app, error)

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "riskctl",
		Short:         "Risk control plane: circuit breakers, risk profiles and trade execution",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env", ".env", "environment file to load before the process environment")

	open := func(cmd *cobra.Command) (*app, error) {
		return newApp(cmd.Context(), envFile)
	}

	root.AddCommand(
		serveCmd(open),
		breakerCmd(open),
		profileCmd(open),
		auditCmd(open),
		executeCmd(open),
	)
	return root
}

// app holds the components every command shares
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	breaker *breaker.CircuitBreaker
	risk    *riskconfig.Manager
	closers []func() error
}

func newApp(ctx context.Context, envFile string) (*app, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: logger.NewConsole(cfg.LogLevel)}

	store, err := a.stateStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.breaker = breaker.New(breaker.Options{
		Store:               store,
		Logger:              a.log.With("circuit_breaker"),
		HalfOpenAdmitRate:   cfg.Breaker.HalfOpenAdmitRate,
		VolatilityWindow:    cfg.Breaker.VolatilityWindow,
		HysteresisThreshold: cfg.Breaker.HysteresisThreshold,
	})

	profiles, err := riskconfig.NewYAMLStore(cfg.Profiles.Dir)
	if err != nil {
		a.Close()
		return nil, err
	}
	audit, err := a.auditSink(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.risk = riskconfig.NewManager(riskconfig.Options{
		Store:  profiles,
		Audit:  audit,
		Logger: a.log.With("risk_config"),
	})
	return a, nil
}

func (a *app) stateStore(ctx context.Context) (breaker.StateStore, error) {
	switch a.cfg.State.Backend {
	case config.BackendRedis:
		store, err := breaker.DialRedisStore(ctx, a.cfg.State.RedisURL, a.cfg.State.RedisKey)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	default:
		return breaker.NewFileStore(a.cfg.State.File)
	}
}

// auditSink writes to the JSON-lines file and, with AUDIT_DSN set, also to
// Postgres. The trail is read back from Postgres when it is configured.
func (a *app) auditSink(ctx context.Context) (riskconfig.AuditSink, error) {
	file, err := riskconfig.NewFileAuditLog(a.cfg.Audit.File)
	if err != nil {
		return nil, err
	}
	if a.cfg.Audit.DSN == "" {
		return file, nil
	}

	db, err := postgres.Open(ctx, a.cfg.Audit.DSN)
	if err != nil {
		return nil, fmt.Errorf("audit database: %w", err)
	}
	a.closers = append(a.closers, db.Close)
	return riskconfig.MultiSink{db, file}, nil
}

func (a *app) bybitClient() *bybit.Client {
	bc := bybit.DefaultConfig()
	bc.APIKey = a.cfg.Exchange.APIKey
	bc.APISecret = a.cfg.Exchange.Secret
	bc.Testnet = a.cfg.Exchange.Testnet
	bc.Demo = a.cfg.Exchange.Demo
	bc.Category = a.cfg.Exchange.Category

	client := bybit.NewClient(bc, a.log.With("bybit"))
	client.SetStateHooks(bybit.StateHooks{
		OnTrip: func(reason string) {
			a.breaker.Trip(breaker.TypeAPIFailure, reason)
		},
		OnRecover: func() {
			a.breaker.Reset(breaker.TypeAPIFailure, "")
		},
	})
	return client
}

func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}
