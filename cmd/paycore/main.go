package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/punchamoorthee/paycore/internal/config"
	"github.com/punchamoorthee/paycore/internal/provider"
	"github.com/punchamoorthee/paycore/internal/provider/paystack"
	"github.com/punchamoorthee/paycore/internal/service"
	"github.com/punchamoorthee/paycore/internal/store"
)

var (
	Version    = "dev"
	configFile string
)

func main() {
	root := &cobra.Command{
		Use:          "paycore",
		Short:        "Payment authorization, ledger and webhook reconciliation service",
		Version:      Version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file; environment variables override it")

	root.AddCommand(serveCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(providersCmd())
	root.AddCommand(seedCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is what every command that touches the database shares.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	store    *store.PostgresStore
	registry *provider.Registry
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	if cfg.Env == "development" {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	pg, err := store.NewStore(ctx, cfg.DBSource)
	if err != nil {
		return nil, err
	}

	registry := provider.NewRegistry()
	if cfg.Paystack.SecretKey != "" {
		registry.Register(paystack.Identifier, paystack.New(paystack.Config{
			SecretKey: cfg.Paystack.SecretKey,
			BaseURL:   cfg.Paystack.BaseURL,
			Timeout:   cfg.ProviderTimeout,
		}))
	} else {
		log.Warn("PAYSTACK_SECRET_KEY not set, paystack adapter disabled")
	}

	return &app{cfg: cfg, log: log, store: pg, registry: registry}, nil
}

func (a *app) deps() service.Deps {
	return service.Deps{
		Store:           a.store,
		Providers:       a.registry,
		Log:             a.log,
		ProviderTimeout: a.cfg.ProviderTimeout,
	}
}

func (a *app) sweeperConfig() service.SweeperConfig {
	return service.SweeperConfig{
		StaleAfter: a.cfg.StaleAfter,
		Interval:   a.cfg.SweepInterval,
		Batch:      a.cfg.SweepBatch,
	}
}

func (a *app) close() {
	a.store.Close()
}
