// Kestrel - Market and wallet data acquisition with a durable cache.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/activity"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/auth"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/fallback"
	"github.com/opensource-finance/kestrel/internal/provider/alphavantage"
	"github.com/opensource-finance/kestrel/internal/provider/blockcypher"
	"github.com/opensource-finance/kestrel/internal/provider/etherscan"
	"github.com/opensource-finance/kestrel/internal/provider/ethplorer"
	"github.com/opensource-finance/kestrel/internal/provider/finnhub"
	"github.com/opensource-finance/kestrel/internal/provider/unusualwhales"
	"github.com/opensource-finance/kestrel/internal/ratelimit"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/retry"
	"github.com/opensource-finance/kestrel/internal/upstream"
	"github.com/opensource-finance/kestrel/internal/wallet"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("KESTREL_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kestrel: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"worker", cfg.Worker.Enabled,
		"tracing", cfg.Tracing.Enabled,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("kestrel stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("kestrel shutdown complete")
}

func run(ctx context.Context, cfg *domain.Config, logger *slog.Logger) error {
	policies, err := config.Policies(cfg)
	if err != nil {
		return err
	}
	kinds, err := config.AggregationKinds(cfg)
	if err != nil {
		return err
	}

	// Store
	repo, err := repository.New(cfg.Repository,
		repository.WithPolicies(policies),
		repository.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	store, err := cache.New(cfg.Cache, repo, policies)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Event bus
	eventBus, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer eventBus.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Providers
	providers := newProviders(cfg.Providers, logger)

	quotes := activity.QuoteChain([]activity.NamedQuoteProvider{
		{Name: finnhub.Name, Provider: providers.finnhub},
		{Name: alphavantage.Name, Provider: providers.alphavantage},
	}, fallback.WithLogger(logger))

	svc := activity.New(store, providers.unusualwhales, quotes, activity.Config{
		Kinds:            kinds,
		DefaultLimit:     cfg.Aggregation.DefaultLimit,
		MaxInstitutions:  cfg.Aggregation.MaxInstitutions,
		InstitutionPause: cfg.Aggregation.InstitutionPause,
	}, activity.WithLogger(logger))
	slog.Info("activity service initialized", "kinds", svc.Kinds())

	wallets := wallet.New(store,
		wallet.BalanceChain([]wallet.Named[wallet.BalanceProvider]{
			{Name: etherscan.Name, Provider: providers.etherscan},
			{Name: blockcypher.Name, Provider: providers.blockcypher},
		}, fallback.WithLogger(logger)),
		wallet.HistoryChain([]wallet.Named[wallet.HistoryProvider]{
			{Name: etherscan.Name, Provider: providers.etherscan},
			{Name: ethplorer.Name, Provider: providers.ethplorer},
		}, fallback.WithLogger(logger)),
		wallet.WithLogger(logger),
	)

	// Background work
	var (
		refreshWorker *worker.Worker
		scheduler     *worker.Scheduler
	)
	if cfg.Worker.Enabled {
		refreshWorker = worker.NewWorker(eventBus, svc, logger)
		if err := refreshWorker.Start(); err != nil {
			return fmt.Errorf("failed to start refresh worker: %w", err)
		}

		scheduler = worker.NewScheduler(logger, 30*time.Minute)
		if cfg.Worker.EvictionSchedule != "" {
			job := &worker.EvictionJob{Store: store, Horizon: cfg.Cache.EvictionHorizon, Logger: logger}
			if err := scheduler.AddJob(cfg.Worker.EvictionSchedule, job); err != nil {
				return err
			}
		}
		if cfg.Worker.WarmSchedule != "" && len(cfg.Worker.Watchlist) > 0 {
			job := &worker.WarmJob{Refresher: svc, Watchlist: cfg.Worker.Watchlist, Kinds: kinds, Logger: logger}
			if err := scheduler.AddJob(cfg.Worker.WarmSchedule, job); err != nil {
				return err
			}
		}
		scheduler.Start()
		slog.Info("worker started",
			"eviction_schedule", cfg.Worker.EvictionSchedule,
			"warm_schedule", cfg.Worker.WarmSchedule,
			"watchlist_size", len(cfg.Worker.Watchlist),
		)
	}

	// Server
	handler := api.NewHandler(svc, wallets, store, eventBus, Version, logger)
	srv := api.NewServer(cfg.Server, handler, logger)

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-serveErr:
		runErr = fmt.Errorf("server failed: %w", err)
	}

	if scheduler != nil {
		scheduler.Stop()
	}
	if refreshWorker != nil {
		if err := refreshWorker.Stop(); err != nil {
			slog.Error("failed to stop refresh worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	return runErr
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	level, _ := config.LogLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

type providerSet struct {
	unusualwhales *unusualwhales.Client
	finnhub       *finnhub.Client
	alphavantage  *alphavantage.Client
	etherscan     *etherscan.Client
	blockcypher   *blockcypher.Client
	ethplorer     *ethplorer.Client
}

// newProviders builds one upstream client per provider, each sharing the
// limiter registered under its name.
func newProviders(cfg domain.ProvidersConfig, logger *slog.Logger) providerSet {
	limits := ratelimit.NewRegistry(time.Second)

	client := func(name string, pc domain.ProviderConfig, extra ...upstream.Option) *upstream.Client {
		opts := []upstream.Option{
			upstream.WithBaseURL(pc.BaseURL),
			upstream.WithLimiter(limits.Register(name, pc.MinInterval)),
			upstream.WithPolicies(retry.Overload(), retry.Throttle(pc.CallsPerMinute)),
			upstream.WithLogger(logger),
		}
		if pc.Timeout > 0 {
			opts = append(opts, upstream.WithTimeout(pc.Timeout))
		}
		return upstream.New(name, append(opts, extra...)...)
	}
	keyed := func(param, key string) []upstream.Option {
		if key == "" {
			return nil
		}
		return []upstream.Option{upstream.WithQuery(param, key)}
	}

	return providerSet{
		unusualwhales: unusualwhales.New(client(unusualwhales.Name, cfg.UnusualWhales,
			upstream.WithTokenSupplier(auth.New(cfg.Auth)))),
		finnhub: finnhub.New(client(finnhub.Name, cfg.Finnhub,
			keyed("token", cfg.Finnhub.APIKey)...)),
		alphavantage: alphavantage.New(client(alphavantage.Name, cfg.AlphaVantage,
			keyed("apikey", cfg.AlphaVantage.APIKey)...), cfg.AlphaVantage.CallsPerMinute),
		etherscan: etherscan.New(client(etherscan.Name, cfg.Etherscan,
			keyed("apikey", cfg.Etherscan.APIKey)...), cfg.Etherscan.CallsPerMinute),
		blockcypher: blockcypher.New(client(blockcypher.Name, cfg.Blockcypher,
			keyed("token", cfg.Blockcypher.APIKey)...)),
		ethplorer: ethplorer.New(client(ethplorer.Name, cfg.Ethplorer,
			keyed("apiKey", cfg.Ethplorer.APIKey)...)),
	}
}
