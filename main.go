package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"relgit/client"
	"relgit/internal/api"
	"relgit/internal/config"
	"relgit/internal/logging"
	"relgit/internal/metrics"
	"relgit/internal/poller"
	"relgit/internal/storage/factory"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("failed to load config:", err)
	}

	// Initialize logger
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger:", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	store, backend, err := factory.OpenStore(ctx, cfg, logger, m)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer backend.Close()

	g, ctx := errgroup.WithContext(ctx)

	srv := api.NewServer(store, api.Options{Logger: logger, Metrics: m})
	g.Go(func() error {
		return srv.Serve(ctx, cfg.Addr())
	})

	if cfg.Sync.Remote != "" {
		p, err := poller.New(store, client.New(cfg.Sync.Remote, client.WithLogger(logger)), poller.Options{
			Org:       cfg.Sync.Org,
			Repo:      cfg.Sync.Repo,
			Branches:  cfg.Sync.Branches,
			Interval:  cfg.Sync.Interval,
			Reconcile: cfg.Sync.Reconcile,
			Logger:    logger,
			Metrics:   m,
		})
		if err != nil {
			logger.Fatal("failed to configure sync", zap.Error(err))
		}
		logger.Info("syncing with remote",
			zap.String("remote", cfg.Sync.Remote),
			zap.Strings("branches", cfg.Sync.Branches),
			zap.Duration("interval", cfg.Sync.Interval),
		)
		g.Go(func() error {
			return p.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("server failed", zap.Error(err))
		return
	}
	logger.Info("shut down")
}
