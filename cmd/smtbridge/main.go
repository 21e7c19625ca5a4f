package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/seantiz/smtbridge/internal/api"
	"github.com/seantiz/smtbridge/internal/backend"
	ginibackend "github.com/seantiz/smtbridge/internal/backend/gini"
	"github.com/seantiz/smtbridge/internal/bridge"
	"github.com/seantiz/smtbridge/internal/cache"
	"github.com/seantiz/smtbridge/internal/config"
	"github.com/seantiz/smtbridge/internal/engine"
	"github.com/seantiz/smtbridge/internal/model"
	"github.com/seantiz/smtbridge/internal/solver"
	"github.com/seantiz/smtbridge/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("smtbridge: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("smtbridge: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"cache", cfg.CacheKind,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	results, closeCache, err := cache.New(ctx, cache.Config{
		Kind:                cfg.CacheKind,
		Capacity:            cfg.CacheCapacity,
		RedisURL:            cfg.RedisURL,
		RedisRetryAttempts:  cfg.RedisRetryAttempts,
		RedisRetryInterval:  cfg.RedisRetryInterval,
		RedisConnectTimeout: cfg.RedisConnectTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer closeCache()

	defaults, err := solver.ProfileDefaults(cfg.SolverProfile)
	if err != nil {
		return err
	}

	pool := bridge.NewPool(cfg.Workers, logger)
	pool.Start()
	defer pool.Close()
	loop := bridge.NewLoop(pool, logger)

	reg := backend.NewRegistry()
	reg.Register(model.BackendGini, ginibackend.NewBackend(ginibackend.Config{
		Defaults:       defaults,
		MaxConcurrency: pool.Size(),
	}, logger))

	eng := engine.NewEngine(db, reg, results, loop, engine.Config{
		DefaultTimeoutS: cfg.DefaultTimeoutS,
		CacheTTL:        cfg.CacheTTL,
	}, logger)

	srv := api.NewServer(cfg.ListenAddr, db, reg, eng, loop, logger,
		api.WithAllowedOrigins(cfg.CORSOrigins...),
		api.WithShutdownTimeout(cfg.ShutdownTimeout),
	)

	// The loop outlives the HTTP server: it is only told to drain once no
	// handler can post new work.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Run(loopCtx)
	})
	g.Go(func() error {
		defer stopLoop()
		return srv.Run(gctx)
	})

	err = g.Wait()
	eng.Wait()
	logger.Info("smtbridge: stopped")
	return err
}
