package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/star/orbitstream/internal/api"
	"github.com/star/orbitstream/internal/auth"
	"github.com/star/orbitstream/internal/catalog"
	"github.com/star/orbitstream/internal/config"
	"github.com/star/orbitstream/internal/health"
	"github.com/star/orbitstream/internal/metrics"
	"github.com/star/orbitstream/internal/propagation"
	"github.com/star/orbitstream/internal/publish"
	"github.com/star/orbitstream/internal/record"
	"github.com/star/orbitstream/internal/scheduler"
	"github.com/star/orbitstream/internal/schema"
	"github.com/star/orbitstream/internal/tle"
	"github.com/star/orbitstream/internal/transport"
)

func main() {
	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load(bootLogger)
	if err != nil {
		bootLogger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))

	def, err := schema.Load(cfg.SchemaPath)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	mode, err := catalog.ParseMode(cfg.MergeMode)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ready := health.NewChecker()
	var schemaReady atomic.Bool
	ready.Add("schema", schemaReady.Load)

	registry, err := schema.NewConfluentRegistry(cfg.SchemaRegistryURL, cfg.SchemaRegistryUsername, cfg.SchemaRegistryPassword)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	defer registry.Close()

	regBackOff := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(time.Second),
		backoff.WithMaxInterval(30*time.Second),
	), 10)
	encoder, err := schema.Register(ctx, registry, schema.Subject(cfg.KafkaTopic), def, regBackOff, logger)
	if err != nil {
		if ctx.Err() != nil {
			logger.Info("shutdown requested during schema registration")
			return
		}
		logger.Error("schema registration failed", "error", err)
		os.Exit(1)
	}
	schemaReady.Store(true)

	conn := transport.NewConn(transport.KafkaDialer{
		Brokers:  cfg.KafkaBrokers,
		ClientID: cfg.KafkaClientID,
		Logger:   logger,
	}, 5, logger)
	ready.Add("transport", func() bool { return conn.State() == transport.Connected })

	tleCache := tle.NewCache(cfg.TLECacheDir, cfg.TLECacheMaxFiles)
	provider, err := tle.NewSpaceTrackClient(cfg.SpaceTrackURL, tle.Credentials{
		Username: cfg.SpaceTrackUsername,
		Password: cfg.SpaceTrackPassword,
	}, tleCache, logger)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	prop := propagation.NewPropagator(propagation.PropConfig{Workers: cfg.PropWorkers}, logger)
	metrics.SetPropagationWorkers(cfg.PropWorkers)
	builder := record.NewBuilder(prop, logger)
	cat := catalog.New(mode)

	publisher := publish.NewPublisher(publish.Config{
		Topic:        cfg.KafkaTopic,
		MaxBatchSize: cfg.MaxBatchSize,
		Ordered:      cfg.OrderedDelivery,
		Concurrency:  cfg.PublishConcurrency,
		Retries:      cfg.PublishRetries,
	}, encoder, conn, logger)

	sched := scheduler.New(scheduler.Config{
		PollInterval:     cfg.PollInterval(),
		FlushInterval:    cfg.FlushInterval(),
		ColdLookback:     cfg.ColdLookback(),
		WarmLookback:     cfg.WarmLookback(),
		FetchTimeout:     cfg.FetchTimeout(),
		PublishTimeout:   cfg.PublishTimeout(),
		RecomputeOnFlush: cfg.RecomputeOnFlush,
		DirtyOnly:        cfg.DirtyOnly,
	}, provider, builder, prop, cat, publisher, conn, logger)

	// Seed the catalog from the cached base payload and later updates, if any.
	rows, ts, err := tleCache.LoadRows()
	if err != nil {
		logger.Info("no catalog cache found, starting empty", "error", err)
	} else {
		n := sched.Seed(ctx, rows)
		logger.Info("loaded catalog from cache", "count", n, "cached_at", ts.Format(time.RFC3339))
	}

	srv := api.NewServer(cfg.HTTPAddr, logger, auth.Config{Enabled: cfg.AuthOn, Token: cfg.AuthToken}, api.Deps{
		Catalog:    cat,
		Scheduler:  sched,
		Ready:      ready,
		TrustProxy: cfg.TrustProxy,
	})

	go func() {
		logger.Info("starting server", "addr", cfg.HTTPAddr, "auth_enabled", cfg.AuthOn)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	// Run returns after ctx is cancelled and in-flight work has drained.
	if err := sched.Run(ctx); err != nil {
		logger.Error("scheduler stopped with error", "error", err)
	}
	conn.Close(10 * time.Second)

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
