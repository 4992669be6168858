// Command hcproxy starts the hypercube caching proxy.
//
// It accelerates repeated and rollup-compatible GROUP BY analytical queries
// by transparently materializing their result sets as named "hypercubes" in
// an embedded columnar engine, serving subsequent compatible requests from
// there instead of the relational backing store.
//
// Usage:
//
//	go run ./cmd/hcproxy [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hcproxy/hypercube-proxy/internal/auth/apikey"
	"github.com/hcproxy/hypercube-proxy/internal/auth/ratelimit"
	"github.com/hcproxy/hypercube-proxy/internal/backingstore"
	"github.com/hcproxy/hypercube-proxy/internal/cacheindex"
	"github.com/hcproxy/hypercube-proxy/internal/clusterbus"
	"github.com/hcproxy/hypercube-proxy/internal/cubestore"
	"github.com/hcproxy/hypercube-proxy/internal/httpapi"
	"github.com/hcproxy/hypercube-proxy/internal/invalidator"
	"github.com/hcproxy/hypercube-proxy/internal/router"
	"github.com/hcproxy/hypercube-proxy/internal/telemetry"
	"github.com/hcproxy/hypercube-proxy/pkg/config"
	"github.com/hcproxy/hypercube-proxy/pkg/health"
	"github.com/hcproxy/hypercube-proxy/pkg/kafka"
	"github.com/hcproxy/hypercube-proxy/pkg/logger"
	"github.com/hcproxy/hypercube-proxy/pkg/metrics"
	"github.com/hcproxy/hypercube-proxy/pkg/postgres"
	"github.com/hcproxy/hypercube-proxy/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting hypercube caching proxy", "port", cfg.Server.Port)

	db, err := postgres.New(cfg.BackingStore)
	if err != nil {
		slog.Error("failed to connect to backing store", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	store := backingstore.NewPostgres(db)
	slog.Info("connected to backing store")

	cubes, err := cubestore.Open(cubestore.Config{
		MemoryLimit:       cfg.CubeStore.MemoryLimit,
		Threads:           cfg.CubeStore.Threads,
		PersistentEnabled: cfg.CubeStore.PersistentEnabled,
		PersistentPath:    cfg.CubeStore.PersistentPath,
	})
	if err != nil {
		slog.Error("failed to open cube store", "error", err)
		os.Exit(1)
	}
	defer cubes.Close()

	m := metrics.New()

	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdownMetrics(ctx)
		}()
	}

	index := cacheindex.New(cfg.CubeStore.TTL(), cubes, m)

	if restored, err := cubes.SnapshotLoad(context.Background()); err != nil {
		slog.Error("snapshot load failed", "error", err)
	} else if len(restored) > 0 {
		// Cube names double as index keys, so each restored cube is bound
		// back into the index and serves hits; its row count is not recovered.
		for _, name := range restored {
			index.Insert(name, name, 0)
		}
		slog.Info("restored cubes from snapshot", "count", len(restored))
	}

	var collector *telemetry.Collector
	var aggregator *telemetry.Aggregator
	var snapshotStore *telemetry.Store
	if cfg.Telemetry.Enabled {
		producer := kafka.NewProducer(cfg.Telemetry.KafkaBrokers, cfg.Telemetry.Topic)
		collector = telemetry.NewCollector(producer, 1024)
		defer collector.Close()

		aggregator = telemetry.NewAggregator(cfg.Telemetry.KafkaBrokers, cfg.Telemetry.Topic, cfg.Telemetry.ConsumerGroup)
		defer aggregator.Close()

		snapshotStore = telemetry.NewStore(db)
		slog.Info("telemetry pipeline started", "topic", cfg.Telemetry.Topic, "consumer_group", cfg.Telemetry.ConsumerGroup)
	}

	queryRouter := router.New(store, cubes, index, collectorOrNil(collector))

	var bus *clusterbus.Bus
	var redisClient *redis.Client
	if cfg.ClusterBus.Enabled {
		redisClient, err = redis.NewClient(cfg.ClusterBus.RedisAddr, cfg.ClusterBus.Password, 0, 10)
		if err != nil {
			slog.Error("failed to connect to cluster bus redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		bus = clusterbus.New(redisClient, cfg.ClusterBus.Channel)
	}

	var onFlush invalidator.OnFlush
	if bus != nil {
		onFlush = func() {
			if err := bus.BroadcastFlush(context.Background()); err != nil {
				slog.Error("failed to broadcast flush to cluster", "error", err)
			}
		}
	}
	inv := invalidator.New(store, index, cfg.Invalidator.Query, cfg.Invalidator.Interval(), onFlush)

	healthChecker := health.NewChecker()
	healthChecker.Register("backing_store", func(ctx context.Context) health.ComponentHealth {
		if err := store.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	validator := apikey.NewValidator(db)
	limiter := ratelimit.New(time.Minute)

	handler := httpapi.NewHandler(httpapi.Config{
		Router:             queryRouter,
		Index:              index,
		SourceTable:        cfg.Hypercube.SourceTable,
		ClusterBus:         busOrNil(bus),
		Keys:               validator,
		Limiter:            limiter,
		APIKeyRequired:     cfg.Admin.APIKeyRequired,
		RateLimitPerMinute: cfg.Admin.RateLimitPerMinute,
		Health:             healthChecker,
		Metrics:            m,
		StatsSource:        statsSourceOrNil(aggregator),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// background carries every long-running task that should share the
	// shutdown signal's lifetime; its errors are logged, not fatal, since
	// the proxy degrades gracefully when a background task dies.
	background, bgCtx := errgroup.WithContext(ctx)

	if inv.Enabled() {
		background.Go(func() error {
			inv.Run(bgCtx)
			return nil
		})
		slog.Info("invalidator started", "interval", cfg.Invalidator.Interval())
	}

	if bus != nil && redisClient != nil {
		background.Go(func() error {
			if err := bus.Listen(bgCtx, redisClient, index); err != nil && bgCtx.Err() == nil {
				slog.Error("cluster bus listener stopped", "error", err)
			}
			return nil
		})
	}

	if aggregator != nil {
		background.Go(func() error {
			if err := aggregator.Run(bgCtx); err != nil && bgCtx.Err() == nil {
				slog.Error("telemetry aggregator stopped", "error", err)
			}
			return nil
		})
		background.Go(func() error {
			snapshotStore.StartPeriodicSave(bgCtx, aggregator, cfg.Telemetry.SnapshotInterval())
			return nil
		})
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")

		if cfg.CubeStore.PersistentEnabled {
			saveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := cubes.SnapshotSave(saveCtx, index.Keys()); err != nil {
				slog.Error("snapshot save failed", "error", err)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("hypercube caching proxy listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	if err := background.Wait(); err != nil {
		slog.Error("background task error", "error", err)
	}

	slog.Info("hypercube caching proxy stopped")
}

func collectorOrNil(c *telemetry.Collector) router.Collector {
	if c == nil {
		return nil
	}
	return c
}

func busOrNil(b *clusterbus.Bus) httpapi.FlushBroadcaster {
	if b == nil {
		return nil
	}
	return b
}

func statsSourceOrNil(a *telemetry.Aggregator) httpapi.StatsSource {
	if a == nil {
		return nil
	}
	return a
}
