package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shubham-shewale/stock-tracker/cmd/tracker/internal/feed"
	"github.com/shubham-shewale/stock-tracker/cmd/tracker/internal/gateway"
	"github.com/shubham-shewale/stock-tracker/cmd/tracker/internal/httpapi"
	"github.com/shubham-shewale/stock-tracker/cmd/tracker/internal/hub"
	"github.com/shubham-shewale/stock-tracker/cmd/tracker/internal/news"
	"github.com/shubham-shewale/stock-tracker/cmd/tracker/internal/processor"
	"github.com/shubham-shewale/stock-tracker/cmd/tracker/internal/registry"
	"github.com/shubham-shewale/stock-tracker/cmd/tracker/internal/repository"
	"github.com/shubham-shewale/stock-tracker/cmd/tracker/internal/tracker"
	"github.com/shubham-shewale/stock-tracker/pkg/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if cfg.App.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Cache
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	store := repository.NewRedisStore(rdb)
	defer store.Close()

	if err := store.Ping(ctx); err != nil {
		logger.Fatal("Redis unreachable", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}
	// Entries left by a previous run have no viewers and no upstream subscription
	if cfg.Tracker.PurgeOnBoot {
		n, err := store.Purge(ctx)
		if err != nil {
			logger.Fatal("Failed to purge stale prices", zap.Error(err))
		}
		logger.Info("Purged stale prices", zap.Int("keys", n))
	}

	// 2. Metrics
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := tracker.NewMetrics(promReg)

	// 3. Upstream feed
	feedClient := feed.NewClient(feed.OptionsFromConfig(cfg.Finnhub), logger)
	feedClient.OnConnectionChange(metrics.SetFeedConnected)

	// 4. Core
	wsHub := hub.NewHub(logger)
	tr := tracker.New(registry.New(), store, feedClient, wsHub, metrics, logger, tracker.Options{
		QuoteTimeout: cfg.Finnhub.QuoteTimeout,
		LockShards:   cfg.Tracker.LockShards,
	})
	proc := processor.NewProcessor(cfg.Tracker, logger, tr, feedClient.Ticks())

	// 5. HTTP surface
	router := httpapi.NewRouter(httpapi.Deps{
		Sessions: gateway.NewServer(wsHub, tr, logger),
		News:     httpapi.NewNewsHandler(news.NewService(feedClient, cfg.News.LookbackDays, logger), cfg.News.DefaultPageSize, logger),
		Store:    store,
		Metrics:  promReg,
		Logger:   logger,
	})
	srv := &http.Server{Addr: cfg.App.Port, Handler: router}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return feedClient.Run(gctx) })
	g.Go(func() error { return proc.Run(gctx) })
	g.Go(func() error {
		logger.Info("Server Started", zap.String("port", cfg.App.Port), zap.String("env", cfg.App.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Exited with error", zap.Error(err))
		return
	}
	logger.Info("Shutdown Complete")
}
