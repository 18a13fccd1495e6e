package main

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-tracker/pkg/config"
	"github.com/shubham-shewale/stock-tracker/pkg/feedsim"
	"github.com/shubham-shewale/stock-tracker/pkg/models"
)

var basePrices = map[string]float64{
	"AAPL": 150.0, "GOOG": 170.0, "TSLA": 240.0, "AMZN": 180.0, "MSFT": 410.0,
}

func main() {
	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Initialize Zap Logger
	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	// 3. Seed quotes so the tickers pass validation
	sim := feedsim.NewServer(logger, cfg.Finnhub.APIKey)
	now := time.Now().Unix()
	for _, symbol := range cfg.MockFeed.Tickers {
		symbol = models.NormalizeSymbol(symbol)
		base, ok := basePrices[symbol]
		if !ok {
			base = 100.0
		}
		sim.SetQuote(symbol, models.Quote{Current: base, Open: base, High: base, Low: base, PreviousClose: base, Timestamp: now})
		sim.SetNews(symbol, []models.NewsItem{{
			Category: "company",
			Datetime: now,
			Headline: symbol + " trades in a quiet session",
			ID:       now,
			Related:  symbol,
			Source:   "mockfeed",
		}})
	}

	// 4. Setup Shutdown Hook
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	gen := feedsim.NewStockGenerator(logger, sim, basePrices, feedsim.RealRand{Rand: r}, feedsim.RealClock{}, cfg.MockFeed.Interval)
	go gen.Run(ctx)

	srv := &http.Server{Addr: cfg.MockFeed.Port, Handler: sim}
	go func() {
		logger.Info("Mock feed Started", zap.String("port", cfg.MockFeed.Port), zap.Strings("tickers", cfg.MockFeed.Tickers))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	// 5. Wait for Shutdown Signal
	<-ctx.Done()
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sim.DropConnections()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", zap.Error(err))
	}
	logger.Info("Shutdown Complete")
}
