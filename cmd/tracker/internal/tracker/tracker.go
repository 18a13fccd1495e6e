// Package tracker decides when a symbol is fetched, subscribed upstream,
// evicted and unsubscribed, based on who is watching it.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-tracker/cmd/tracker/internal/protocol"
	"github.com/shubham-shewale/stock-tracker/cmd/tracker/internal/registry"
	"github.com/shubham-shewale/stock-tracker/cmd/tracker/internal/repository"
	"github.com/shubham-shewale/stock-tracker/pkg/models"
)

// Feed is the part of the upstream client the tracker drives.
type Feed interface {
	Subscribe(symbol string) error
	Unsubscribe(symbol string) error
	FetchQuote(ctx context.Context, symbol string) (models.Quote, error)
}

// Broadcaster fans a payload out to a topic's subscribers.
type Broadcaster interface {
	Publish(topic string, payload interface{})
}

type Options struct {
	QuoteTimeout time.Duration
	LockShards   int
}

type Tracker struct {
	registry *registry.Registry
	cache    repository.PriceCache
	feed     Feed
	hub      Broadcaster
	locks    *symbolLocks
	metrics  *Metrics
	logger   *zap.Logger
	opts     Options
}

func New(reg *registry.Registry, cache repository.PriceCache, feed Feed, hub Broadcaster, metrics *Metrics, logger *zap.Logger, opts Options) *Tracker {
	if opts.QuoteTimeout <= 0 {
		opts.QuoteTimeout = 5 * time.Second
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Tracker{
		registry: reg,
		cache:    cache,
		feed:     feed,
		hub:      hub,
		locks:    newSymbolLocks(opts.LockShards),
		metrics:  metrics,
		logger:   logger,
		opts:     opts,
	}
}

// SwitchSymbol moves session from oldSymbol to newSymbol. The old symbol is
// released before the new one is validated, so a failed switch leaves the
// session watching nothing. Only *SymbolNotFoundError is meant for the user.
func (t *Tracker) SwitchSymbol(ctx context.Context, session, oldSymbol, newSymbol string) error {
	oldSymbol = models.NormalizeSymbol(oldSymbol)
	newSymbol = models.NormalizeSymbol(newSymbol)

	log := t.logger.With(
		zap.String("correlation_id", uuid.NewString()),
		zap.String("session", session),
		zap.String("old_symbol", oldSymbol),
		zap.String("symbol", newSymbol),
	)
	log.Debug("Switch requested")

	// Re-selecting the watched symbol only refreshes the price.
	rewatch := newSymbol != "" && oldSymbol == newSymbol && t.registry.Watching(newSymbol, session)

	if oldSymbol != "" && !rewatch {
		if err := t.release(ctx, log, oldSymbol, session); err != nil {
			t.metrics.switches.WithLabelValues(outcomeError).Inc()
			return err
		}
	}

	if newSymbol == "" {
		t.metrics.switches.WithLabelValues(outcomeStopped).Inc()
		log.Info("Session stopped watching")
		return nil
	}

	if err := t.watch(ctx, log, newSymbol, session); err != nil {
		if errors.Is(err, ErrSymbolNotFound) {
			t.metrics.switches.WithLabelValues(outcomeNotFound).Inc()
			log.Info("Switch rejected", zap.Error(err))
		} else {
			t.metrics.switches.WithLabelValues(outcomeError).Inc()
			log.Error("Switch failed", zap.Error(err))
		}
		return err
	}

	t.metrics.switches.WithLabelValues(outcomeOK).Inc()
	log.Info("Switch completed")
	return nil
}

// release drops session from symbol and, for the last viewer, evicts the
// cached price and unsubscribes upstream.
func (t *Tracker) release(ctx context.Context, log *zap.Logger, symbol, session string) error {
	unlock := t.locks.Lock(symbol)
	defer unlock()

	if !t.registry.Watching(symbol, session) {
		return nil
	}
	if !t.registry.Leave(symbol, session) {
		return nil
	}
	return t.deactivate(ctx, log, symbol)
}

// deactivate must be called with symbol's stripe held and symbol inactive.
func (t *Tracker) deactivate(ctx context.Context, log *zap.Logger, symbol string) error {
	t.metrics.activeSymbols.Dec()

	cacheErr := t.cache.Delete(ctx, symbol)
	if cacheErr != nil {
		log.Error("Failed to evict price", zap.String("evicted", symbol), zap.Error(cacheErr))
	}

	if err := t.feed.Unsubscribe(symbol); err != nil {
		t.metrics.feedErrors.WithLabelValues("unsubscribe").Inc()
		log.Warn("Upstream unsubscribe failed", zap.String("evicted", symbol), zap.Error(err))
	} else {
		log.Info("Symbol deactivated", zap.String("evicted", symbol))
	}

	if cacheErr != nil {
		return fmt.Errorf("evict %s: %w", symbol, cacheErr)
	}
	return nil
}

func (t *Tracker) watch(ctx context.Context, log *zap.Logger, symbol, session string) error {
	unlock := t.locks.Lock(symbol)
	defer unlock()

	price, err := t.currentPrice(ctx, log, symbol)
	if err != nil {
		return err
	}

	t.hub.Publish(protocol.PriceTopic(symbol), price)

	if !t.registry.Join(symbol, session) {
		return nil
	}
	t.metrics.activeSymbols.Inc()
	if err := t.feed.Subscribe(symbol); err != nil {
		t.metrics.feedErrors.WithLabelValues("subscribe").Inc()
		log.Warn("Upstream subscribe failed", zap.Error(err))
		return nil
	}
	log.Info("Symbol activated")
	return nil
}

// currentPrice returns the cached price, seeding the cache from a quote when
// the symbol is cold. Callers hold symbol's stripe, so concurrent switches
// to a cold symbol fetch once.
func (t *Tracker) currentPrice(ctx context.Context, log *zap.Logger, symbol string) (float64, error) {
	exists, err := t.cache.Exists(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if exists {
		price, found, err := t.cache.Get(ctx, symbol)
		if err != nil {
			return 0, err
		}
		if found {
			return price, nil
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, t.opts.QuoteTimeout)
	defer cancel()

	start := time.Now()
	quote, err := t.feed.FetchQuote(fetchCtx, symbol)
	t.metrics.quoteFetch.Observe(time.Since(start).Seconds())
	if err != nil {
		t.metrics.feedErrors.WithLabelValues("quote").Inc()
		log.Warn("Quote fetch failed", zap.Error(err))
		return 0, &SymbolNotFoundError{Symbol: symbol, Err: err}
	}
	if !quote.Valid() {
		return 0, &SymbolNotFoundError{Symbol: symbol}
	}

	if err := t.cache.Set(ctx, symbol, quote.Current); err != nil {
		return 0, err
	}
	log.Debug("Seeded price from quote", zap.Float64("price", quote.Current))
	return quote.Current, nil
}

// HandleTradeTick caches and publishes the tick whether or not anyone watches.
func (t *Tracker) HandleTradeTick(ctx context.Context, tick models.Tick) error {
	if err := t.cache.Set(ctx, tick.Symbol, tick.Price); err != nil {
		t.logger.Error("Failed to cache tick",
			zap.String("correlation_id", uuid.NewString()),
			zap.String("symbol", tick.Symbol),
			zap.Error(err),
		)
		return err
	}
	t.hub.Publish(protocol.PriceTopic(tick.Symbol), tick.Price)
	t.metrics.ticks.Inc()
	return nil
}

// HandleDisconnect removes session from every symbol and deactivates the
// symbols it was the last viewer of.
func (t *Tracker) HandleDisconnect(ctx context.Context, session string) error {
	log := t.logger.With(
		zap.String("correlation_id", uuid.NewString()),
		zap.String("session", session),
	)

	var (
		firstErr    error
		deactivated []string
	)
	for {
		held, unlock := t.locks.LockMany(t.registry.SymbolsOf(session))

		// A symbol joined after the snapshot may sit on a stripe not held;
		// it is skipped here and picked up by the next pass.
		emptied, skipped := t.registry.LeaveWhere(session, func(symbol string) bool {
			return t.locks.Covers(held, symbol)
		})
		for _, symbol := range emptied {
			if err := t.deactivate(ctx, log, symbol); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		unlock()

		deactivated = append(deactivated, emptied...)
		if len(skipped) == 0 {
			break
		}
		log.Debug("Retrying disconnect for symbols joined meanwhile", zap.Strings("skipped", skipped))
	}

	log.Info("Session disconnected", zap.Strings("deactivated", deactivated))
	return firstErr
}

// Watching reports whether session is registered as a viewer of symbol.
func (t *Tracker) Watching(symbol, session string) bool {
	return t.registry.Watching(models.NormalizeSymbol(symbol), session)
}
