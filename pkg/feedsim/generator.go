package feedsim

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-tracker/pkg/models"
)

const defaultBasePrice = 100.0

type StockGenerator struct {
	logger     *zap.Logger
	source     TradeSource
	basePrices map[string]float64
	rand       Rand
	clock      Clock
	interval   time.Duration
}

func NewStockGenerator(
	logger *zap.Logger,
	source TradeSource,
	basePrices map[string]float64,
	rnd Rand,
	clock Clock,
	interval time.Duration,
) *StockGenerator {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &StockGenerator{
		logger:     logger,
		source:     source,
		basePrices: basePrices,
		rand:       rnd,
		clock:      clock,
		interval:   interval,
	}
}

// Run emits one trade per interval for a random subscribed symbol.
// Nothing is emitted while no client is subscribed.
func (sg *StockGenerator) Run(ctx context.Context) {
	sg.logger.Info("Generator Started", zap.Duration("interval", sg.interval))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			symbols := sg.source.Subscribed()
			if len(symbols) == 0 {
				sg.clock.Sleep(sg.interval)
				continue
			}

			symbol := symbols[sg.rand.Intn(len(symbols))]
			trade := models.TradeData{
				Symbol:    symbol,
				Price:     sg.Price(symbol),
				Timestamp: sg.clock.Now().UnixMilli(),
				Volume:    float64(1 + sg.rand.Intn(100)),
			}
			sg.source.PublishTrades(trade)
			sg.logger.Debug("Sent trade", zap.String("symbol", symbol), zap.Float64("price", trade.Price))

			sg.clock.Sleep(sg.interval)
		}
	}
}

// Price is the base price plus a fluctuation in [-5, 5).
func (sg *StockGenerator) Price(symbol string) float64 {
	base, ok := sg.basePrices[symbol]
	if !ok {
		base = defaultBasePrice
	}
	fluctuation := (sg.rand.Float64() * 10) - 5
	price := base + fluctuation
	if price <= 0 {
		return base
	}
	return price
}
