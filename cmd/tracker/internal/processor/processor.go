package processor

import (
	"context"
	"hash/fnv"
	"sync"

	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-tracker/pkg/config"
	"github.com/shubham-shewale/stock-tracker/pkg/models"
)

type Processor struct {
	logger     Logger
	handler    TickHandler
	ticks      <-chan models.Tick
	numWorkers int
	queueSize  int
}

func NewProcessor(cfg config.TrackerConfig, logger Logger, handler TickHandler, ticks <-chan models.Tick) *Processor {
	numWorkers := cfg.NumWorkers
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return &Processor{
		logger:     logger,
		handler:    handler,
		ticks:      ticks,
		numWorkers: numWorkers,
		queueSize:  cfg.QueueSize,
	}
}

// Run dispatches ticks until ctx is done or the tick channel is closed, then
// drains the workers.
func (p *Processor) Run(ctx context.Context) error {
	workerChans := make([]chan models.Tick, p.numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < p.numWorkers; i++ {
		workerChans[i] = make(chan models.Tick, p.queueSize)
		wg.Add(1)
		go p.worker(i, workerChans[i], &wg)
	}

	p.logger.Info("Processor Started", zap.Int("workers", p.numWorkers))

	p.dispatch(ctx, workerChans)

	p.logger.Info("Stopping processor...")
	for _, ch := range workerChans {
		close(ch)
	}
	p.logger.Info("Waiting for workers to drain...")
	wg.Wait()

	return nil
}

func (p *Processor) dispatch(ctx context.Context, workerChans []chan models.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-p.ticks:
			if !ok {
				return
			}

			// Deterministic Sharding: Same symbol always goes to same worker
			workerID := getWorkerID(tick.Symbol, p.numWorkers)

			// A full worker queue stalls the feed reader rather than losing ticks
			select {
			case workerChans[workerID] <- tick:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (p *Processor) worker(id int, ticks <-chan models.Tick, wg *sync.WaitGroup) {
	defer wg.Done()
	ctx := context.Background()

	for tick := range ticks {
		if err := p.handler.HandleTradeTick(ctx, tick); err != nil {
			p.logger.Error("Tick Handling Error", zap.Error(err), zap.String("symbol", tick.Symbol))
			continue
		}
		p.logger.Debug("Processed", zap.String("symbol", tick.Symbol), zap.Int("worker_id", id))
	}
}

func getWorkerID(symbol string, numWorkers int) int {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return int(h.Sum32() % uint32(numWorkers))
}
