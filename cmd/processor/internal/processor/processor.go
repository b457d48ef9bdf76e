package processor

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/aryanseth9795/stocklabs-backend/pkg/models"
)

const workerBuffer = 100

// Stats counts what happened to every consumed message.
type Stats struct {
	Written int64
	Stale   int64
	Invalid int64
	Dropped int64
	Failed  int64
}

type Processor struct {
	logger     Logger
	sink       Sink
	reader     KafkaReader
	numWorkers int

	written, stale, invalid, dropped, failed atomic.Int64
}

func NewProcessor(numWorkers int, logger Logger, sink Sink, reader KafkaReader) *Processor {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return &Processor{
		logger:     logger,
		sink:       sink,
		reader:     reader,
		numWorkers: numWorkers,
	}
}

func (p *Processor) Stats() Stats {
	return Stats{
		Written: p.written.Load(),
		Stale:   p.stale.Load(),
		Invalid: p.invalid.Load(),
		Dropped: p.dropped.Load(),
		Failed:  p.failed.Load(),
	}
}

// Run consumes ticks until ctx is done, then drains the workers.
func (p *Processor) Run(ctx context.Context) error {
	shards := make([]chan models.Tick, p.numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < p.numWorkers; i++ {
		shards[i] = make(chan models.Tick, workerBuffer)
		wg.Add(1)
		go p.worker(i, shards[i], &wg)
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		p.logger.Info("Processor Started", zap.Int("workers", p.numWorkers))
		for {
			m, err := p.reader.ReadMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
					return
				}
				p.logger.Error("Kafka Read Error", zap.Error(err))
				continue
			}

			tick, ok := p.decode(m.Value)
			if !ok {
				continue
			}

			// The symbol, not the message key, picks the shard so keyless producers keep order too.
			workerID := shardFor(tick.Symbol, p.numWorkers)

			select {
			case shards[workerID] <- tick:
			case <-ctx.Done():
				return
			default:
				// A newer tick for the symbol will follow; freshness beats completeness.
				p.dropped.Add(1)
				p.logger.Warn("Dropping slow packet", zap.String("symbol", tick.Symbol), zap.Int("worker_id", workerID))
			}
		}
	}()

	<-ctx.Done()
	p.logger.Info("Shutdown signal received, stopping processor...")

	// The reader must be gone before its channels are closed.
	<-readerDone
	for _, ch := range shards {
		close(ch)
	}
	p.logger.Info("Waiting for workers to drain...")
	wg.Wait()

	return nil
}

func (p *Processor) decode(payload []byte) (models.Tick, bool) {
	var tick models.Tick
	if err := json.Unmarshal(payload, &tick); err != nil {
		p.invalid.Add(1)
		p.logger.Error("JSON Unmarshal Error", zap.Error(err))
		return tick, false
	}
	tick.Symbol = models.CanonicalSymbol(tick.Symbol)
	if tick.Symbol == "" {
		p.invalid.Add(1)
		p.logger.Warn("Skipping tick without symbol")
		return tick, false
	}
	return tick, true
}

// worker owns every symbol hashed to it, so lastSeen needs no lock.
func (p *Processor) worker(id int, ticks <-chan models.Tick, wg *sync.WaitGroup) {
	defer wg.Done()
	// Background context so shutdown does not cut a store write in half.
	ctx := context.Background()
	lastSeen := make(map[string]int64)

	for tick := range ticks {
		// Redelivery after a rebalance can replay older captures; never move a symbol backwards.
		if tick.Timestamp < lastSeen[tick.Symbol] {
			p.stale.Add(1)
			p.logger.Debug("Skipping stale tick", zap.String("symbol", tick.Symbol), zap.Int64("timestamp", tick.Timestamp))
			continue
		}

		if err := p.sink.Set(ctx, tick); err != nil {
			p.failed.Add(1)
			p.logger.Error("Tick store write failed", zap.Error(err), zap.String("symbol", tick.Symbol))
			continue
		}
		lastSeen[tick.Symbol] = tick.Timestamp
		p.written.Add(1)
		p.logger.Debug("Processed", zap.String("symbol", tick.Symbol), zap.Int("worker_id", id))
	}
}

func shardFor(symbol string, numWorkers int) int {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return int(h.Sum32() % uint32(numWorkers))
}
