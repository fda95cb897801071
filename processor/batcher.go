package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	appconfig "cryptostream/config"
	"cryptostream/internal/metrics"
	"cryptostream/logger"
	"cryptostream/models"
)

const (
	stopFlushTimeout = 5 * time.Second
	reportInterval   = 30 * time.Second
)

// Batcher turns trade, aggregate-trade and candle events into records and
// groups them per kind and symbol. A batch is forwarded once it reaches
// BatchSize records or has been open for BatchTimeout.
type Batcher struct {
	cfg     appconfig.ProcessorConfig
	in      <-chan models.Event
	out     chan<- models.Batch
	ctx     context.Context
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	log     *logger.Log

	batches map[string]*models.Batch
	opened  map[string]time.Time
	stats   metrics.BatcherStats
}

func NewBatcher(cfg appconfig.ProcessorConfig, in <-chan models.Event, out chan<- models.Batch) *Batcher {
	return &Batcher{
		cfg:     cfg,
		in:      in,
		out:     out,
		log:     logger.GetLogger(),
		batches: make(map[string]*models.Batch),
		opened:  make(map[string]time.Time),
	}
}

func (b *Batcher) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return fmt.Errorf("batcher already running")
	}
	if b.cfg.BatchSize <= 0 || b.cfg.BatchTimeout <= 0 {
		b.mu.Unlock()
		return fmt.Errorf("batcher needs a positive batch size and timeout")
	}
	b.running = true
	b.ctx = ctx
	b.mu.Unlock()

	log := b.log.WithComponent("batcher").WithFields(logger.Fields{"operation": "start"})
	log.WithFields(logger.Fields{
		"batch_size":    b.cfg.BatchSize,
		"batch_timeout": b.cfg.BatchTimeout.String(),
	}).Info("starting batcher")

	// one worker keeps records of a symbol in arrival order
	b.wg.Add(3)
	go b.worker()
	go b.flusher()
	go b.reporter()

	log.Info("batcher started successfully")
	return nil
}

// Stop waits for the workers to exit and forwards every open batch. The
// caller cancels the context passed to Start, or closes the input channel,
// before calling Stop.
func (b *Batcher) Stop() {
	b.log.WithComponent("batcher").Info("stopping batcher")
	b.wg.Wait()

	b.mu.Lock()
	b.running = false
	pending := make([]models.Batch, 0, len(b.batches))
	for key, batch := range b.batches {
		pending = append(pending, *batch)
		b.stats.BatchesFlushed++
		b.stats.RecordsFlushed += int64(batch.RecordCount)
		delete(b.batches, key)
		delete(b.opened, key)
	}
	b.mu.Unlock()

	timer := time.NewTimer(stopFlushTimeout)
	defer timer.Stop()
	for _, batch := range pending {
		select {
		case b.out <- batch:
		case <-timer.C:
			b.log.WithComponent("batcher").WithFields(logger.Fields{
				"batch_id": batch.BatchID,
				"records":  batch.RecordCount,
			}).Warn("timed out forwarding batch on stop")
		}
	}
	b.log.WithComponent("batcher").WithFields(logger.Fields{"flushed_on_stop": len(pending)}).Info("batcher stopped")
}

func (b *Batcher) Stats() metrics.BatcherStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.ActiveBatches = len(b.batches)
	s.EventChannelLen = len(b.in)
	s.EventChannelCap = cap(b.in)
	return s
}

func (b *Batcher) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case ev, ok := <-b.in:
			if !ok {
				return
			}
			b.handle(ev)
		}
	}
}

func (b *Batcher) handle(ev models.Event) {
	rec, ok := ToRecord(ev, time.Now())
	b.mu.Lock()
	defer b.mu.Unlock()
	if !ok {
		b.stats.EventsSkipped++
		return
	}
	b.stats.EventsProcessed++

	key := string(rec.Kind) + "|" + rec.Symbol
	batch, exists := b.batches[key]
	if !exists {
		batch = &models.Batch{
			BatchID:     uuid.New().String(),
			Kind:        rec.Kind,
			Symbol:      rec.Symbol,
			Records:     make([]models.Record, 0, b.cfg.BatchSize),
			Timestamp:   time.UnixMilli(rec.EventTime).UTC(),
			ProcessedAt: time.Now(),
		}
		b.batches[key] = batch
		b.opened[key] = time.Now()
	}
	batch.Records = append(batch.Records, rec)
	batch.RecordCount = len(batch.Records)
	if ts := time.UnixMilli(rec.EventTime).UTC(); ts.After(batch.Timestamp) {
		batch.Timestamp = ts
	}

	if batch.RecordCount >= b.cfg.BatchSize {
		b.flush(key)
	}
}

func (b *Batcher) flusher() {
	defer b.wg.Done()
	tick := b.cfg.BatchTimeout / 2
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	if tick > time.Second {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.flushTimedOut()
		}
	}
}

func (b *Batcher) flushTimedOut() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	for key, opened := range b.opened {
		if now.Sub(opened) >= b.cfg.BatchTimeout {
			b.flush(key)
		}
	}
}

// flush forwards the batch under key without blocking. Callers hold mu.
func (b *Batcher) flush(key string) {
	batch, ok := b.batches[key]
	if !ok || batch.RecordCount == 0 {
		return
	}
	select {
	case b.out <- *batch:
		b.stats.BatchesFlushed++
		b.stats.RecordsFlushed += int64(batch.RecordCount)
		delete(b.batches, key)
		delete(b.opened, key)
		logger.LogDataFlowEntry(b.log.WithComponent("batcher"), "batcher", "batch_channel", batch.RecordCount, string(batch.Kind))
	case <-b.ctx.Done():
	default:
		b.log.WithComponent("batcher").WithFields(logger.Fields{"batch_key": key}).Warn("batch channel full, dropping batch")
		metrics.EmitDropMetric(b.log, metrics.DropMetricBatch, string(batch.Kind), batch.Symbol, "batcher")
		delete(b.batches, key)
		delete(b.opened, key)
	}
}

func (b *Batcher) reporter() {
	defer b.wg.Done()
	ticker := time.NewTicker(reportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			metrics.ReportBatcher(b.log, b.Stats())
		}
	}
}

// ToRecord flattens a trade, aggregate trade or candle into a record. It
// reports false for every other event kind.
func ToRecord(ev models.Event, received time.Time) (models.Record, bool) {
	rec := models.Record{ReceivedTime: received.UnixMilli()}
	switch e := ev.(type) {
	case models.Trade:
		rec.Symbol = e.Symbol
		rec.Kind = models.KindTrade
		rec.EventTime = e.EventTime
		rec.TradeID = e.TradeID
		rec.Price = e.Price
		rec.Quantity = e.Quantity
		rec.IsBuyerMaker = e.IsBuyerMaker
	case models.AggregateTrade:
		rec.Symbol = e.Symbol
		rec.Kind = models.KindAggregateTrade
		rec.EventTime = e.EventTime
		rec.TradeID = e.AggregateTradeID
		rec.Price = e.Price
		rec.Quantity = e.Quantity
		rec.IsBuyerMaker = e.IsBuyerMaker
	case models.Kline:
		k := e.Data
		rec.Symbol = e.Symbol
		rec.Kind = models.KindKline
		rec.EventTime = e.EventTime
		rec.Interval = k.Interval
		rec.OpenTime = k.StartTime
		rec.CloseTime = k.CloseTime
		rec.Open = k.Open
		rec.High = k.High
		rec.Low = k.Low
		rec.Price = k.Close
		rec.Quantity = k.BaseVolume
		rec.Closed = k.IsClosed
	default:
		return models.Record{}, false
	}
	return rec, true
}
