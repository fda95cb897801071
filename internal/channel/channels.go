package channel

import (
	"context"
	"sync"
	"time"

	"cryptostream/logger"
	"cryptostream/models"
)

type ChannelStats struct {
	EventsSent     int64
	EventsDropped  int64
	PublishSent    int64
	PublishDropped int64
	BatchesSent    int64
	BatchesDropped int64
}

// Channels connects the stream pump to its consumers: Events feeds the
// batcher, Publish feeds the kafka writer and Batches carries flushed
// batches to the parquet writer.
type Channels struct {
	Events  chan models.Event
	Publish chan models.Event
	Batches chan models.Batch

	stats      ChannelStats
	statsMutex sync.RWMutex
	closeOnce  sync.Once
	log        *logger.Log
}

func NewChannels(eventBufferSize, batchBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Events:  make(chan models.Event, eventBufferSize),
		Publish: make(chan models.Event, eventBufferSize),
		Batches: make(chan models.Batch, batchBufferSize),
		log:     log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"event_buffer_size": eventBufferSize,
		"batch_buffer_size": batchBufferSize,
	}).Info("channels initialized")

	return c
}

// SendEvent queues ev for the batcher without blocking. It reports false
// when the buffer is full or ctx is done.
func (c *Channels) SendEvent(ctx context.Context, ev models.Event) bool {
	select {
	case c.Events <- ev:
		c.update(func(s *ChannelStats) { s.EventsSent++ })
		return true
	case <-ctx.Done():
		return false
	default:
		c.update(func(s *ChannelStats) { s.EventsDropped++ })
		return false
	}
}

func (c *Channels) SendPublish(ctx context.Context, ev models.Event) bool {
	select {
	case c.Publish <- ev:
		c.update(func(s *ChannelStats) { s.PublishSent++ })
		return true
	case <-ctx.Done():
		return false
	default:
		c.update(func(s *ChannelStats) { s.PublishDropped++ })
		return false
	}
}

func (c *Channels) SendBatch(ctx context.Context, b models.Batch) bool {
	select {
	case c.Batches <- b:
		c.update(func(s *ChannelStats) { s.BatchesSent++ })
		return true
	case <-ctx.Done():
		return false
	default:
		c.update(func(s *ChannelStats) { s.BatchesDropped++ })
		return false
	}
}

func (c *Channels) update(f func(*ChannelStats)) {
	c.statsMutex.Lock()
	f(&c.stats)
	c.statsMutex.Unlock()
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}

// StartMetricsReporting logs channel statistics every interval until ctx
// is done.
func (c *Channels) StartMetricsReporting(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.logChannelStats()
			}
		}
	}()
}

func (c *Channels) logChannelStats() {
	stats := c.GetStats()
	c.log.WithComponent("channels").WithFields(logger.Fields{
		"events_sent":       stats.EventsSent,
		"events_dropped":    stats.EventsDropped,
		"publish_sent":      stats.PublishSent,
		"publish_dropped":   stats.PublishDropped,
		"batches_sent":      stats.BatchesSent,
		"batches_dropped":   stats.BatchesDropped,
		"event_channel_len": len(c.Events),
		"event_channel_cap": cap(c.Events),
		"batch_channel_len": len(c.Batches),
		"batch_channel_cap": cap(c.Batches),
	}).Info("channel statistics")
}

// Close closes every channel. Senders must have stopped.
func (c *Channels) Close() {
	c.closeOnce.Do(func() {
		close(c.Events)
		close(c.Publish)
		close(c.Batches)
		c.log.WithComponent("channels").Info("all channels closed")
	})
}
