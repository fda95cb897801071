package metrics

import (
	"context"
	"time"

	"cryptostream/internal/channel"
	"cryptostream/logger"
)

// StartChannelSizeMetrics emits occupancy metrics for the event, publish
// and batch buffers every interval until ctx is cancelled. When
// interval <= 0, a one-second cadence is used.
func StartChannelSizeMetrics(ctx context.Context, channels *channel.Channels, interval time.Duration) {
	if channels == nil {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}

	log := logger.GetLogger()
	ticker := time.NewTicker(interval)
	component := "channel_buffers"

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				EmitMetric(log, component, "event_buffer_length", len(channels.Events), "gauge", logger.Fields{
					"buffer":   "events",
					"capacity": cap(channels.Events),
				})
				EmitMetric(log, component, "publish_buffer_length", len(channels.Publish), "gauge", logger.Fields{
					"buffer":   "publish",
					"capacity": cap(channels.Publish),
				})
				EmitMetric(log, component, "batch_buffer_length", len(channels.Batches), "gauge", logger.Fields{
					"buffer":   "batches",
					"capacity": cap(channels.Batches),
				})
			}
		}
	}()
}
