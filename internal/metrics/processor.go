package metrics

import "cryptostream/logger"

// BatcherStats holds metrics for the batch processor.
type BatcherStats struct {
	EventsProcessed int64
	EventsSkipped   int64
	BatchesFlushed  int64
	RecordsFlushed  int64
	ActiveBatches   int
	EventChannelLen int
	EventChannelCap int
}

// ReportBatcher emits metrics for the batch processor.
func ReportBatcher(log *logger.Log, stats BatcherStats) {
	l := log.WithComponent("batcher")

	avgRecordsPerBatch := float64(0)
	if stats.BatchesFlushed > 0 {
		avgRecordsPerBatch = float64(stats.RecordsFlushed) / float64(stats.BatchesFlushed)
	}

	l.LogMetric("batcher", "events_processed", stats.EventsProcessed, "counter", logger.Fields{})
	l.LogMetric("batcher", "events_skipped", stats.EventsSkipped, "counter", logger.Fields{})
	l.LogMetric("batcher", "batches_flushed", stats.BatchesFlushed, "counter", logger.Fields{})
	l.LogMetric("batcher", "active_batches", stats.ActiveBatches, "gauge", logger.Fields{})
	l.LogMetric("batcher", "avg_records_per_batch", avgRecordsPerBatch, "gauge", logger.Fields{})

	l.WithFields(logger.Fields{
		"events_processed":      stats.EventsProcessed,
		"events_skipped":        stats.EventsSkipped,
		"batches_flushed":       stats.BatchesFlushed,
		"records_flushed":       stats.RecordsFlushed,
		"active_batches":        stats.ActiveBatches,
		"avg_records_per_batch": avgRecordsPerBatch,
		"event_channel_len":     stats.EventChannelLen,
		"event_channel_cap":     stats.EventChannelCap,
	}).Info("batcher metrics")
}
