package metrics

import "cryptostream/logger"

// DropMetric identifies the metric name emitted when channel messages are dropped.
type DropMetric string

const (
	// DropMetricEvent records events the batcher buffer could not take.
	DropMetricEvent DropMetric = "events_dropped"
	// DropMetricPublish records events the kafka buffer could not take.
	DropMetricPublish DropMetric = "publish_events_dropped"
	// DropMetricBatch records flushed batches the writer buffer could not take.
	DropMetricBatch DropMetric = "batches_dropped"
)

// EmitDropMetric logs and emits a metric for one dropped channel message.
// Optional metadata (kind, symbol, stage) is added to the metric fields
// when provided.
func EmitDropMetric(log *logger.Log, metric DropMetric, kind, symbol, stage string) {
	fields := logger.Fields{}
	if kind != "" {
		fields["kind"] = kind
	}
	if symbol != "" {
		fields["symbol"] = symbol
	}
	if stage != "" {
		fields["stage"] = stage
	}

	EmitMetric(log, "channel_drops", string(metric), 1, "counter", fields)
}
