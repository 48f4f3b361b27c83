package metrics

import "cryptostream/logger"

// DropMetric is the metric name emitted when a bounded output channel drops
// an item.
const DropMetric = "stream_items_dropped"

// EmitDropMetric records one dropped item for the exchange's output channel.
// Callers invoke it once per dropped item.
func EmitDropMetric(log *logger.Log, exchange, stage string) {
	droppedTotal.WithLabelValues(exchange).Inc()

	fields := logger.Fields{}
	if exchange != "" {
		fields["exchange"] = exchange
	}
	if stage != "" {
		fields["stage"] = stage
	}

	EmitMetric(log, "channel_drops", DropMetric, 1, "counter", fields)
}
