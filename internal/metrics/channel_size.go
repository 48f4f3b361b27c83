package metrics

import (
	"context"
	"time"

	"cryptostream/logger"
)

// SizedChannel is anything whose occupancy can be sampled.
type SizedChannel interface {
	Name() string
	Len() int
	Cap() int
}

// StartChannelSizeMetrics emits occupancy metrics for the given channels
// every interval until ctx is cancelled. When interval <= 0 a one-second
// cadence is used. A capacity of zero denotes an unbounded channel.
func StartChannelSizeMetrics(ctx context.Context, channels []SizedChannel, interval time.Duration) {
	if !IsFeatureEnabled(FeatureChannelSize) || len(channels) == 0 {
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
				for _, ch := range channels {
					EmitMetric(log, component, ch.Name()+"_buffer_length", ch.Len(), "gauge", logger.Fields{
						"buffer":   ch.Name(),
						"capacity": ch.Cap(),
					})
				}
			}
		}
	}()
}
