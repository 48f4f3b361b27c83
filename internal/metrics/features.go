package metrics

import (
	"strings"
	"sync/atomic"

	"cryptostream/config"
)

// Feature groups optional metrics that can be switched off in configuration.
type Feature string

const (
	FeatureUsedWeight  Feature = "used_weight"
	FeatureChannelSize Feature = "channel_size"
)

type featureSet struct {
	usedWeight  bool
	channelSize bool
}

var features atomic.Pointer[featureSet]

func init() {
	features.Store(&featureSet{usedWeight: true, channelSize: true})
}

// Configure applies the metric feature toggles.
func Configure(cfg config.MetricsConfig) {
	features.Store(&featureSet{usedWeight: cfg.UsedWeight, channelSize: cfg.ChannelSize})
}

// IsFeatureEnabled reports whether metrics of the given feature are emitted.
func IsFeatureEnabled(f Feature) bool {
	set := features.Load()
	switch f {
	case FeatureUsedWeight:
		return set.usedWeight
	case FeatureChannelSize:
		return set.channelSize
	default:
		return true
	}
}

func featureForMetric(name string) (Feature, bool) {
	switch {
	case strings.HasPrefix(name, "used_weight"):
		return FeatureUsedWeight, true
	case strings.HasSuffix(name, "_buffer_length"):
		return FeatureChannelSize, true
	default:
		return "", false
	}
}
