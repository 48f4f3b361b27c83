package metrics

import (
	"net/http"
	"strconv"

	"cryptostream/logger"
)

// ReportUsedWeight inspects the REST rate-limit headers of a snapshot
// response and emits a used_weight gauge. Binance reports the consumed
// weight directly; Bybit reports a limit and the remaining quota. It returns
// the used weight and whether a metric was recorded.
func ReportUsedWeight(log *logger.Log, exchange string, header http.Header) (float64, bool) {
	if header == nil {
		return 0, false
	}
	if log == nil {
		log = logger.GetLogger()
	}

	for _, h := range []struct {
		key    string
		window string
	}{
		{"X-MBX-USED-WEIGHT-1M", "1m"},
		{"X-MBX-USED-WEIGHT", "1m"},
		{"X-MBX-USED-WEIGHT-1S", "1s"},
	} {
		value := header.Get(h.key)
		if value == "" {
			continue
		}
		used, err := strconv.ParseFloat(value, 64)
		if err != nil {
			log.WithComponent("snapshot").WithFields(logger.Fields{
				"exchange": exchange,
				"header":   h.key,
				"value":    value,
			}).WithError(err).Debug("failed to parse used weight header")
			continue
		}
		EmitMetric(log, "snapshot", "used_weight", used, "gauge", logger.Fields{
			"exchange": exchange,
			"window":   h.window,
		})
		return used, true
	}

	limitStr := header.Get("X-Bapi-Limit")
	remainingStr := header.Get("X-Bapi-Limit-Status")
	if limitStr == "" || remainingStr == "" {
		return 0, false
	}
	limit, errLimit := strconv.ParseFloat(limitStr, 64)
	remaining, errRemaining := strconv.ParseFloat(remainingStr, 64)
	if errLimit != nil || errRemaining != nil || limit <= 0 {
		log.WithComponent("snapshot").WithFields(logger.Fields{
			"exchange":  exchange,
			"limit":     limitStr,
			"remaining": remainingStr,
		}).Debug("failed to parse bybit limit headers")
		return 0, false
	}
	used := limit - remaining
	if used < 0 {
		used = 0
	}
	EmitMetric(log, "snapshot", "used_weight", used, "gauge", logger.Fields{"exchange": exchange})
	return used, true
}
