package metrics

import (
	"strings"

	"cryptostream/logger"
)

// ReportRateLimitExceeded records a rate limit rejection from the exchange.
// stage names where it was observed, e.g. "subscribe" or "snapshot".
func ReportRateLimitExceeded(log *logger.Log, exchange, stage string) {
	if log == nil {
		log = logger.GetLogger()
	}
	fields := logger.Fields{"exchange": exchange, "stage": stage}
	EmitMetric(log, "rate_limit", "rate_limit_exceeded", 1, "counter", fields)
	log.WithComponent("rate_limit").WithFields(fields).Warn("rate limit exceeded")
}

// ReportIPBan records an IP ban signalled by the exchange.
func ReportIPBan(log *logger.Log, exchange, stage string) {
	if log == nil {
		log = logger.GetLogger()
	}
	fields := logger.Fields{"exchange": exchange, "stage": stage}
	EmitMetric(log, "rate_limit", "ip_ban", 1, "counter", fields)
	log.WithComponent("rate_limit").WithFields(fields).Error("ip banned")
}

// detectLimit inspects an exchange message and determines whether it signals
// a rate limit or an IP ban. Each venue words these differently.
func detectLimit(exchange, msg string) (rateLimit bool, ipBan bool) {
	lowerMsg := strings.ToLower(msg)
	venue := strings.ToLower(exchange)
	switch {
	case strings.HasPrefix(venue, "binance"):
		rateLimit = strings.Contains(lowerMsg, "too many requests") || strings.Contains(lowerMsg, "rate limit")
		ipBan = strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "ban")
	case venue == "okx":
		rateLimit = strings.Contains(lowerMsg, "too many requests") || strings.Contains(lowerMsg, "frequency limit")
		ipBan = strings.Contains(lowerMsg, "ip") && (strings.Contains(lowerMsg, "blocked") || strings.Contains(lowerMsg, "ban"))
	case strings.HasPrefix(venue, "bybit"):
		ipBan = strings.Contains(lowerMsg, "ip rate limit") || (strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "ban"))
		rateLimit = !ipBan && (strings.Contains(lowerMsg, "rate limit") || strings.Contains(lowerMsg, "too many requests") || strings.Contains(lowerMsg, "too many visits"))
	case venue == "deribit":
		rateLimit = strings.Contains(lowerMsg, "too_many_requests") || strings.Contains(lowerMsg, "too many requests")
	default:
		rateLimit = strings.Contains(lowerMsg, "rate limit") || strings.Contains(lowerMsg, "too many requests")
		ipBan = strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "ban")
	}
	return
}

// ReportLimitFromMessage checks the message for rate limit or IP ban wording
// and records the matching metric. It reports whether anything matched.
func ReportLimitFromMessage(log *logger.Log, exchange, stage, msg string) bool {
	rateLimit, ipBan := detectLimit(exchange, msg)
	if rateLimit {
		ReportRateLimitExceeded(log, exchange, stage)
	}
	if ipBan {
		ReportIPBan(log, exchange, stage)
	}
	return rateLimit || ipBan
}
