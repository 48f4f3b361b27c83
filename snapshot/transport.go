package snapshot

import (
	"net"
	"net/http"
	"time"

	"cryptostream/config"
	"cryptostream/internal/metrics"
	"cryptostream/logger"
	"cryptostream/models"
)

const userAgent = "curl/8.5.0"

// weightTransport sets a fixed user agent and reports the rate-limit
// headers of every snapshot response.
type weightTransport struct {
	exchange models.ExchangeID
	agent    string
	base     http.RoundTripper
	log      *logger.Log
	enabled  bool
}

func (t weightTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.agent)
	resp, err := t.base.RoundTrip(req)
	if err == nil && t.enabled {
		metrics.ReportUsedWeight(t.log, string(t.exchange), resp.Header)
	}
	return resp, err
}

// newHTTPClient builds the pooled client of one venue, bound to localIP
// when it is set.
func newHTTPClient(exchange models.ExchangeID, cfg config.SnapshotConfig, localIP string, reportWeight bool) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.ConnectionPool.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.ConnectionPool.MaxIdleConns,
		MaxConnsPerHost:     cfg.ConnectionPool.MaxConnsPerHost,
		IdleConnTimeout:     cfg.ConnectionPool.IdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if localIP != "" {
		if ip := net.ParseIP(localIP); ip != nil {
			dialer := &net.Dialer{LocalAddr: &net.TCPAddr{IP: ip}, Timeout: 10 * time.Second}
			transport.DialContext = dialer.DialContext
		}
	}
	return &http.Client{
		Transport: weightTransport{
			exchange: exchange,
			agent:    userAgent,
			base:     transport,
			log:      logger.GetLogger(),
			enabled:  reportWeight,
		},
		Timeout: cfg.Timeout,
	}
}
