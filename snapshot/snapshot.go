// Package snapshot fetches REST order book snapshots for venues whose
// websocket only publishes deltas, and serves them as reader.Resyncer.
package snapshot

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cryptostream/config"
	"cryptostream/internal/metrics"
	"cryptostream/logger"
	"cryptostream/models"
	"cryptostream/processor"
	"cryptostream/reader"

	"golang.org/x/time/rate"
)

const (
	defaultDepth = 1000
	defaultRPS   = 5
)

type fetcher interface {
	fetch(ctx context.Context, market string, depth int) (*processor.BookUpdate, error)
}

type clientOptions struct {
	http *http.Client
	base string
}

func (o clientOptions) baseURL(def string) string {
	if o.base != "" {
		return o.base
	}
	return def
}

var fetchers = map[models.ExchangeID]func(clientOptions) fetcher{
	models.BinanceSpot:       newBinanceSpotFetcher,
	models.BinanceFuturesUsd: newBinanceFuturesFetcher,
	models.BybitSpot:         newBybitSpotFetcher,
}

// Supported reports whether snapshots can be fetched for exchange.
func Supported(exchange models.ExchangeID) bool {
	_, ok := fetchers[exchange]
	return ok
}

// Service fetches snapshots for one exchange, paced by its rate limiter.
type Service struct {
	exchange models.ExchangeID
	fetcher  fetcher
	limiter  *rate.Limiter
	depth    int
	log      *logger.Log
}

// New builds the snapshot service of exchange. usedWeight enables the
// used_weight gauge on every response.
func New(exchange models.ExchangeID, cfg config.SnapshotConfig, localIP string, usedWeight bool) (*Service, error) {
	build, ok := fetchers[exchange]
	if !ok {
		return nil, fmt.Errorf("snapshot: %s has no REST snapshot", exchange)
	}
	rps, burst := float64(defaultRPS), defaultRPS
	if rl, ok := cfg.RateLimit[string(exchange)]; ok {
		rps, burst = rl.RequestsPerSecond, rl.Burst
	}
	if burst <= 0 {
		burst = 1
	}
	depth := cfg.Depth
	if depth <= 0 {
		depth = defaultDepth
	}
	return &Service{
		exchange: exchange,
		fetcher: build(clientOptions{
			http: newHTTPClient(exchange, cfg, localIP, usedWeight),
			base: cfg.BaseURLs[string(exchange)],
		}),
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		depth:   depth,
		log:     logger.GetLogger(),
	}, nil
}

// Fetch returns the current book of market. The update is a snapshot keyed
// by nothing; Resync attaches the subscription id.
func (s *Service) Fetch(ctx context.Context, market string) (*processor.BookUpdate, error) {
	log := s.log.WithComponent("snapshot").WithFields(logger.Fields{
		"exchange": string(s.exchange),
		"market":   market,
	})
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	snap, err := s.fetcher.fetch(ctx, market, s.depth)
	if err != nil {
		metrics.ReportLimitFromMessage(s.log, string(s.exchange), "snapshot", err.Error())
		log.WithError(err).Warn("failed to fetch order book snapshot")
		return nil, fmt.Errorf("%s snapshot %s: %w", s.exchange, market, err)
	}
	logger.LogPerformanceEntry(log, "snapshot", "api_request", time.Since(start), logger.Fields{
		"bids": len(snap.Bids),
		"asks": len(snap.Asks),
	})
	snap.Snapshot = true
	return snap, nil
}

// Resync implements reader.Resyncer.
func (s *Service) Resync(ctx context.Context, req processor.ResyncRequest, _ *reader.Connection) (*processor.BookUpdate, error) {
	_, market := req.ID.Split()
	snap, err := s.Fetch(ctx, market)
	if err != nil {
		return nil, err
	}
	snap.ID = req.ID
	return snap, nil
}

var _ reader.Resyncer = (*Service)(nil)
