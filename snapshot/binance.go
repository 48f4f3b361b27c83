package snapshot

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"cryptostream/models"
	"cryptostream/processor"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
)

const (
	BinanceSpotURL    = "https://api.binance.com"
	BinanceFuturesURL = "https://fapi.binance.com"
)

type binanceSpotFetcher struct {
	client *binance.Client
}

func newBinanceSpotFetcher(c clientOptions) fetcher {
	client := binance.NewClient("", "")
	client.HTTPClient = c.http
	client.BaseURL = c.baseURL(BinanceSpotURL)
	return binanceSpotFetcher{client: client}
}

func (f binanceSpotFetcher) fetch(ctx context.Context, market string, depth int) (*processor.BookUpdate, error) {
	res, err := f.client.NewDepthService().Symbol(market).Limit(depth).Do(ctx)
	if err != nil {
		return nil, err
	}
	// spot depth snapshots carry no time
	upd := &processor.BookUpdate{SeqID: res.LastUpdateID}
	for _, b := range res.Bids {
		lvl, err := level(b.Price, b.Quantity)
		if err != nil {
			return nil, err
		}
		upd.Bids = append(upd.Bids, lvl)
	}
	for _, a := range res.Asks {
		lvl, err := level(a.Price, a.Quantity)
		if err != nil {
			return nil, err
		}
		upd.Asks = append(upd.Asks, lvl)
	}
	return upd, nil
}

type binanceFuturesFetcher struct {
	client *futures.Client
}

func newBinanceFuturesFetcher(c clientOptions) fetcher {
	client := futures.NewClient("", "")
	client.HTTPClient = c.http
	client.SetApiEndpoint(c.baseURL(BinanceFuturesURL))
	return binanceFuturesFetcher{client: client}
}

// USD-M futures only accepts a fixed set of depth limits; other values are
// rounded up to the next allowed one.
func (f binanceFuturesFetcher) fetch(ctx context.Context, market string, depth int) (*processor.BookUpdate, error) {
	res, err := f.client.NewDepthService().Symbol(market).Limit(futuresDepth(depth)).Do(ctx)
	if err != nil {
		return nil, err
	}
	upd := &processor.BookUpdate{SeqID: res.LastUpdateID}
	if res.TradeTime != 0 {
		upd.ExchangeTime = time.UnixMilli(res.TradeTime).UTC()
	}
	for _, b := range res.Bids {
		lvl, err := level(b.Price, b.Quantity)
		if err != nil {
			return nil, err
		}
		upd.Bids = append(upd.Bids, lvl)
	}
	for _, a := range res.Asks {
		lvl, err := level(a.Price, a.Quantity)
		if err != nil {
			return nil, err
		}
		upd.Asks = append(upd.Asks, lvl)
	}
	return upd, nil
}

func futuresDepth(depth int) int {
	for _, allowed := range []int{5, 10, 20, 50, 100, 500, 1000} {
		if depth <= allowed {
			return allowed
		}
	}
	return 1000
}

func level(price, qty string) (models.Level, error) {
	p, err := strconv.ParseFloat(price, 64)
	if err != nil {
		return models.Level{}, fmt.Errorf("price %q: %w", price, err)
	}
	q, err := strconv.ParseFloat(qty, 64)
	if err != nil {
		return models.Level{}, fmt.Errorf("quantity %q: %w", qty, err)
	}
	return models.Level{Price: p, Amount: q}, nil
}
