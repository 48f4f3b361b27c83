package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cryptostream/models"
	"cryptostream/processor"

	bybit "github.com/bybit-exchange/bybit.go.api"
)

const (
	BybitURL = "https://api.bybit.com"

	// matches the depth of the orderbook.200 spot stream
	bybitSpotMaxDepth = 200
)

type bybitFetcher struct {
	client   *bybit.Client
	category string
	maxDepth int
}

func newBybitSpotFetcher(c clientOptions) fetcher {
	client := bybit.NewBybitHttpClient("", "", bybit.WithBaseURL(c.baseURL(BybitURL)))
	client.HTTPClient = c.http
	return bybitFetcher{client: client, category: "spot", maxDepth: bybitSpotMaxDepth}
}

type bybitBook struct {
	Symbol string         `json:"s"`
	Bids   []models.Level `json:"b"`
	Asks   []models.Level `json:"a"`
	Ts     int64          `json:"ts"`
	U      int64          `json:"u"`
	Seq    int64          `json:"seq"`
}

func (f bybitFetcher) fetch(ctx context.Context, market string, depth int) (*processor.BookUpdate, error) {
	params := map[string]interface{}{
		"category": f.category,
		"symbol":   market,
		"limit":    min(depth, f.maxDepth),
	}
	resp, err := f.client.NewUtaBybitServiceWithParams(params).GetOrderBookInfo(ctx)
	if err != nil {
		return nil, err
	}
	if resp.RetCode != 0 {
		return nil, fmt.Errorf("retCode %d: %s", resp.RetCode, resp.RetMsg)
	}
	// the SDK leaves the result untyped
	payload, err := json.Marshal(resp.Result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	var book bybitBook
	if err := json.Unmarshal(payload, &book); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &processor.BookUpdate{
		SeqID:        book.U,
		ExchangeTime: time.UnixMilli(book.Ts).UTC(),
		Bids:         book.Bids,
		Asks:         book.Asks,
	}, nil
}
