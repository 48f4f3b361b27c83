package gateio

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"cryptostream/models"
	"cryptostream/processor"
)

// Update is a channel push. The market is read from the result because the
// envelope only names the channel.
type Update[R any] struct {
	Channel string `json:"channel"`
	Event   string `json:"event"`
	Result  R      `json:"result"`
}

type marketed interface {
	market() string
}

func subscriptionID[R any](u Update[R], market string) (models.SubscriptionID, bool) {
	if u.Event != "update" || market == "" {
		return "", false
	}
	return models.NewSubscriptionID(u.Channel, market), true
}

func (u Update[R]) SubscriptionID() (models.SubscriptionID, bool) {
	switch r := any(u.Result).(type) {
	case marketed:
		return subscriptionID(u, r.market())
	case []FuturesTrade:
		if len(r) == 0 {
			return "", false
		}
		return subscriptionID(u, r[0].Contract)
	}
	return "", false
}

// SpotTrade is the result of spot.trades. create_time_ms is a decimal
// string.
type SpotTrade struct {
	ID           int64  `json:"id"`
	CreateTimeMs string `json:"create_time_ms"`
	Side         string `json:"side"`
	CurrencyPair string `json:"currency_pair"`
	Amount       string `json:"amount"`
	Price        string `json:"price"`
}

func (t SpotTrade) market() string { return t.CurrencyPair }

func mapSpotTrade(u Update[SpotTrade], _ models.Instrument) ([]processor.Mapped[models.PublicTrade], error) {
	t := u.Result
	price, err := parseFloat("price", t.Price)
	if err != nil {
		return nil, err
	}
	amount, err := parseFloat("amount", t.Amount)
	if err != nil {
		return nil, err
	}
	side, err := models.ParseSide(t.Side)
	if err != nil {
		return nil, err
	}
	ms, err := parseFloat("create_time_ms", t.CreateTimeMs)
	if err != nil {
		return nil, err
	}
	return []processor.Mapped[models.PublicTrade]{{
		ExchangeTime: time.UnixMicro(int64(ms * 1000)).UTC(),
		Kind: models.PublicTrade{
			ID:     strconv.FormatInt(t.ID, 10),
			Price:  price,
			Amount: amount,
			Side:   side,
		},
	}}, nil
}

// FuturesTrade is one entry of futures.trades. A negative size is a sell.
type FuturesTrade struct {
	ID           int64   `json:"id"`
	Size         float64 `json:"size"`
	CreateTimeMs int64   `json:"create_time_ms"`
	Price        string  `json:"price"`
	Contract     string  `json:"contract"`
}

func mapFuturesTrades(u Update[[]FuturesTrade], _ models.Instrument) ([]processor.Mapped[models.PublicTrade], error) {
	out := make([]processor.Mapped[models.PublicTrade], 0, len(u.Result))
	for _, t := range u.Result {
		price, err := parseFloat("price", t.Price)
		if err != nil {
			return nil, err
		}
		side, size := models.Buy, t.Size
		if size < 0 {
			side, size = models.Sell, -size
		}
		out = append(out, processor.Mapped[models.PublicTrade]{
			ExchangeTime: time.UnixMilli(t.CreateTimeMs).UTC(),
			Kind: models.PublicTrade{
				ID:     strconv.FormatInt(t.ID, 10),
				Price:  price,
				Amount: size,
				Side:   side,
			},
		})
	}
	return out, nil
}

// BookTicker is the result of spot.book_ticker and futures.book_ticker.
// Futures sizes are JSON numbers, spot sizes strings.
type BookTicker struct {
	Time     int64           `json:"t"`
	UpdateID int64           `json:"u"`
	Symbol   string          `json:"s"`
	Bid      json.RawMessage `json:"b"`
	BidSize  json.RawMessage `json:"B"`
	Ask      json.RawMessage `json:"a"`
	AskSize  json.RawMessage `json:"A"`
}

func (b BookTicker) market() string { return b.Symbol }

func mapBookTicker(u Update[BookTicker], _ models.Instrument) ([]processor.Mapped[models.OrderBookL1], error) {
	b := u.Result
	bid, err := level(b.Bid, b.BidSize)
	if err != nil {
		return nil, err
	}
	ask, err := level(b.Ask, b.AskSize)
	if err != nil {
		return nil, err
	}
	ts := time.UnixMilli(b.Time).UTC()
	return []processor.Mapped[models.OrderBookL1]{{
		ExchangeTime: ts,
		Kind:         models.OrderBookL1{LastUpdateTime: ts, BestBid: bid, BestAsk: ask},
	}}, nil
}

func level(price, size json.RawMessage) (*models.Level, error) {
	if len(price) == 0 || string(price) == `""` {
		return nil, nil
	}
	p, err := models.ParseNumber(price)
	if err != nil {
		return nil, fmt.Errorf("price: %w", err)
	}
	s, err := models.ParseNumber(size)
	if err != nil {
		return nil, fmt.Errorf("size: %w", err)
	}
	if s == 0 {
		return nil, nil
	}
	return &models.Level{Price: p, Amount: s}, nil
}

func parseFloat(field, raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s %q: %w", field, raw, err)
	}
	return v, nil
}
