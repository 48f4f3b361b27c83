package deribit

import (
	"time"

	"cryptostream/models"
	"cryptostream/processor"
)

// Notification is a "subscription" push. RPC replies such as the
// public/test pong have no method and are housekeeping.
type Notification[D any] struct {
	Method string `json:"method"`
	Params struct {
		Channel string `json:"channel"`
		Data    D      `json:"data"`
	} `json:"params"`
}

func (n Notification[D]) SubscriptionID() (models.SubscriptionID, bool) {
	if n.Method != "subscription" {
		return "", false
	}
	return ParseWireChannel(n.Params.Channel)
}

type Trade struct {
	TradeID   string  `json:"trade_id"`
	Timestamp int64   `json:"timestamp"`
	Price     float64 `json:"price"`
	Amount    float64 `json:"amount"`
	Direction string  `json:"direction"`
}

func mapTrades(n Notification[[]Trade], _ models.Instrument) ([]processor.Mapped[models.PublicTrade], error) {
	out := make([]processor.Mapped[models.PublicTrade], 0, len(n.Params.Data))
	for _, t := range n.Params.Data {
		side, err := models.ParseSide(t.Direction)
		if err != nil {
			return nil, err
		}
		out = append(out, processor.Mapped[models.PublicTrade]{
			ExchangeTime: time.UnixMilli(t.Timestamp).UTC(),
			Kind:         models.PublicTrade{ID: t.TradeID, Price: t.Price, Amount: t.Amount, Side: side},
		})
	}
	return out, nil
}

// Quote is the best bid and ask. Prices are null on an empty side.
type Quote struct {
	Timestamp     int64    `json:"timestamp"`
	BestBidPrice  *float64 `json:"best_bid_price"`
	BestBidAmount float64  `json:"best_bid_amount"`
	BestAskPrice  *float64 `json:"best_ask_price"`
	BestAskAmount float64  `json:"best_ask_amount"`
}

func mapQuote(n Notification[Quote], _ models.Instrument) ([]processor.Mapped[models.OrderBookL1], error) {
	q := n.Params.Data
	ts := time.UnixMilli(q.Timestamp).UTC()
	l1 := models.OrderBookL1{LastUpdateTime: ts}
	if q.BestBidPrice != nil && q.BestBidAmount > 0 {
		l1.BestBid = &models.Level{Price: *q.BestBidPrice, Amount: q.BestBidAmount}
	}
	if q.BestAskPrice != nil && q.BestAskAmount > 0 {
		l1.BestAsk = &models.Level{Price: *q.BestAskPrice, Amount: q.BestAskAmount}
	}
	return []processor.Mapped[models.OrderBookL1]{{ExchangeTime: ts, Kind: l1}}, nil
}
