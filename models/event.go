package models

import (
	"fmt"
	"strings"
	"time"
)

// MarketEvent is the canonical envelope for every normalised event.
// ExchangeTime comes from the venue payload and is zero when the payload
// carries no time, as on Binance spot bookTicker and Bitfinex ticker frames.
// ReceivedTime is local ingestion time and is always set.
type MarketEvent[T any] struct {
	Exchange     ExchangeID `json:"exchange"`
	Instrument   Instrument `json:"instrument"`
	ExchangeTime time.Time  `json:"exchange_time"`
	ReceivedTime time.Time  `json:"received_time"`
	Kind         T          `json:"kind"`
}

// Side is the aggressor side of a trade or the side of a liquidation order.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// ParseSide accepts the spellings used across venues.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "b", "bid":
		return Buy, nil
	case "sell", "s", "ask", "offer":
		return Sell, nil
	}
	return "", fmt.Errorf("unknown side %q", s)
}

// PublicTrade is a normalised trade print.
type PublicTrade struct {
	ID     string  `json:"id"`
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
	Side   Side    `json:"side"`
}

// Candle is a normalised OHLCV bar.
type Candle struct {
	StartTime  time.Time `json:"start_time"`
	CloseTime  time.Time `json:"close_time"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	TradeCount uint64    `json:"trade_count"`
	Closed     bool      `json:"closed"`
}

// Liquidation is a forced order reported by a derivatives venue.
type Liquidation struct {
	Side     Side      `json:"side"`
	Price    float64   `json:"price"`
	Quantity float64   `json:"quantity"`
	Time     time.Time `json:"time"`
}

// OrderBookL1 is the top of book.
type OrderBookL1 struct {
	LastUpdateTime time.Time `json:"last_update_time"`
	BestBid        *Level    `json:"best_bid,omitempty"`
	BestAsk        *Level    `json:"best_ask,omitempty"`
}

// TopLevel returns the first level of a side, or nil when the side is empty
// or its first level has no amount.
func TopLevel(levels []Level) *Level {
	if len(levels) == 0 || levels[0].Amount == 0 {
		return nil
	}
	top := levels[0]
	return &top
}

// MidPrice returns the mid of best bid and ask, or false when a side is empty.
func (l OrderBookL1) MidPrice() (float64, bool) {
	if l.BestBid == nil || l.BestAsk == nil {
		return 0, false
	}
	return (l.BestBid.Price + l.BestAsk.Price) / 2, true
}

// OrderBookEventKind tells a consumer whether the emitted book replaced the
// previous state or was derived from it by a delta.
type OrderBookEventKind string

const (
	OrderBookSnapshot OrderBookEventKind = "snapshot"
	OrderBookUpdate   OrderBookEventKind = "update"
)

// OrderBookEvent carries the book state after a snapshot or applied delta.
type OrderBookEvent struct {
	Kind OrderBookEventKind `json:"kind"`
	Book OrderBook          `json:"book"`
}
