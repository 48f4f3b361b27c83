package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Level is a single price level in an order book. A level decoded from a
// venue array keeps the venue's text of both numbers, which checksums are
// computed over.
type Level struct {
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`

	priceText, amountText string
}

// Text returns the venue's text of price and amount, or the shortest
// decimal form when the level was not decoded from a venue array.
func (l Level) Text() (price, amount string) {
	if l.priceText == "" || l.amountText == "" {
		return strconv.FormatFloat(l.Price, 'f', -1, 64), strconv.FormatFloat(l.Amount, 'f', -1, 64)
	}
	return l.priceText, l.amountText
}

// UnmarshalJSON accepts the array forms venues publish levels in:
// ["4.00000200","12.00000000"], [4.000002, 12.0] and longer arrays such as
// OKX's ["px","sz","0","4"], of which only the first two entries are used.
// Plain objects {"price":..,"amount":..} are accepted as well.
func (l *Level) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		type plain Level
		var p plain
		if objErr := json.Unmarshal(data, &p); objErr != nil {
			return fmt.Errorf("level: %w", err)
		}
		*l = Level(p)
		return nil
	}
	if len(pair) < 2 {
		return fmt.Errorf("level: expected [price, amount], got %d elements", len(pair))
	}
	price, err := ParseNumber(pair[0])
	if err != nil {
		return fmt.Errorf("level price: %w", err)
	}
	amount, err := ParseNumber(pair[1])
	if err != nil {
		return fmt.Errorf("level amount: %w", err)
	}
	l.Price, l.Amount = price, amount
	l.priceText, l.amountText = numberText(pair[0]), numberText(pair[1])
	return nil
}

func numberText(raw json.RawMessage) string {
	if len(raw) >= 2 && raw[0] == '"' {
		return string(raw[1 : len(raw)-1])
	}
	return string(raw)
}

// ParseNumber decodes a JSON number or a JSON string holding a number.
func ParseNumber(raw json.RawMessage) (float64, error) {
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		return strconv.ParseFloat(s, 64)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, err
	}
	return f, nil
}

// OrderBook is the reconstructed book of one instrument. Bids are kept in
// descending price order, asks ascending, and neither side holds zero-amount
// levels.
type OrderBook struct {
	Sequence       int64     `json:"sequence"`
	LastUpdateTime time.Time `json:"last_update_time"`
	Bids           []Level   `json:"bids"`
	Asks           []Level   `json:"asks"`
}

// NewOrderBook builds a sorted book from unsorted snapshot levels. Zero
// amounts are dropped and duplicate prices keep the last occurrence.
func NewOrderBook(sequence int64, updated time.Time, bids, asks []Level) *OrderBook {
	ob := &OrderBook{
		Sequence:       sequence,
		LastUpdateTime: updated,
		Bids:           make([]Level, 0, len(bids)),
		Asks:           make([]Level, 0, len(asks)),
	}
	for _, lvl := range bids {
		ob.Bids = upsert(ob.Bids, lvl, true)
	}
	for _, lvl := range asks {
		ob.Asks = upsert(ob.Asks, lvl, false)
	}
	return ob
}

// Apply replaces levels on both sides: a zero amount deletes the level,
// otherwise it is inserted or replaced in price order.
func (ob *OrderBook) Apply(sequence int64, updated time.Time, bids, asks []Level) {
	for _, lvl := range bids {
		ob.Bids = upsert(ob.Bids, lvl, true)
	}
	for _, lvl := range asks {
		ob.Asks = upsert(ob.Asks, lvl, false)
	}
	ob.Sequence = sequence
	if !updated.IsZero() {
		ob.LastUpdateTime = updated
	}
}

func upsert(levels []Level, lvl Level, desc bool) []Level {
	i := sort.Search(len(levels), func(i int) bool {
		if desc {
			return levels[i].Price <= lvl.Price
		}
		return levels[i].Price >= lvl.Price
	})
	found := i < len(levels) && levels[i].Price == lvl.Price
	switch {
	case lvl.Amount == 0 && found:
		return append(levels[:i], levels[i+1:]...)
	case lvl.Amount == 0:
		return levels
	case found:
		levels[i] = lvl
		return levels
	}
	levels = append(levels, Level{})
	copy(levels[i+1:], levels[i:])
	levels[i] = lvl
	return levels
}

// Snapshot returns a deep copy limited to depth levels per side; depth <= 0
// copies the whole book.
func (ob *OrderBook) Snapshot(depth int) OrderBook {
	return OrderBook{
		Sequence:       ob.Sequence,
		LastUpdateTime: ob.LastUpdateTime,
		Bids:           copyLevels(ob.Bids, depth),
		Asks:           copyLevels(ob.Asks, depth),
	}
}

func copyLevels(levels []Level, depth int) []Level {
	n := len(levels)
	if depth > 0 && depth < n {
		n = depth
	}
	out := make([]Level, n)
	copy(out, levels[:n])
	return out
}

// BestBid returns the highest bid, if any.
func (ob *OrderBook) BestBid() (Level, bool) {
	if len(ob.Bids) == 0 {
		return Level{}, false
	}
	return ob.Bids[0], true
}

// BestAsk returns the lowest ask, if any.
func (ob *OrderBook) BestAsk() (Level, bool) {
	if len(ob.Asks) == 0 {
		return Level{}, false
	}
	return ob.Asks[0], true
}

// MidPrice is the arithmetic mean of best bid and best ask.
func (ob *OrderBook) MidPrice() (float64, bool) {
	bid, okBid := ob.BestBid()
	ask, okAsk := ob.BestAsk()
	if !okBid || !okAsk {
		return 0, false
	}
	return (bid.Price + ask.Price) / 2, true
}

// VolumeWeightedMidPrice weights each best price by the opposite side's amount.
func (ob *OrderBook) VolumeWeightedMidPrice() (float64, bool) {
	bid, okBid := ob.BestBid()
	ask, okAsk := ob.BestAsk()
	if !okBid || !okAsk || bid.Amount+ask.Amount == 0 {
		return 0, false
	}
	return (bid.Price*ask.Amount + ask.Price*bid.Amount) / (bid.Amount + ask.Amount), true
}
