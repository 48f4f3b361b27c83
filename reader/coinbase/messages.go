package coinbase

import (
	"fmt"
	"strconv"
	"time"

	"cryptostream/models"
	"cryptostream/processor"
)

// Match is a "match" or "last_match" frame of the matches channel.
type Match struct {
	Type      string    `json:"type"`
	TradeID   int64     `json:"trade_id"`
	Sequence  int64     `json:"sequence"`
	ProductID string    `json:"product_id"`
	Time      time.Time `json:"time"`
	Size      string    `json:"size"`
	Price     string    `json:"price"`
	Side      string    `json:"side"`
}

func (m Match) SubscriptionID() (models.SubscriptionID, bool) {
	if m.Type != "match" && m.Type != "last_match" {
		return "", false
	}
	return models.NewSubscriptionID(channelMatches, m.ProductID), true
}

// mapMatch reports the taker side; Coinbase sends the maker's.
func mapMatch(m Match, _ models.Instrument) ([]processor.Mapped[models.PublicTrade], error) {
	maker, err := models.ParseSide(m.Side)
	if err != nil {
		return nil, err
	}
	side := models.Buy
	if maker == models.Buy {
		side = models.Sell
	}
	price, err := parseFloat("price", m.Price)
	if err != nil {
		return nil, err
	}
	size, err := parseFloat("size", m.Size)
	if err != nil {
		return nil, err
	}
	return []processor.Mapped[models.PublicTrade]{{
		ExchangeTime: m.Time.UTC(),
		Kind: models.PublicTrade{
			ID:     strconv.FormatInt(m.TradeID, 10),
			Price:  price,
			Amount: size,
			Side:   side,
		},
	}}, nil
}

// Ticker is a frame of the ticker channel.
type Ticker struct {
	Type        string    `json:"type"`
	ProductID   string    `json:"product_id"`
	Time        time.Time `json:"time"`
	BestBid     string    `json:"best_bid"`
	BestBidSize string    `json:"best_bid_size"`
	BestAsk     string    `json:"best_ask"`
	BestAskSize string    `json:"best_ask_size"`
}

func (t Ticker) SubscriptionID() (models.SubscriptionID, bool) {
	if t.Type != "ticker" {
		return "", false
	}
	return models.NewSubscriptionID(channelTicker, t.ProductID), true
}

func mapTicker(t Ticker, _ models.Instrument) ([]processor.Mapped[models.OrderBookL1], error) {
	bid, err := level(t.BestBid, t.BestBidSize)
	if err != nil {
		return nil, err
	}
	ask, err := level(t.BestAsk, t.BestAskSize)
	if err != nil {
		return nil, err
	}
	ts := t.Time.UTC()
	return []processor.Mapped[models.OrderBookL1]{{
		ExchangeTime: ts,
		Kind:         models.OrderBookL1{LastUpdateTime: ts, BestBid: bid, BestAsk: ask},
	}}, nil
}

func parseFloat(field, raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s %q: %w", field, raw, err)
	}
	return v, nil
}

func level(price, size string) (*models.Level, error) {
	if price == "" {
		return nil, nil
	}
	p, err := parseFloat("price", price)
	if err != nil {
		return nil, err
	}
	s, err := parseFloat("size", size)
	if err != nil {
		return nil, err
	}
	if s == 0 {
		return nil, nil
	}
	return &models.Level{Price: p, Amount: s}, nil
}
