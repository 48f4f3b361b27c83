package bitfinex

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"cryptostream/models"
	"cryptostream/processor"
)

// frame splits [chanId, body...] into its channel id and body. Event
// objects decode to a zero frame.
func frame(data []byte) (chanID int64, body []json.RawMessage, err error) {
	if len(data) == 0 || data[0] != '[' {
		return 0, nil, nil
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return 0, nil, err
	}
	if len(parts) < 2 {
		return 0, nil, fmt.Errorf("frame: expected at least 2 elements, got %d", len(parts))
	}
	if err := json.Unmarshal(parts[0], &chanID); err != nil {
		return 0, nil, fmt.Errorf("frame: channel id: %w", err)
	}
	return chanID, parts[1:], nil
}

// TradeFrame is a trades channel frame. Only "te" executions are market
// data; the snapshot sent on subscribe, "tu" repeats and heartbeats are
// housekeeping.
type TradeFrame struct {
	ChanID int64
	Type   string
	Trade  []float64
}

func (f *TradeFrame) UnmarshalJSON(data []byte) error {
	chanID, body, err := frame(data)
	if err != nil || body == nil {
		return err
	}
	f.ChanID = chanID
	var typ string
	if err := json.Unmarshal(body[0], &typ); err != nil {
		// snapshot: [chanId, [[...], ...]]
		f.Type = "snapshot"
		return nil
	}
	f.Type = typ
	if typ != "te" {
		return nil
	}
	if len(body) < 2 {
		return fmt.Errorf("te frame without trade")
	}
	if err := json.Unmarshal(body[1], &f.Trade); err != nil {
		return fmt.Errorf("te trade: %w", err)
	}
	return nil
}

func (f TradeFrame) SubscriptionID() (models.SubscriptionID, bool) {
	if f.Type != "te" {
		return "", false
	}
	return ChannelID(f.ChanID), true
}

// mapTrade reads [ID, MTS, AMOUNT, PRICE]; a negative amount is a sell.
func mapTrade(f TradeFrame, _ models.Instrument) ([]processor.Mapped[models.PublicTrade], error) {
	if len(f.Trade) < 4 {
		return nil, fmt.Errorf("trade: expected 4 fields, got %d", len(f.Trade))
	}
	id, mts, amount, price := f.Trade[0], f.Trade[1], f.Trade[2], f.Trade[3]
	side := models.Buy
	if amount < 0 {
		side = models.Sell
		amount = -amount
	}
	return []processor.Mapped[models.PublicTrade]{{
		ExchangeTime: time.UnixMilli(int64(mts)).UTC(),
		Kind: models.PublicTrade{
			ID:     strconv.FormatInt(int64(id), 10),
			Price:  price,
			Amount: amount,
			Side:   side,
		},
	}}, nil
}

// TickerFrame is [chanId, [BID, BID_SIZE, ASK, ASK_SIZE, ...]].
type TickerFrame struct {
	ChanID int64
	Values []float64
}

func (f *TickerFrame) UnmarshalJSON(data []byte) error {
	chanID, body, err := frame(data)
	if err != nil || body == nil {
		return err
	}
	var values []float64
	if err := json.Unmarshal(body[0], &values); err != nil {
		// heartbeat
		return nil
	}
	f.ChanID, f.Values = chanID, values
	return nil
}

func (f TickerFrame) SubscriptionID() (models.SubscriptionID, bool) {
	if len(f.Values) == 0 {
		return "", false
	}
	return ChannelID(f.ChanID), true
}

// mapTicker leaves the exchange time zero; tickers carry none.
func mapTicker(f TickerFrame, _ models.Instrument) ([]processor.Mapped[models.OrderBookL1], error) {
	if len(f.Values) < 4 {
		return nil, fmt.Errorf("ticker: expected at least 4 fields, got %d", len(f.Values))
	}
	return []processor.Mapped[models.OrderBookL1]{{
		Kind: models.OrderBookL1{
			BestBid: models.TopLevel([]models.Level{{Price: f.Values[0], Amount: f.Values[1]}}),
			BestAsk: models.TopLevel([]models.Level{{Price: f.Values[2], Amount: f.Values[3]}}),
		},
	}}, nil
}
