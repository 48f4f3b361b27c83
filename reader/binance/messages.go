package binance

import (
	"fmt"
	"strconv"
	"time"

	"cryptostream/models"
	"cryptostream/processor"
)

// Trade is a spot "trade" or futures "aggTrade" event.
type Trade struct {
	Event      string `json:"e"`
	EventTime  int64  `json:"E"`
	Symbol     string `json:"s"`
	TradeID    int64  `json:"t"`
	AggTradeID int64  `json:"a"`
	Price      string `json:"p"`
	Quantity   string `json:"q"`
	TradeTime  int64  `json:"T"`
	BuyerMaker bool   `json:"m"`
}

func (t Trade) SubscriptionID() (models.SubscriptionID, bool) {
	switch t.Event {
	case "trade":
		return models.NewSubscriptionID(channelTrade, t.Symbol), true
	case "aggTrade":
		return models.NewSubscriptionID(channelAggTrade, t.Symbol), true
	}
	return "", false
}

func mapTrade(t Trade, _ models.Instrument) ([]processor.Mapped[models.PublicTrade], error) {
	price, err := parseFloat("price", t.Price)
	if err != nil {
		return nil, err
	}
	amount, err := parseFloat("quantity", t.Quantity)
	if err != nil {
		return nil, err
	}
	id := t.TradeID
	if t.Event == "aggTrade" {
		id = t.AggTradeID
	}
	// the buyer being the maker means the seller crossed the spread
	side := models.Buy
	if t.BuyerMaker {
		side = models.Sell
	}
	return []processor.Mapped[models.PublicTrade]{{
		ExchangeTime: time.UnixMilli(t.TradeTime).UTC(),
		Kind: models.PublicTrade{
			ID:     strconv.FormatInt(id, 10),
			Price:  price,
			Amount: amount,
			Side:   side,
		},
	}}, nil
}

// BookTicker is the best bid and ask. Spot frames carry no event type or
// timestamps.
type BookTicker struct {
	Event     string `json:"e"`
	UpdateID  int64  `json:"u"`
	EventTime int64  `json:"E"`
	TxTime    int64  `json:"T"`
	Symbol    string `json:"s"`
	BidPrice  string `json:"b"`
	BidQty    string `json:"B"`
	AskPrice  string `json:"a"`
	AskQty    string `json:"A"`
}

func (b BookTicker) SubscriptionID() (models.SubscriptionID, bool) {
	if b.Symbol == "" || b.UpdateID == 0 {
		return "", false
	}
	return models.NewSubscriptionID(channelBookTicker, b.Symbol), true
}

func mapBookTicker(b BookTicker, _ models.Instrument) ([]processor.Mapped[models.OrderBookL1], error) {
	bid, err := level(b.BidPrice, b.BidQty)
	if err != nil {
		return nil, err
	}
	ask, err := level(b.AskPrice, b.AskQty)
	if err != nil {
		return nil, err
	}
	var ts time.Time
	if b.TxTime != 0 {
		ts = time.UnixMilli(b.TxTime).UTC()
	}
	return []processor.Mapped[models.OrderBookL1]{{
		ExchangeTime: ts,
		Kind:         models.OrderBookL1{LastUpdateTime: ts, BestBid: bid, BestAsk: ask},
	}}, nil
}

// DepthUpdate is a diff depth event. PrevFinalUpdateID is only sent by the
// futures server.
type DepthUpdate struct {
	Event             string         `json:"e"`
	EventTime         int64          `json:"E"`
	TxTime            int64          `json:"T"`
	Symbol            string         `json:"s"`
	FirstUpdateID     int64          `json:"U"`
	FinalUpdateID     int64          `json:"u"`
	PrevFinalUpdateID int64          `json:"pu"`
	Bids              []models.Level `json:"b"`
	Asks              []models.Level `json:"a"`
}

func extractDepth(d DepthUpdate) ([]processor.BookUpdate, error) {
	if d.Event != "depthUpdate" {
		return nil, nil
	}
	ts := d.EventTime
	if d.TxTime != 0 {
		ts = d.TxTime
	}
	return []processor.BookUpdate{{
		ID:           models.NewSubscriptionID(channelDepth, d.Symbol),
		FirstSeqID:   d.FirstUpdateID,
		SeqID:        d.FinalUpdateID,
		PrevSeqID:    d.PrevFinalUpdateID,
		ExchangeTime: time.UnixMilli(ts).UTC(),
		Bids:         d.Bids,
		Asks:         d.Asks,
	}}, nil
}

// Kline is a candlestick event.
type Kline struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	K         struct {
		StartTime int64  `json:"t"`
		CloseTime int64  `json:"T"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		Close     string `json:"c"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Volume    string `json:"v"`
		Trades    uint64 `json:"n"`
		Closed    bool   `json:"x"`
	} `json:"k"`
}

func (k Kline) SubscriptionID() (models.SubscriptionID, bool) {
	if k.Event != "kline" {
		return "", false
	}
	return models.NewSubscriptionID("@kline_"+k.K.Interval, k.Symbol), true
}

func mapKline(k Kline, _ models.Instrument) ([]processor.Mapped[models.Candle], error) {
	var vals [5]float64
	for i, f := range []struct{ name, raw string }{
		{"open", k.K.Open}, {"high", k.K.High}, {"low", k.K.Low}, {"close", k.K.Close}, {"volume", k.K.Volume},
	} {
		v, err := parseFloat(f.name, f.raw)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return []processor.Mapped[models.Candle]{{
		ExchangeTime: time.UnixMilli(k.EventTime).UTC(),
		Kind: models.Candle{
			StartTime:  time.UnixMilli(k.K.StartTime).UTC(),
			CloseTime:  time.UnixMilli(k.K.CloseTime).UTC(),
			Open:       vals[0],
			High:       vals[1],
			Low:        vals[2],
			Close:      vals[3],
			Volume:     vals[4],
			TradeCount: k.K.Trades,
			Closed:     k.K.Closed,
		},
	}}, nil
}

// ForceOrder is a futures liquidation event.
type ForceOrder struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Order     struct {
		Symbol   string `json:"s"`
		Side     string `json:"S"`
		Price    string `json:"p"`
		AvgPrice string `json:"ap"`
		Quantity string `json:"q"`
		Time     int64  `json:"T"`
	} `json:"o"`
}

func (f ForceOrder) SubscriptionID() (models.SubscriptionID, bool) {
	if f.Event != "forceOrder" {
		return "", false
	}
	return models.NewSubscriptionID(channelForceOrder, f.Order.Symbol), true
}

func mapForceOrder(f ForceOrder, _ models.Instrument) ([]processor.Mapped[models.Liquidation], error) {
	side, err := models.ParseSide(f.Order.Side)
	if err != nil {
		return nil, err
	}
	raw := f.Order.AvgPrice
	if v, err := strconv.ParseFloat(raw, 64); err != nil || v == 0 {
		raw = f.Order.Price
	}
	price, err := parseFloat("price", raw)
	if err != nil {
		return nil, err
	}
	qty, err := parseFloat("quantity", f.Order.Quantity)
	if err != nil {
		return nil, err
	}
	ts := time.UnixMilli(f.Order.Time).UTC()
	return []processor.Mapped[models.Liquidation]{{
		ExchangeTime: ts,
		Kind:         models.Liquidation{Side: side, Price: price, Quantity: qty, Time: ts},
	}}, nil
}

func parseFloat(field, raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s %q: %w", field, raw, err)
	}
	return v, nil
}

func level(price, qty string) (*models.Level, error) {
	if price == "" {
		return nil, nil
	}
	p, err := parseFloat("price", price)
	if err != nil {
		return nil, err
	}
	q, err := parseFloat("quantity", qty)
	if err != nil {
		return nil, err
	}
	if q == 0 {
		return nil, nil
	}
	return &models.Level{Price: p, Amount: q}, nil
}
