package bybit

import (
	"fmt"
	"strconv"
	"time"

	"cryptostream/models"
	"cryptostream/processor"
	"cryptostream/reader"
)

// Message is the envelope of every topic push. Pong and subscribe replies
// carry no topic.
type Message[D any] struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
	Ts    int64  `json:"ts"`
	Cts   int64  `json:"cts"`
	Data  D      `json:"data"`

	Op      string `json:"op"`
	Success *bool  `json:"success"`
	RetMsg  string `json:"ret_msg"`
}

// decode fails on an op reply with success false, such as a rejected
// resubscribe on a live connection.
func decode[D any](payload []byte) (Message[D], error) {
	msg, err := reader.DecodeJSON[Message[D]](payload)
	if err != nil {
		return msg, err
	}
	if msg.Success != nil && !*msg.Success {
		return Message[D]{}, fmt.Errorf("%w: %s: %s", processor.ErrVenue, msg.Op, msg.RetMsg)
	}
	return msg, nil
}

func (m Message[D]) SubscriptionID() (models.SubscriptionID, bool) {
	channel, market, ok := SplitTopic(m.Topic)
	if !ok {
		return "", false
	}
	return models.NewSubscriptionID(channel, market), true
}

type Trade struct {
	Time   int64  `json:"T"`
	Symbol string `json:"s"`
	Side   string `json:"S"`
	Size   string `json:"v"`
	Price  string `json:"p"`
	ID     string `json:"i"`
}

func mapTrades(m Message[[]Trade], _ models.Instrument) ([]processor.Mapped[models.PublicTrade], error) {
	out := make([]processor.Mapped[models.PublicTrade], 0, len(m.Data))
	for _, t := range m.Data {
		price, err := parseFloat("price", t.Price)
		if err != nil {
			return nil, err
		}
		size, err := parseFloat("size", t.Size)
		if err != nil {
			return nil, err
		}
		side, err := models.ParseSide(t.Side)
		if err != nil {
			return nil, err
		}
		out = append(out, processor.Mapped[models.PublicTrade]{
			ExchangeTime: time.UnixMilli(t.Time).UTC(),
			Kind:         models.PublicTrade{ID: t.ID, Price: price, Amount: size, Side: side},
		})
	}
	return out, nil
}

// Book is the payload of the orderbook topics. U is the update id, which
// restarts at 1 when Bybit resends a snapshot.
type Book struct {
	Symbol string         `json:"s"`
	Bids   []models.Level `json:"b"`
	Asks   []models.Level `json:"a"`
	U      int64          `json:"u"`
	Seq    int64          `json:"seq"`
}

// mapL1 leaves a side nil when the push does not change it or when its
// level has a zero amount.
func mapL1(m Message[Book], _ models.Instrument) ([]processor.Mapped[models.OrderBookL1], error) {
	ts := eventTime(m)
	l1 := models.OrderBookL1{
		LastUpdateTime: ts,
		BestBid:        models.TopLevel(m.Data.Bids),
		BestAsk:        models.TopLevel(m.Data.Asks),
	}
	return []processor.Mapped[models.OrderBookL1]{{ExchangeTime: ts, Kind: l1}}, nil
}

func extractBook(m Message[Book]) ([]processor.BookUpdate, error) {
	id, ok := m.SubscriptionID()
	if !ok {
		return nil, nil
	}
	if m.Type != "snapshot" && m.Type != "delta" {
		return nil, fmt.Errorf("unknown book message type %q", m.Type)
	}
	return []processor.BookUpdate{{
		ID:           id,
		Snapshot:     m.Type == "snapshot" || m.Data.U == 1,
		SeqID:        m.Data.U,
		PrevSeqID:    m.Data.U - 1,
		ExchangeTime: eventTime(m),
		Bids:         m.Data.Bids,
		Asks:         m.Data.Asks,
	}}, nil
}

type Kline struct {
	Start    int64  `json:"start"`
	End      int64  `json:"end"`
	Interval string `json:"interval"`
	Open     string `json:"open"`
	Close    string `json:"close"`
	High     string `json:"high"`
	Low      string `json:"low"`
	Volume   string `json:"volume"`
	Confirm  bool   `json:"confirm"`
	Time     int64  `json:"timestamp"`
}

func mapKlines(m Message[[]Kline], _ models.Instrument) ([]processor.Mapped[models.Candle], error) {
	out := make([]processor.Mapped[models.Candle], 0, len(m.Data))
	for _, k := range m.Data {
		var vals [5]float64
		for i, f := range []struct{ name, raw string }{
			{"open", k.Open}, {"high", k.High}, {"low", k.Low}, {"close", k.Close}, {"volume", k.Volume},
		} {
			v, err := parseFloat(f.name, f.raw)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		out = append(out, processor.Mapped[models.Candle]{
			ExchangeTime: time.UnixMilli(k.Time).UTC(),
			Kind: models.Candle{
				StartTime: time.UnixMilli(k.Start).UTC(),
				CloseTime: time.UnixMilli(k.End).UTC(),
				Open:      vals[0],
				High:      vals[1],
				Low:       vals[2],
				Close:     vals[3],
				Volume:    vals[4],
				Closed:    k.Confirm,
			},
		})
	}
	return out, nil
}

// Liquidation is one entry of the allLiquidation topic. Side is the side of
// the liquidated position's closing order.
type Liquidation struct {
	Time   int64  `json:"T"`
	Symbol string `json:"s"`
	Side   string `json:"S"`
	Size   string `json:"v"`
	Price  string `json:"p"`
}

func mapLiquidations(m Message[[]Liquidation], _ models.Instrument) ([]processor.Mapped[models.Liquidation], error) {
	out := make([]processor.Mapped[models.Liquidation], 0, len(m.Data))
	for _, l := range m.Data {
		side, err := models.ParseSide(l.Side)
		if err != nil {
			return nil, err
		}
		price, err := parseFloat("price", l.Price)
		if err != nil {
			return nil, err
		}
		size, err := parseFloat("size", l.Size)
		if err != nil {
			return nil, err
		}
		ts := time.UnixMilli(l.Time).UTC()
		out = append(out, processor.Mapped[models.Liquidation]{
			ExchangeTime: ts,
			Kind:         models.Liquidation{Side: side, Price: price, Quantity: size, Time: ts},
		})
	}
	return out, nil
}

func eventTime[D any](m Message[D]) time.Time {
	ts := m.Ts
	if m.Cts != 0 {
		ts = m.Cts
	}
	return time.UnixMilli(ts).UTC()
}

func parseFloat(field, raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s %q: %w", field, raw, err)
	}
	return v, nil
}
