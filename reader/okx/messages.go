package okx

import (
	"fmt"
	"strconv"
	"time"

	"cryptostream/models"
	"cryptostream/processor"
)

// Message is a data push. Event replies, which also carry an arg, and pongs
// are housekeeping. An error event fails decoding.
type Message[D any] struct {
	Event  string `json:"event"`
	Code   string `json:"code"`
	Msg    string `json:"msg"`
	Arg    Arg    `json:"arg"`
	Action string `json:"action"`
	Data   D      `json:"data"`
}

func (m Message[D]) SubscriptionID() (models.SubscriptionID, bool) {
	if m.Event != "" || m.Arg.Channel == "" || m.Arg.InstID == "" {
		return "", false
	}
	return models.NewSubscriptionID(m.Arg.Channel, m.Arg.InstID), true
}

type Trade struct {
	InstID  string `json:"instId"`
	TradeID string `json:"tradeId"`
	Price   string `json:"px"`
	Size    string `json:"sz"`
	Side    string `json:"side"`
	Ts      string `json:"ts"`
}

func mapTrades(m Message[[]Trade], _ models.Instrument) ([]processor.Mapped[models.PublicTrade], error) {
	out := make([]processor.Mapped[models.PublicTrade], 0, len(m.Data))
	for _, t := range m.Data {
		price, err := parseFloat("px", t.Price)
		if err != nil {
			return nil, err
		}
		size, err := parseFloat("sz", t.Size)
		if err != nil {
			return nil, err
		}
		side, err := models.ParseSide(t.Side)
		if err != nil {
			return nil, err
		}
		ts, err := millis(t.Ts)
		if err != nil {
			return nil, err
		}
		out = append(out, processor.Mapped[models.PublicTrade]{
			ExchangeTime: ts,
			Kind:         models.PublicTrade{ID: t.TradeID, Price: price, Amount: size, Side: side},
		})
	}
	return out, nil
}

// Book is one entry of the books and bbo-tbt channels. PrevSeqID is -1 on
// snapshots. Checksum is absent on bbo-tbt.
type Book struct {
	Asks      []models.Level `json:"asks"`
	Bids      []models.Level `json:"bids"`
	Ts        string         `json:"ts"`
	Checksum  *int64         `json:"checksum"`
	SeqID     int64          `json:"seqId"`
	PrevSeqID int64          `json:"prevSeqId"`
}

func mapBBO(m Message[[]Book], _ models.Instrument) ([]processor.Mapped[models.OrderBookL1], error) {
	out := make([]processor.Mapped[models.OrderBookL1], 0, len(m.Data))
	for _, b := range m.Data {
		ts, err := millis(b.Ts)
		if err != nil {
			return nil, err
		}
		l1 := models.OrderBookL1{
			LastUpdateTime: ts,
			BestBid:        models.TopLevel(b.Bids),
			BestAsk:        models.TopLevel(b.Asks),
		}
		out = append(out, processor.Mapped[models.OrderBookL1]{ExchangeTime: ts, Kind: l1})
	}
	return out, nil
}

func extractBooks(m Message[[]Book]) ([]processor.BookUpdate, error) {
	id, ok := m.SubscriptionID()
	if !ok {
		return nil, nil
	}
	if m.Action != "snapshot" && m.Action != "update" {
		return nil, fmt.Errorf("unknown book action %q", m.Action)
	}
	out := make([]processor.BookUpdate, 0, len(m.Data))
	for _, b := range m.Data {
		ts, err := millis(b.Ts)
		if err != nil {
			return nil, err
		}
		out = append(out, processor.BookUpdate{
			ID:           id,
			Snapshot:     m.Action == "snapshot",
			SeqID:        b.SeqID,
			PrevSeqID:    b.PrevSeqID,
			Checksum:     b.Checksum,
			ExchangeTime: ts,
			Bids:         b.Bids,
			Asks:         b.Asks,
		})
	}
	return out, nil
}

// CandleRow is [ts, o, h, l, c, vol, volCcy, volCcyQuote, confirm].
type CandleRow []string

func mapCandles(m Message[[]CandleRow], _ models.Instrument) ([]processor.Mapped[models.Candle], error) {
	out := make([]processor.Mapped[models.Candle], 0, len(m.Data))
	for _, row := range m.Data {
		if len(row) < 9 {
			return nil, fmt.Errorf("candle: expected 9 fields, got %d", len(row))
		}
		start, err := millis(row[0])
		if err != nil {
			return nil, err
		}
		var vals [5]float64
		for i, name := range []string{"open", "high", "low", "close", "volume"} {
			v, err := parseFloat(name, row[i+1])
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		out = append(out, processor.Mapped[models.Candle]{
			ExchangeTime: start,
			Kind: models.Candle{
				StartTime: start,
				CloseTime: start.Add(time.Minute),
				Open:      vals[0],
				High:      vals[1],
				Low:       vals[2],
				Close:     vals[3],
				Volume:    vals[4],
				Closed:    row[8] == "1",
			},
		})
	}
	return out, nil
}

func millis(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("ts %q: %w", raw, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

func parseFloat(field, raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s %q: %w", field, raw, err)
	}
	return v, nil
}
