package bybit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cryptostream/internal/wstest"
	"cryptostream/models"
	"cryptostream/processor"
	"cryptostream/reader"

	"github.com/gorilla/websocket"
)

type routes map[models.SubscriptionID]models.Instrument

func (r routes) Find(id models.SubscriptionID) (models.Instrument, bool) {
	inst, ok := r[id]
	return inst, ok
}

type chanSink[T any] chan processor.Result[T]

func (c chanSink[T]) Send(ctx context.Context, item processor.Result[T]) bool {
	select {
	case c <- item:
		return true
	case <-ctx.Done():
		return false
	}
}

var btcusdt = models.NewInstrument("btc", "usdt", models.Spot())

const tradeFrame = `{"topic":"publicTrade.BTCUSDT","type":"snapshot","ts":1672304486868,"data":[{"T":1672304486865,"s":"BTCUSDT","S":"Buy","v":"0.001","p":"16578.50","i":"20f43950-d8dd-5b31-9112-a178eb6023af"}]}`

func TestTradeMapping(t *testing.T) {
	msg, err := reader.DecodeJSON[Message[[]Trade]]([]byte(tradeFrame))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	tr := processor.NewStatelessTransformer[Message[[]Trade], models.PublicTrade](models.BybitSpot, routes{"publicTrade|BTCUSDT": btcusdt}, mapTrades)
	out := tr.Transform(msg)
	if len(out) != 1 || out[0].Err != nil {
		t.Fatalf("unexpected results %+v", out)
	}
	ev := out[0].Event
	if ev.Kind.Price != 16578.50 || ev.Kind.Amount != 0.001 || ev.Kind.Side != models.Buy {
		t.Fatalf("unexpected trade %+v", ev.Kind)
	}
	want := time.Date(2022, 12, 29, 10, 34, 46, 865_000_000, time.UTC)
	if !ev.ExchangeTime.Equal(want) {
		t.Fatalf("exchange time = %v, want %v", ev.ExchangeTime, want)
	}

	pong, _ := reader.DecodeJSON[Message[[]Trade]]([]byte(`{"success":true,"ret_msg":"pong","conn_id":"abc","op":"ping"}`))
	if out := tr.Transform(pong); len(out) != 0 {
		t.Fatalf("pong should be housekeeping, got %+v", out)
	}
}

func TestRequestsAreChunked(t *testing.T) {
	c := NewConnector(Spot, reader.VenueOptions{})
	subs := make([]reader.ExchangeSub, 23)
	for i := range subs {
		subs[i] = reader.ExchangeSub{Channel: channelTrade, Market: "BTCUSDT"}
	}
	msgs, err := c.Requests(subs)
	if err != nil {
		t.Fatalf("requests: %v", err)
	}
	if len(msgs) != 3 || c.ExpectedResponses(subs) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(msgs))
	}
	var last opRequest
	if err := json.Unmarshal(msgs[2].Payload, &last); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if last.Op != "subscribe" || len(last.Args) != 3 || last.Args[0] != "publicTrade.BTCUSDT" {
		t.Fatalf("unexpected last frame %+v", last)
	}
}

func TestParseResponse(t *testing.T) {
	c := NewConnector(Linear, reader.VenueOptions{})
	ok, err := c.ParseResponse([]byte(`{"success":true,"ret_msg":"","conn_id":"x","req_id":"","op":"subscribe"}`))
	if err != nil || ok.Status != reader.Subscribed {
		t.Fatalf("expected success, got %+v %v", ok, err)
	}
	bad, err := c.ParseResponse([]byte(`{"success":false,"ret_msg":"error:handler not found,topic:publicTrade.NOPE","op":"subscribe"}`))
	if err != nil || bad.Status != reader.Rejected || bad.Reason == "" {
		t.Fatalf("expected rejection, got %+v %v", bad, err)
	}
	if _, err := c.ParseResponse([]byte(`{"op":"pong"}`)); !errors.Is(err, reader.ErrNotResponse) {
		t.Fatalf("pong is not a response: %v", err)
	}
}

func TestSplitTopic(t *testing.T) {
	channel, market, ok := SplitTopic("orderbook.50.BTCUSDT")
	if !ok || channel != "orderbook.50" || market != "BTCUSDT" {
		t.Fatalf("unexpected split %q %q", channel, market)
	}
	if _, _, ok := SplitTopic("nodot"); ok {
		t.Fatalf("topic without a dot should not split")
	}
}

func TestMarketRejectsWrongServer(t *testing.T) {
	a := Trades(Linear, reader.VenueOptions{})
	if _, err := a.Market(models.NewSubscription(models.BybitPerpetualsUsd, "btc", "usdt", models.Spot(), models.SubPublicTrades)); err == nil {
		t.Fatalf("linear should reject spot instruments")
	}
	sub, err := a.Market(models.NewSubscription(models.BybitPerpetualsUsd, "btc", "usdt", models.Perpetual(), models.SubPublicTrades))
	if err != nil || Topic(sub) != "publicTrade.BTCUSDT" {
		t.Fatalf("unexpected sub %+v %v", sub, err)
	}
}

func TestL1ZeroAmountIsEmptySide(t *testing.T) {
	msg, err := decode[Book]([]byte(`{"topic":"orderbook.1.BTCUSDT","type":"snapshot","ts":1672304484978,"data":{"s":"BTCUSDT","b":[["16493.50","0"]],"a":[["16611.00","0.029"]],"u":18521288,"seq":7961638724}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	out, err := mapL1(msg, btcusdt)
	if err != nil || len(out) != 1 {
		t.Fatalf("map: %+v %v", out, err)
	}
	if out[0].Kind.BestBid != nil {
		t.Fatalf("zero amount bid should leave the side empty, got %+v", out[0].Kind.BestBid)
	}
	if out[0].Kind.BestAsk == nil || out[0].Kind.BestAsk.Price != 16611.00 {
		t.Fatalf("unexpected ask %+v", out[0].Kind.BestAsk)
	}
}

func TestRejectedOpIsVenueError(t *testing.T) {
	_, err := decode[Book]([]byte(`{"success":false,"ret_msg":"error:handler not found","conn_id":"abc","op":"subscribe"}`))
	if !errors.Is(err, processor.ErrVenue) {
		t.Fatalf("expected venue error, got %v", err)
	}
	if _, err := decode[Book]([]byte(`{"success":true,"ret_msg":"pong","conn_id":"abc","op":"ping"}`)); err != nil {
		t.Fatalf("pong should decode: %v", err)
	}
}

func TestBookSnapshotThenDeltas(t *testing.T) {
	id := models.NewSubscriptionID("orderbook.50", "BTCUSDT")
	u := processor.NewOrderBookUpdater[Message[Book]](models.BybitPerpetualsUsd, routes{id: btcusdt}, extractBook, processor.BookConfig{Sequencer: processor.UpdateIDSequencer{}})

	frames := []string{
		`{"topic":"orderbook.50.BTCUSDT","type":"snapshot","ts":1672304484978,"data":{"s":"BTCUSDT","b":[["16493.50","0.006"],["16493.00","0.100"]],"a":[["16611.00","0.029"]],"u":18521288,"seq":7961638724},"cts":1672304484976}`,
		`{"topic":"orderbook.50.BTCUSDT","type":"delta","ts":1672304484979,"data":{"s":"BTCUSDT","b":[["16493.50","0"]],"a":[["16611.00","0.5"]],"u":18521289,"seq":7961638725},"cts":1672304484977}`,
		`{"topic":"orderbook.50.BTCUSDT","type":"delta","ts":1672304484980,"data":{"s":"BTCUSDT","b":[],"a":[],"u":18521291,"seq":7961638727},"cts":1672304484978}`,
	}
	var results []processor.Result[models.OrderBookEvent]
	for _, f := range frames {
		msg, err := reader.DecodeJSON[Message[Book]]([]byte(f))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		results = append(results, u.Transform(msg)...)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	book := results[1].Event.Kind.Book
	if results[1].Err != nil || len(book.Bids) != 1 || book.Bids[0].Price != 16493.00 || book.Asks[0].Amount != 0.5 {
		t.Fatalf("delta not applied: %+v", results[1])
	}
	if !errors.Is(results[2].Err, processor.ErrSequenceGap) {
		t.Fatalf("expected gap, got %v", results[2].Err)
	}
}

func TestStreamEndToEnd(t *testing.T) {
	url := wstest.Server(t, func(conn *websocket.Conn) {
		var req opRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		conn.WriteJSON(map[string]interface{}{"success": true, "ret_msg": "", "op": "subscribe"})
		conn.WriteMessage(websocket.TextMessage, []byte(tradeFrame))
		wstest.Drain(conn)
	})
	adapter := Trades(Spot, reader.VenueOptions{URL: url, HandshakeTimeout: 2 * time.Second})
	subs, err := reader.MarketSubs(adapter, []models.Subscription{
		models.NewSubscription(models.BybitSpot, "btc", "usdt", models.Spot(), models.SubPublicTrades),
	})
	if err != nil {
		t.Fatalf("market subs: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn, err := reader.NewSubscriber("").Subscribe(ctx, adapter.Connector(), subs)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	sink := make(chanSink[models.PublicTrade], 1)
	done := make(chan error, 1)
	go func() { done <- adapter.NewStream(conn).Run(ctx, sink) }()

	select {
	case item := <-sink:
		if item.Err != nil || item.Event.Kind.Price != 16578.50 || item.Event.ReceivedTime.IsZero() {
			t.Fatalf("unexpected item %+v", item)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for trade")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run after cancel: %v", err)
	}
}
