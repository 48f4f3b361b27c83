package gateio

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cryptostream/models"
	"cryptostream/reader"
)

func TestParseResponse(t *testing.T) {
	c := NewConnector(Spot, reader.VenueOptions{})
	ok, err := c.ParseResponse([]byte(`{"time":1606292218,"time_ms":1606292218231,"channel":"spot.trades","event":"subscribe","result":{"status":"success"}}`))
	if err != nil || ok.Status != reader.Subscribed {
		t.Fatalf("expected success, got %+v %v", ok, err)
	}
	bad, err := c.ParseResponse([]byte(`{"time":1606292218,"channel":"spot.trades","event":"subscribe","error":{"code":2,"message":"unknown currency pair GIBBERISH_USD"},"result":null}`))
	if err != nil || bad.Status != reader.Rejected || bad.Reason != "code 2: unknown currency pair GIBBERISH_USD" {
		t.Fatalf("expected rejection, got %+v %v", bad, err)
	}
	if _, err := c.ParseResponse([]byte(`{"channel":"spot.trades","event":"update","result":{}}`)); !errors.Is(err, reader.ErrNotResponse) {
		t.Fatalf("update is not a response: %v", err)
	}
}

func TestRequestsOnePerChannel(t *testing.T) {
	c := NewConnector(Futures, reader.VenueOptions{})
	subs := []reader.ExchangeSub{
		{Channel: "futures.trades", Market: "BTC_USDT"},
		{Channel: "futures.trades", Market: "ETH_USDT"},
		{Channel: "futures.book_ticker", Market: "BTC_USDT"},
	}
	msgs, err := c.Requests(subs)
	if err != nil || len(msgs) != 2 || c.ExpectedResponses(subs) != 2 {
		t.Fatalf("unexpected requests %d %v", len(msgs), err)
	}
	var req request
	if err := json.Unmarshal(msgs[1].Payload, &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.Channel != "futures.trades" || req.Event != "subscribe" || len(req.Payload) != 2 {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestSpotTrade(t *testing.T) {
	u, err := reader.DecodeJSON[Update[SpotTrade]]([]byte(`{"time":1606292218,"time_ms":1606292218231,"channel":"spot.trades","event":"update","result":{"id":309143071,"create_time":1606292218,"create_time_ms":"1606292218213.4578","side":"sell","currency_pair":"GT_USDT","amount":"16.4700000000","price":"0.4705000000"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if id, ok := u.SubscriptionID(); !ok || id != "spot.trades|GT_USDT" {
		t.Fatalf("unexpected id %q", id)
	}
	out, err := mapSpotTrade(u, models.NewInstrument("gt", "usdt", models.Spot()))
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	trade := out[0]
	if trade.Kind.Side != models.Sell || trade.Kind.Price != 0.4705 || trade.Kind.Amount != 16.47 || trade.Kind.ID != "309143071" {
		t.Fatalf("unexpected trade %+v", trade.Kind)
	}
	if got := trade.ExchangeTime.Truncate(time.Millisecond); !got.Equal(time.UnixMilli(1606292218213)) {
		t.Fatalf("unexpected time %v", trade.ExchangeTime)
	}
}

func TestFuturesTrades(t *testing.T) {
	u, err := reader.DecodeJSON[Update[[]FuturesTrade]]([]byte(`{"channel":"futures.trades","event":"update","time":1541503698,"result":[{"size":-108,"id":27753479,"create_time":1545136464,"create_time_ms":1545136464123,"price":"96.4","contract":"BTC_USDT"}]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if id, ok := u.SubscriptionID(); !ok || id != "futures.trades|BTC_USDT" {
		t.Fatalf("unexpected id %q", id)
	}
	out, err := mapFuturesTrades(u, models.NewInstrument("btc", "usdt", models.Perpetual()))
	if err != nil || out[0].Kind.Side != models.Sell || out[0].Kind.Amount != 108 {
		t.Fatalf("unexpected trade %+v %v", out, err)
	}
}

func TestBookTickerNumericSizes(t *testing.T) {
	u, err := reader.DecodeJSON[Update[BookTicker]]([]byte(`{"time":1615366379,"channel":"futures.book_ticker","event":"update","result":{"t":1615366379123,"u":2517661076,"s":"BTC_USDT","b":"54696.6","B":37000,"a":"54696.7","A":47061}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	out, err := mapBookTicker(u, models.NewInstrument("btc", "usdt", models.Perpetual()))
	if err != nil || out[0].Kind.BestBid.Amount != 37000 || out[0].Kind.BestAsk.Price != 54696.7 {
		t.Fatalf("unexpected l1 %+v %v", out, err)
	}
}

func TestMarket(t *testing.T) {
	if _, err := Market(Futures, models.NewInstrument("btc", "usdt", models.Spot())); err == nil {
		t.Fatalf("futures should reject spot")
	}
	got, err := Market(Spot, models.NewInstrument("btc", "usdt", models.Spot()))
	if err != nil || got != "BTC_USDT" {
		t.Fatalf("unexpected market %q %v", got, err)
	}
}
