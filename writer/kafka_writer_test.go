package writer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	kafka "github.com/segmentio/kafka-go"

	appconfig "cryptostream/config"
	"cryptostream/models"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestPublishTrade(t *testing.T) {
	fw := &fakeWriter{}
	kw := newWithWriter(fw, "market-events")
	received := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	ev := models.MarketEvent[models.PublicTrade]{
		Exchange:     models.BybitSpot,
		Instrument:   models.NewInstrument("btc", "usdt", models.Spot()),
		ExchangeTime: received.Add(-time.Millisecond),
		ReceivedTime: received,
		Kind:         models.PublicTrade{ID: "1", Price: 16578.5, Amount: 0.001, Side: models.Buy},
	}
	if err := Publish(context.Background(), kw, models.SubPublicTrades, ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(fw.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(fw.msgs))
	}
	msg := fw.msgs[0]
	if string(msg.Key) != string(Key(models.BybitSpot, ev.Instrument)) || !msg.Time.Equal(received) {
		t.Fatalf("unexpected message %+v", msg)
	}
	var rec Record[models.PublicTrade]
	if err := json.Unmarshal(msg.Value, &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec.Kind != models.SubPublicTrades || rec.Event.Kind.Price != 16578.5 || rec.Event.Exchange != models.BybitSpot {
		t.Fatalf("unexpected record %+v", rec)
	}

	if err := kw.Close(); err != nil || !fw.closed {
		t.Fatalf("close: %v", err)
	}
}

func TestPublishFailureIsCounted(t *testing.T) {
	kw := newWithWriter(&fakeWriter{err: errors.New("broker down")}, "market-events")
	err := Publish(context.Background(), kw, models.SubLiquidations, models.MarketEvent[models.Liquidation]{Exchange: models.BinanceFuturesUsd})
	if err == nil {
		t.Fatalf("expected write error")
	}
	kw.completed(make([]kafka.Message, 2), errors.New("timeout"))
	kw.completed(make([]kafka.Message, 3), nil)
	if published, failed := kw.Stats(); published != 3 || failed != 3 {
		t.Fatalf("unexpected stats %d %d", published, failed)
	}
}

func TestNilWriter(t *testing.T) {
	kw, err := NewKafkaWriter(appconfig.KafkaConfig{})
	if err != nil || kw != nil {
		t.Fatalf("disabled writer should be nil: %v", err)
	}
	if err := Publish(context.Background(), kw, models.SubCandles, models.MarketEvent[models.Candle]{}); err != nil {
		t.Fatalf("nil publish: %v", err)
	}
	if _, err := NewKafkaWriter(appconfig.KafkaConfig{Enabled: true, Topic: "t"}); err == nil {
		t.Fatalf("missing brokers should fail")
	}
}
