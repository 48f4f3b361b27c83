package processor

import (
	"time"

	"cryptostream/models"
)

// Result is one item of a market stream: an event or a non-fatal error.
type Result[T any] struct {
	Event models.MarketEvent[T]
	Err   error
}

func Ok[T any](event models.MarketEvent[T]) Result[T] { return Result[T]{Event: event} }

func Fail[T any](err error) Result[T] { return Result[T]{Err: err} }

// Decoder parses one websocket frame into a venue message.
type Decoder[M any] func(payload []byte) (M, error)

// Transformer turns one decoded venue message into zero or more results.
// Implementations are owned by a single connection task and are not safe
// for concurrent use.
type Transformer[M any, T any] interface {
	Transform(msg M) []Result[T]
}

// Instruments resolves a SubscriptionID to the instrument it was confirmed
// for during the handshake.
type Instruments interface {
	Find(id models.SubscriptionID) (models.Instrument, bool)
}

// Identifiable is implemented by venue messages. ok is false for
// housekeeping frames (pongs, heartbeats) that carry no market data.
type Identifiable interface {
	SubscriptionID() (id models.SubscriptionID, ok bool)
}

// Mapped is a venue-neutral event before the exchange and instrument are
// attached.
type Mapped[T any] struct {
	ExchangeTime time.Time
	Kind         T
}

// Mapper converts one venue message into events for the given instrument.
type Mapper[M any, T any] func(msg M, instrument models.Instrument) ([]Mapped[T], error)

// StatelessTransformer looks the message up in the SubscriptionMap and maps
// it. It holds no state between messages.
type StatelessTransformer[M Identifiable, T any] struct {
	exchange    models.ExchangeID
	instruments Instruments
	mapper      Mapper[M, T]
}

func NewStatelessTransformer[M Identifiable, T any](exchange models.ExchangeID, instruments Instruments, mapper Mapper[M, T]) *StatelessTransformer[M, T] {
	return &StatelessTransformer[M, T]{
		exchange:    exchange,
		instruments: instruments,
		mapper:      mapper,
	}
}

func (t *StatelessTransformer[M, T]) Transform(msg M) []Result[T] {
	id, ok := msg.SubscriptionID()
	if !ok {
		return nil
	}
	instrument, ok := t.instruments.Find(id)
	if !ok {
		return []Result[T]{Fail[T](&UnrecognizedInstrumentError{Exchange: t.exchange, ID: id})}
	}

	mapped, err := t.mapper(msg, instrument)
	if err != nil {
		return []Result[T]{Fail[T](&DecodeError{Exchange: t.exchange, Payload: string(id), Err: err})}
	}

	out := make([]Result[T], 0, len(mapped))
	for _, m := range mapped {
		out = append(out, Ok(models.MarketEvent[T]{
			Exchange:     t.exchange,
			Instrument:   instrument,
			ExchangeTime: m.ExchangeTime,
			Kind:         m.Kind,
		}))
	}
	return out
}
