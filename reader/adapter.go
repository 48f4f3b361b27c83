package reader

import (
	"fmt"

	"cryptostream/models"
	"cryptostream/processor"
)

// Adapter binds one venue and subscription kind to the pipeline. The
// venue's message type stays inside the adapter.
type Adapter[T any] interface {
	Connector() Connector
	Market(sub models.Subscription) (ExchangeSub, error)
	NewStream(conn *Connection) Runner[T]
}

// MarketSubs translates subscriptions into the adapter's vocabulary.
func MarketSubs[T any](adapter Adapter[T], subs []models.Subscription) ([]MarketSub, error) {
	exchange := adapter.Connector().ID()
	out := make([]MarketSub, 0, len(subs))
	for _, sub := range subs {
		if sub.Exchange != exchange {
			return nil, fmt.Errorf("subscription %s does not belong to %s", sub, exchange)
		}
		if err := sub.Validate(); err != nil {
			return nil, err
		}
		es, err := adapter.Market(sub)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", sub, err)
		}
		out = append(out, MarketSub{Sub: es, Instrument: sub.Instrument})
	}
	return out, nil
}

// StatelessAdapter wires a decoder and mapper into a StatelessTransformer.
type StatelessAdapter[M processor.Identifiable, T any] struct {
	Venue      Connector
	Kind       models.SubKind
	MarketFunc func(sub models.Subscription) (ExchangeSub, error)
	Decode     processor.Decoder[M]
	Map        processor.Mapper[M, T]
}

func (a StatelessAdapter[M, T]) Connector() Connector { return a.Venue }

func (a StatelessAdapter[M, T]) Market(sub models.Subscription) (ExchangeSub, error) {
	if sub.Kind != a.Kind {
		return ExchangeSub{}, fmt.Errorf("adapter handles %s, not %s", a.Kind, sub.Kind)
	}
	return a.MarketFunc(sub)
}

func (a StatelessAdapter[M, T]) NewStream(conn *Connection) Runner[T] {
	tr := processor.NewStatelessTransformer[M, T](conn.Exchange, conn.Map, a.Map)
	return NewExchangeStream[M, T](conn, a.Venue, a.Decode, tr, StreamOptions{Kind: a.Kind})
}

// BookAdapter wires a decoder and book extractor into an OrderBookUpdater.
type BookAdapter[M any] struct {
	Venue      Connector
	MarketFunc func(sub models.Subscription) (ExchangeSub, error)
	Decode     processor.Decoder[M]
	Extract    processor.BookExtractor[M]
	Book       processor.BookConfig
	Resyncer   Resyncer
}

func (a BookAdapter[M]) Connector() Connector { return a.Venue }

func (a BookAdapter[M]) Market(sub models.Subscription) (ExchangeSub, error) {
	if sub.Kind != models.SubOrderBooksL2 {
		return ExchangeSub{}, fmt.Errorf("adapter handles %s, not %s", models.SubOrderBooksL2, sub.Kind)
	}
	return a.MarketFunc(sub)
}

func (a BookAdapter[M]) NewStream(conn *Connection) Runner[models.OrderBookEvent] {
	updater := processor.NewOrderBookUpdater[M](conn.Exchange, conn.Map, a.Extract, a.Book)
	return NewExchangeStream[M, models.OrderBookEvent](conn, a.Venue, a.Decode, updater, StreamOptions{
		Kind:     models.SubOrderBooksL2,
		Resyncer: a.Resyncer,
	})
}
