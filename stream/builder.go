package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cryptostream/config"
	"cryptostream/internal/channel"
	"cryptostream/logger"
	"cryptostream/models"
	"cryptostream/processor"
	"cryptostream/reader"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
)

// Options apply to every batch of a Builder. Maps are keyed by exchange
// and may be nil.
type Options struct {
	// Buffer bounds every exchange channel; 0 keeps them unbounded.
	Buffer           int
	HandshakeTimeout time.Duration
	BookDepth        int
	URLs             map[models.ExchangeID]string
	LocalIPs         map[models.ExchangeID]string
	Resyncers        map[models.ExchangeID]reader.Resyncer
	Reconnect        config.ReconnectConfig
}

func (o Options) venue(exchange models.ExchangeID) reader.VenueOptions {
	return reader.VenueOptions{
		URL:              o.URLs[exchange],
		HandshakeTimeout: o.HandshakeTimeout,
		BookDepth:        o.BookDepth,
		Resyncer:         o.Resyncers[exchange],
	}
}

type batch[T any] struct {
	exchange   models.ExchangeID
	adapter    reader.Adapter[T]
	subs       []reader.MarketSub
	subscriber *reader.Subscriber
}

// Builder groups subscriptions of one kind into batches. Every batch is
// served by its own connection.
type Builder[T any] struct {
	kind    models.SubKind
	factory Factory[T]
	opts    Options
	batches [][]models.Subscription
}

func NewBuilder[T any](kind models.SubKind, factory Factory[T], opts Options) *Builder[T] {
	return &Builder[T]{kind: kind, factory: factory, opts: opts}
}

// Subscribe adds one batch. All subscriptions of a batch must target the
// same exchange.
func (b *Builder[T]) Subscribe(subs ...models.Subscription) *Builder[T] {
	b.batches = append(b.batches, subs)
	return b
}

func (b *Builder[T]) prepare() ([]batch[T], error) {
	if len(b.batches) == 0 {
		return nil, fmt.Errorf("no %s subscriptions", b.kind)
	}
	out := make([]batch[T], 0, len(b.batches))
	for i, subs := range b.batches {
		if len(subs) == 0 {
			return nil, fmt.Errorf("batch %d is empty", i)
		}
		exchange := subs[0].Exchange
		for _, sub := range subs {
			if sub.Exchange != exchange {
				return nil, fmt.Errorf("batch %d mixes %s and %s", i, exchange, sub.Exchange)
			}
			if sub.Kind != b.kind {
				return nil, fmt.Errorf("batch %d: %s is not a %s subscription", i, sub, b.kind)
			}
		}
		adapter, err := b.factory(exchange, b.opts.venue(exchange))
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", i, err)
		}
		marketSubs, err := reader.MarketSubs(adapter, subs)
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", i, err)
		}
		out = append(out, batch[T]{
			exchange:   exchange,
			adapter:    adapter,
			subs:       marketSubs,
			subscriber: reader.NewSubscriber(b.opts.LocalIPs[exchange]),
		})
	}
	return out, nil
}

// Init performs every handshake concurrently and starts one task per batch
// once all of them succeeded. The first failed handshake cancels the others
// and is returned; no task is started in that case. Tasks stop when ctx is
// cancelled.
func (b *Builder[T]) Init(ctx context.Context) (*Streams[T], error) {
	batches, err := b.prepare()
	if err != nil {
		return nil, err
	}
	log := logger.GetLogger().WithComponent("streams").WithFields(logger.Fields{
		"kind":    string(b.kind),
		"batches": len(batches),
	})

	start := time.Now()
	conns := make([]*reader.Connection, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	for i := range batches {
		bt := batches[i]
		g.Go(func() error {
			conn, err := bt.subscriber.Subscribe(gctx, bt.adapter.Connector(), bt.subs)
			if err != nil {
				return err
			}
			conns[i] = conn
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, conn := range conns {
			if conn != nil {
				conn.Close()
			}
		}
		log.WithError(err).Error("stream initialisation failed")
		return nil, err
	}
	logger.LogPerformanceEntry(log, "streams", "init", time.Since(start), nil)

	exchanges := make([]models.ExchangeID, 0, len(batches))
	for _, bt := range batches {
		exchanges = append(exchanges, bt.exchange)
	}
	streams := newStreams[T](b.kind, b.opts.Buffer, exchanges)
	for i, bt := range batches {
		conn := conns[i]
		streams.spawn(bt.exchange, func(out *channel.Channel[processor.Result[T]]) error {
			return b.run(ctx, bt, conn, out)
		})
	}
	streams.closeWhenDone()
	return streams, nil
}

// run drives one batch until ctx is done. Without reconnect a transport
// failure ends the batch; with it the handshake is retried with backoff.
func (b *Builder[T]) run(ctx context.Context, bt batch[T], conn *reader.Connection, out *channel.Channel[processor.Result[T]]) error {
	log := logger.GetLogger().WithComponent("streams").WithFields(logger.Fields{
		"exchange": string(bt.exchange),
		"kind":     string(b.kind),
	})
	for {
		err := bt.adapter.NewStream(conn).Run(ctx, out)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		if !b.opts.Reconnect.Enabled {
			log.WithError(err).Error("connection ended")
			return err
		}
		log.WithError(err).Warn("connection ended, reconnecting")
		conn, err = b.reconnect(ctx, bt, log)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.WithError(err).Error("reconnect gave up")
			return err
		}
	}
}

func (b *Builder[T]) reconnect(ctx context.Context, bt batch[T], log *logger.Entry) (*reader.Connection, error) {
	cfg := b.opts.Reconnect
	policy := backoff.NewExponentialBackOff()
	if cfg.InitialInterval > 0 {
		policy.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		policy.MaxInterval = cfg.MaxInterval
	}
	return backoff.Retry(ctx, func() (*reader.Connection, error) {
		conn, err := bt.subscriber.Subscribe(ctx, bt.adapter.Connector(), bt.subs)
		if errors.Is(err, reader.ErrRejected) {
			// a venue that rejects the batch keeps rejecting it
			return nil, backoff.Permanent(err)
		}
		return conn, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxElapsedTime(cfg.MaxElapsedTime),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.WithError(err).WithField("retry_in", next.String()).Warn("reconnect failed")
		}),
	)
}

// SplitByKind regroups batches so that each batch holds a single
// subscription kind, keeping the configured order.
func SplitByKind(batches [][]models.Subscription) map[models.SubKind][][]models.Subscription {
	out := make(map[models.SubKind][][]models.Subscription)
	for _, subs := range batches {
		var kinds []models.SubKind
		byKind := make(map[models.SubKind][]models.Subscription)
		for _, sub := range subs {
			if _, ok := byKind[sub.Kind]; !ok {
				kinds = append(kinds, sub.Kind)
			}
			byKind[sub.Kind] = append(byKind[sub.Kind], sub)
		}
		for _, kind := range kinds {
			out[kind] = append(out[kind], byKind[kind])
		}
	}
	return out
}
