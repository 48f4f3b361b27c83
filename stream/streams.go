// Package stream runs one task per subscription batch and multiplexes their
// output per exchange.
package stream

import (
	"context"
	"errors"
	"sort"
	"sync"

	"cryptostream/internal/channel"
	"cryptostream/internal/metrics"
	"cryptostream/logger"
	"cryptostream/models"
	"cryptostream/processor"
)

// Tagged is an item of JoinMap, labelled with the exchange it came from.
type Tagged[T any] struct {
	Exchange models.ExchangeID
	Item     processor.Result[T]
}

// Streams owns the output channel of every exchange. All batches of an
// exchange share its channel, which closes once every one of them ended.
// Each channel has a single consumer: once returned by Select it is no
// longer part of JoinMap or Join.
type Streams[T any] struct {
	mu       sync.Mutex
	channels map[models.ExchangeID]*channel.Channel[processor.Result[T]]

	// fixed after construction
	outputs map[models.ExchangeID]*channel.Channel[processor.Result[T]]
	all     []*channel.Channel[processor.Result[T]]
	tasks   map[models.ExchangeID]*sync.WaitGroup

	wg    sync.WaitGroup
	errMu sync.Mutex
	errs  []error
	log   *logger.Entry
}

func newStreams[T any](kind models.SubKind, buffer int, exchanges []models.ExchangeID) *Streams[T] {
	s := &Streams[T]{
		channels: make(map[models.ExchangeID]*channel.Channel[processor.Result[T]], len(exchanges)),
		outputs:  make(map[models.ExchangeID]*channel.Channel[processor.Result[T]], len(exchanges)),
		tasks:    make(map[models.ExchangeID]*sync.WaitGroup, len(exchanges)),
		log:      logger.GetLogger().WithComponent("streams").WithField("kind", string(kind)),
	}
	for _, ex := range exchanges {
		if _, ok := s.outputs[ex]; ok {
			continue
		}
		ch := channel.New[processor.Result[T]](string(ex)+"_"+string(kind), buffer)
		s.channels[ex] = ch
		s.outputs[ex] = ch
		s.all = append(s.all, ch)
		s.tasks[ex] = &sync.WaitGroup{}
	}
	return s
}

// spawn runs task against the exchange's channel. The channel is closed by
// closeWhenDone once every spawned task of the exchange returned.
func (s *Streams[T]) spawn(exchange models.ExchangeID, task func(out *channel.Channel[processor.Result[T]]) error) {
	ch := s.outputs[exchange]
	wg := s.tasks[exchange]
	wg.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer wg.Done()
		if err := task(ch); err != nil {
			s.errMu.Lock()
			s.errs = append(s.errs, err)
			s.errMu.Unlock()
		}
	}()
}

func (s *Streams[T]) closeWhenDone() {
	for ex, wg := range s.tasks {
		go func(ex models.ExchangeID, wg *sync.WaitGroup) {
			wg.Wait()
			s.outputs[ex].Close()
			s.log.WithField("exchange", string(ex)).Info("exchange stream closed")
		}(ex, wg)
	}
}

// Exchanges lists the exchanges whose channel has not been selected yet.
func (s *Streams[T]) Exchanges() []models.ExchangeID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ExchangeID, 0, len(s.channels))
	for ex := range s.channels {
		out = append(out, ex)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Select hands over the dedicated channel of exchange.
func (s *Streams[T]) Select(exchange models.ExchangeID) (<-chan processor.Result[T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[exchange]
	if !ok {
		return nil, false
	}
	delete(s.channels, exchange)
	return ch.Out(), true
}

func (s *Streams[T]) take() map[models.ExchangeID]*channel.Channel[processor.Result[T]] {
	s.mu.Lock()
	defer s.mu.Unlock()
	taken := s.channels
	s.channels = map[models.ExchangeID]*channel.Channel[processor.Result[T]]{}
	return taken
}

// JoinMap merges every remaining exchange channel, tagging each item with
// its exchange. The result closes when all inputs closed. After ctx is done
// the inputs are drained and discarded.
func (s *Streams[T]) JoinMap(ctx context.Context) <-chan Tagged[T] {
	out := make(chan Tagged[T])
	var wg sync.WaitGroup
	for ex, ch := range s.take() {
		wg.Add(1)
		go func(ex models.ExchangeID, in <-chan processor.Result[T]) {
			defer wg.Done()
			forward(ctx, in, out, func(item processor.Result[T]) Tagged[T] {
				return Tagged[T]{Exchange: ex, Item: item}
			})
		}(ex, ch.Out())
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// Join merges every remaining exchange channel into one unordered stream.
func (s *Streams[T]) Join(ctx context.Context) <-chan processor.Result[T] {
	out := make(chan processor.Result[T])
	var wg sync.WaitGroup
	for _, ch := range s.take() {
		wg.Add(1)
		go func(in <-chan processor.Result[T]) {
			defer wg.Done()
			forward(ctx, in, out, func(item processor.Result[T]) processor.Result[T] { return item })
		}(ch.Out())
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

func forward[I, O any](ctx context.Context, in <-chan I, out chan<- O, wrap func(I) O) {
	for item := range in {
		select {
		case out <- wrap(item):
		case <-ctx.Done():
			for range in {
			}
			return
		}
	}
}

// Channels exposes every exchange channel for occupancy metrics.
func (s *Streams[T]) Channels() []metrics.SizedChannel {
	out := make([]metrics.SizedChannel, 0, len(s.all))
	for _, ch := range s.all {
		out = append(out, ch)
	}
	return out
}

// Wait blocks until every task ended and returns the errors that ended
// them. Tasks stopped by ctx cancellation report no error.
func (s *Streams[T]) Wait() error {
	s.wg.Wait()
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return errors.Join(s.errs...)
}
