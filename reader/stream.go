package reader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cryptostream/internal/metrics"
	"cryptostream/logger"
	"cryptostream/models"
	"cryptostream/processor"

	"github.com/cenkalti/backoff/v5"
)

// Sink receives the items of a stream. Send reports false when the item was
// not delivered.
type Sink[T any] interface {
	Send(ctx context.Context, item processor.Result[T]) bool
}

// Runner is an ExchangeStream with its venue message type hidden.
type Runner[T any] interface {
	Run(ctx context.Context, sink Sink[T]) error
	Connection() *Connection
}

// Resyncable is implemented by transformers that request out-of-band
// snapshots.
type Resyncable[T any] interface {
	TakeResyncRequests() []processor.ResyncRequest
	Seed(snapshot processor.BookUpdate) []processor.Result[T]
	ResyncFailed(id models.SubscriptionID) bool
}

// Resyncer acquires a fresh snapshot for one instrument. A nil update with a
// nil error means the snapshot will arrive in-band on the connection.
type Resyncer interface {
	Resync(ctx context.Context, req processor.ResyncRequest, conn *Connection) (*processor.BookUpdate, error)
}

type StreamOptions struct {
	// Kind labels emitted events in metrics.
	Kind     models.SubKind
	Resyncer Resyncer
	// ResyncAttempts bounds the tries per resync request.
	ResyncAttempts int
	// ResyncBackoff is the initial wait between tries.
	ResyncBackoff time.Duration
	// InBandTimeout bounds the wait for a snapshot the Resyncer asked the
	// venue to push on the connection.
	InBandTimeout time.Duration
}

const (
	defaultResyncAttempts = 5
	defaultResyncBackoff  = 500 * time.Millisecond
	maxResyncBackoff      = 10 * time.Second
	defaultInBandTimeout  = 30 * time.Second
)

type seedResult struct {
	req      processor.ResyncRequest
	snapshot *processor.BookUpdate
	err      error
	// deadline is non-zero for an expired in-band wait.
	deadline uint64
}

// ExchangeStream drives one confirmed connection: it reads frames, decodes
// them, feeds the transformer and forwards every item to a sink. The
// transformer is only touched by the Run goroutine.
type ExchangeStream[M any, T any] struct {
	conn        *Connection
	decode      processor.Decoder[M]
	transformer processor.Transformer[M, T]
	ping        *PingInterval
	opts        StreamOptions

	inflight  map[models.SubscriptionID]struct{}
	deadlines map[models.SubscriptionID]uint64
	resyncs   sync.WaitGroup
	log       *logger.Entry
}

func NewExchangeStream[M any, T any](conn *Connection, connector Connector, decode processor.Decoder[M], transformer processor.Transformer[M, T], opts StreamOptions) *ExchangeStream[M, T] {
	if opts.ResyncAttempts <= 0 {
		opts.ResyncAttempts = defaultResyncAttempts
	}
	if opts.ResyncBackoff <= 0 {
		opts.ResyncBackoff = defaultResyncBackoff
	}
	if opts.InBandTimeout <= 0 {
		opts.InBandTimeout = defaultInBandTimeout
	}
	return &ExchangeStream[M, T]{
		conn:        conn,
		decode:      decode,
		transformer: transformer,
		ping:        connector.Ping(),
		opts:        opts,
		inflight:    make(map[models.SubscriptionID]struct{}),
		deadlines:   make(map[models.SubscriptionID]uint64),
		log: logger.GetLogger().WithComponent("exchange_stream").WithFields(logger.Fields{
			"exchange":      string(conn.Exchange),
			"connection_id": conn.ID,
			"kind":          string(opts.Kind),
		}),
	}
}

func (s *ExchangeStream[M, T]) Connection() *Connection { return s.conn }

// Run returns nil after ctx is cancelled and a *TransportError when the
// connection dies. The connection is closed on return.
func (s *ExchangeStream[M, T]) Run(ctx context.Context, sink Sink[T]) error {
	exchange := string(s.conn.Exchange)
	metrics.ConnectionOpened(exchange)
	defer metrics.ConnectionClosed(exchange)

	runCtx, cancel := context.WithCancel(ctx)
	defer s.resyncs.Wait()
	defer cancel()
	defer s.conn.Close()
	context.AfterFunc(runCtx, func() { s.conn.Close() })

	frames := make(chan []byte)
	readErr := make(chan error, 1)
	seeds := make(chan seedResult)
	go s.read(runCtx, frames, readErr)
	go s.keepAlive(runCtx)

	s.log.WithField("routes", s.conn.Map.Len()).Info("stream started")

	pending := s.conn.pending
	s.conn.pending = nil
	for _, payload := range pending {
		s.handle(runCtx, sink, payload, seeds)
	}

	for {
		select {
		case <-ctx.Done():
			s.log.Info("stream stopped")
			return nil
		case payload := <-frames:
			s.handle(runCtx, sink, payload, seeds)
		case res := <-seeds:
			s.seed(runCtx, sink, res, seeds)
		case err := <-readErr:
			if ctx.Err() != nil {
				s.log.Info("stream stopped")
				return nil
			}
			s.log.WithError(err).Warn("connection lost")
			return &TransportError{Exchange: s.conn.Exchange, ConnectionID: s.conn.ID, Err: err}
		}
	}
}

func (s *ExchangeStream[M, T]) read(ctx context.Context, frames chan<- []byte, readErr chan<- error) {
	exchange := string(s.conn.Exchange)
	for {
		if err := s.conn.transport.setReadDeadline(time.Now().Add(pongWait)); err != nil {
			readErr <- err
			return
		}
		payload, err := s.conn.transport.Read()
		if err != nil {
			readErr <- err
			return
		}
		logger.RecordChannelMessage(exchange, len(payload))
		select {
		case frames <- payload:
		case <-ctx.Done():
			return
		}
	}
}

func (s *ExchangeStream[M, T]) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	var appTick <-chan time.Time
	if s.ping != nil && s.ping.Interval > 0 {
		app := time.NewTicker(s.ping.Interval)
		defer app.Stop()
		appTick = app.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.conn.transport.ping(); err != nil {
				s.log.WithError(err).Debug("ping failed")
			}
		case <-appTick:
			if err := s.conn.transport.Write(s.ping.Message); err != nil {
				s.log.WithError(err).Debug("application ping failed")
			}
		}
	}
}

func (s *ExchangeStream[M, T]) handle(ctx context.Context, sink Sink[T], payload []byte, seeds chan<- seedResult) {
	msg, err := s.decode(payload)
	if err != nil {
		s.emit(ctx, sink, processor.Fail[T](processor.NewDecodeError(s.conn.Exchange, payload, err)), time.Time{})
		return
	}
	received := time.Now().UTC()
	for _, item := range s.transformer.Transform(msg) {
		s.emit(ctx, sink, item, received)
	}
	s.scheduleResyncs(ctx, seeds)
}

func (s *ExchangeStream[M, T]) emit(ctx context.Context, sink Sink[T], item processor.Result[T], received time.Time) {
	exchange := string(s.conn.Exchange)
	if item.Err != nil {
		kind := processor.ErrorKind(item.Err)
		metrics.IncError(exchange, kind)
		s.log.WithError(item.Err).WithField("error_kind", kind).Debug("stream item error")
	} else {
		item.Event.ReceivedTime = received
		metrics.IncEvent(exchange, string(s.opts.Kind))
	}
	sink.Send(ctx, item)
}

func (s *ExchangeStream[M, T]) scheduleResyncs(ctx context.Context, seeds chan<- seedResult) {
	r, ok := any(s.transformer).(Resyncable[T])
	if !ok {
		return
	}
	for _, req := range r.TakeResyncRequests() {
		if _, busy := s.inflight[req.ID]; busy {
			continue
		}
		if s.opts.Resyncer == nil {
			s.log.WithField("subscription", string(req.ID)).Warn("no resyncer configured, waiting for an in-band snapshot")
			continue
		}
		s.inflight[req.ID] = struct{}{}
		s.resyncs.Add(1)
		go s.resync(ctx, req, seeds)
	}
}

// resync retries the Resyncer with exponential backoff and reports the
// outcome to the Run loop.
func (s *ExchangeStream[M, T]) resync(ctx context.Context, req processor.ResyncRequest, seeds chan<- seedResult) {
	defer s.resyncs.Done()
	log := s.log.WithFields(logger.Fields{"subscription": string(req.ID), "reason": req.Reason})

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.ResyncBackoff
	b.MaxInterval = maxResyncBackoff

	res := seedResult{req: req}
	for attempt := 1; ; attempt++ {
		res.snapshot, res.err = s.opts.Resyncer.Resync(ctx, req, s.conn)
		if res.err == nil || ctx.Err() != nil || attempt >= s.opts.ResyncAttempts {
			break
		}
		log.WithError(res.err).WithField("attempt", attempt).Warn("resync failed, retrying")
		select {
		case <-ctx.Done():
			return
		case <-time.After(b.NextBackOff()):
		}
	}
	select {
	case seeds <- res:
	case <-ctx.Done():
	}
}

func (s *ExchangeStream[M, T]) seed(ctx context.Context, sink Sink[T], res seedResult, seeds chan<- seedResult) {
	id := res.req.ID
	r := any(s.transformer).(Resyncable[T])
	log := s.log.WithFields(logger.Fields{"subscription": string(id), "instrument": res.req.Instrument.String()})

	if res.deadline != 0 {
		if s.deadlines[id] != res.deadline {
			return
		}
	} else {
		delete(s.inflight, id)
	}

	if res.err != nil {
		if !r.ResyncFailed(id) {
			log.WithError(res.err).Debug("resync outcome ignored, book is live")
			return
		}
		metrics.IncError(string(s.conn.Exchange), "resync_failed")
		log.WithError(res.err).Error("resync gave up")
		s.emit(ctx, sink, processor.Fail[T](&processor.ResyncError{
			Exchange:   s.conn.Exchange,
			Instrument: res.req.Instrument,
			ID:         id,
			Cause:      res.err,
		}), time.Time{})
		return
	}
	if res.snapshot == nil {
		s.deadlines[id]++
		log.WithField("timeout", s.opts.InBandTimeout.String()).Debug("resync requested in-band")
		s.resyncs.Add(1)
		go s.awaitInBand(ctx, res.req, s.deadlines[id], seeds)
		return
	}
	received := time.Now().UTC()
	for _, item := range r.Seed(*res.snapshot) {
		s.emit(ctx, sink, item, received)
	}
	log.Info("order book reseeded")
	s.scheduleResyncs(ctx, seeds)
}

// awaitInBand reports ErrResyncTimeout when the snapshot pushed by the venue
// has not arrived in time. A stale deadline is discarded by seed.
func (s *ExchangeStream[M, T]) awaitInBand(ctx context.Context, req processor.ResyncRequest, deadline uint64, seeds chan<- seedResult) {
	defer s.resyncs.Done()
	timer := time.NewTimer(s.opts.InBandTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	res := seedResult{
		req:      req,
		err:      fmt.Errorf("%w after %s", ErrResyncTimeout, s.opts.InBandTimeout),
		deadline: deadline,
	}
	select {
	case seeds <- res:
	case <-ctx.Done():
	}
}
