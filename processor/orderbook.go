package processor

import (
	"time"

	"cryptostream/internal/metrics"
	"cryptostream/logger"
	"cryptostream/models"
)

// BookUpdate is a venue-neutral order book message: a snapshot or a delta
// with its sequencing metadata. Checksum is nil when the venue sends none.
type BookUpdate struct {
	ID           models.SubscriptionID
	Snapshot     bool
	FirstSeqID   int64
	SeqID        int64
	PrevSeqID    int64
	Checksum     *int64
	ExchangeTime time.Time
	Bids         []models.Level
	Asks         []models.Level
}

// BookExtractor pulls the book updates out of one venue message. It returns
// nil for messages carrying no book data.
type BookExtractor[M any] func(msg M) ([]BookUpdate, error)

// InstrumentOrderBook is the per-instrument state held by an
// OrderBookUpdater. Book is nil until a snapshot arrives and again after the
// book is discarded.
type InstrumentOrderBook struct {
	Instrument models.Instrument
	Book       *models.OrderBook

	state    SequenceState
	awaiting bool
	buffered []BookUpdate
}

// ResyncRequest asks the connection task for a fresh snapshot of one
// instrument. Reason is "missing_snapshot", "gap" or "checksum".
type ResyncRequest struct {
	Exchange   models.ExchangeID
	ID         models.SubscriptionID
	Instrument models.Instrument
	Reason     string
}

type BookConfig struct {
	// Sequencer defaults to ContinuitySequencer.
	Sequencer Sequencer
	// Checksummer is optional; updates carrying a checksum are verified
	// against it.
	Checksummer Checksummer
	// Depth truncates emitted books; 0 emits the full book.
	Depth int
	// MaxBuffered bounds the deltas kept per instrument while a snapshot
	// is awaited. The oldest delta is dropped when full.
	MaxBuffered int
}

const defaultMaxBuffered = 1000

// OrderBookUpdater reconstructs L2 books from snapshots and deltas. Each
// instrument is checked independently: a gap or checksum failure discards
// only that instrument's book, emits one *ResyncError and queues a
// ResyncRequest. The updater never performs the resync itself.
type OrderBookUpdater[M any] struct {
	exchange    models.ExchangeID
	instruments Instruments
	extract     BookExtractor[M]
	cfg         BookConfig

	books   map[models.SubscriptionID]*InstrumentOrderBook
	pending []ResyncRequest
	log     *logger.Entry
}

func NewOrderBookUpdater[M any](exchange models.ExchangeID, instruments Instruments, extract BookExtractor[M], cfg BookConfig) *OrderBookUpdater[M] {
	if cfg.Sequencer == nil {
		cfg.Sequencer = ContinuitySequencer{}
	}
	if cfg.MaxBuffered <= 0 {
		cfg.MaxBuffered = defaultMaxBuffered
	}
	return &OrderBookUpdater[M]{
		exchange:    exchange,
		instruments: instruments,
		extract:     extract,
		cfg:         cfg,
		books:       make(map[models.SubscriptionID]*InstrumentOrderBook),
		log:         logger.GetLogger().WithComponent("order_book_updater").WithField("exchange", string(exchange)),
	}
}

func (u *OrderBookUpdater[M]) Transform(msg M) []Result[models.OrderBookEvent] {
	updates, err := u.extract(msg)
	if err != nil {
		return []Result[models.OrderBookEvent]{Fail[models.OrderBookEvent](&DecodeError{Exchange: u.exchange, Err: err})}
	}
	var out []Result[models.OrderBookEvent]
	for _, upd := range updates {
		out = append(out, u.process(upd)...)
	}
	return out
}

// Seed re-initialises one instrument from a snapshot fetched out of band and
// replays the deltas buffered while it was awaited. A seed for an instrument
// that is not awaiting a snapshot is ignored.
func (u *OrderBookUpdater[M]) Seed(snapshot BookUpdate) []Result[models.OrderBookEvent] {
	instrument, ok := u.instruments.Find(snapshot.ID)
	if !ok {
		return []Result[models.OrderBookEvent]{Fail[models.OrderBookEvent](&UnrecognizedInstrumentError{Exchange: u.exchange, ID: snapshot.ID})}
	}
	ib := u.bookFor(snapshot.ID, instrument)
	if ib.Book != nil && !ib.awaiting {
		u.log.WithField("subscription", string(snapshot.ID)).Debug("ignoring snapshot for live book")
		return nil
	}
	snapshot.Snapshot = true
	return u.seed(snapshot.ID, ib, snapshot)
}

// ResyncFailed clears the pending state of an instrument whose snapshot
// could not be fetched, so the next delta requests a new one. It reports
// false when the instrument already has a live book.
func (u *OrderBookUpdater[M]) ResyncFailed(id models.SubscriptionID) bool {
	ib, ok := u.books[id]
	if !ok || ib.Book != nil {
		return false
	}
	ib.awaiting = false
	ib.buffered = nil
	return true
}

// TakeResyncRequests returns and clears the queued resync requests.
func (u *OrderBookUpdater[M]) TakeResyncRequests() []ResyncRequest {
	out := u.pending
	u.pending = nil
	return out
}

// Book returns a copy of the current book of an instrument.
func (u *OrderBookUpdater[M]) Book(id models.SubscriptionID) (models.OrderBook, bool) {
	ib, ok := u.books[id]
	if !ok || ib.Book == nil {
		return models.OrderBook{}, false
	}
	return ib.Book.Snapshot(0), true
}

func (u *OrderBookUpdater[M]) bookFor(id models.SubscriptionID, instrument models.Instrument) *InstrumentOrderBook {
	ib, ok := u.books[id]
	if !ok {
		ib = &InstrumentOrderBook{Instrument: instrument}
		u.books[id] = ib
	}
	return ib
}

func (u *OrderBookUpdater[M]) process(upd BookUpdate) []Result[models.OrderBookEvent] {
	instrument, ok := u.instruments.Find(upd.ID)
	if !ok {
		return []Result[models.OrderBookEvent]{Fail[models.OrderBookEvent](&UnrecognizedInstrumentError{Exchange: u.exchange, ID: upd.ID})}
	}
	ib := u.bookFor(upd.ID, instrument)

	if upd.Snapshot {
		// deltas buffered before an in-band snapshot are older than it
		ib.buffered = nil
		return u.seed(upd.ID, ib, upd)
	}

	if ib.Book == nil {
		u.buffer(ib, upd)
		if !ib.awaiting {
			ib.awaiting = true
			u.request(upd.ID, ib, "missing_snapshot")
		}
		return nil
	}

	return u.applyDelta(upd.ID, ib, upd)
}

func (u *OrderBookUpdater[M]) seed(id models.SubscriptionID, ib *InstrumentOrderBook, snap BookUpdate) []Result[models.OrderBookEvent] {
	ib.Book = models.NewOrderBook(snap.SeqID, snap.ExchangeTime, snap.Bids, snap.Asks)
	ib.state = SequenceState{LastSeqID: snap.SeqID}
	ib.awaiting = false

	if err := u.verify(id, ib, snap); err != nil {
		return u.invalidate(id, ib, "checksum", err)
	}

	out := []Result[models.OrderBookEvent]{u.emit(ib, models.OrderBookSnapshot, snap.ExchangeTime)}

	buffered := ib.buffered
	ib.buffered = nil
	for i, delta := range buffered {
		if ib.Book == nil {
			ib.buffered = append(ib.buffered, buffered[i:]...)
			break
		}
		out = append(out, u.applyDelta(id, ib, delta)...)
	}
	return out
}

func (u *OrderBookUpdater[M]) applyDelta(id models.SubscriptionID, ib *InstrumentOrderBook, upd BookUpdate) []Result[models.OrderBookEvent] {
	switch u.cfg.Sequencer.Check(ib.state, upd) {
	case Skip:
		return nil
	case Gap:
		out := u.invalidate(id, ib, "gap", &SequenceGapError{
			ID:        id,
			Last:      ib.state.LastSeqID,
			PrevSeqID: upd.PrevSeqID,
			SeqID:     upd.SeqID,
		})
		// kept for replay onto the next snapshot, never applied here
		u.buffer(ib, upd)
		return out
	}

	ib.Book.Apply(upd.SeqID, upd.ExchangeTime, upd.Bids, upd.Asks)
	ib.state.LastSeqID = upd.SeqID
	ib.state.UpdatesSinceSnapshot++

	if err := u.verify(id, ib, upd); err != nil {
		return u.invalidate(id, ib, "checksum", err)
	}
	return []Result[models.OrderBookEvent]{u.emit(ib, models.OrderBookUpdate, upd.ExchangeTime)}
}

func (u *OrderBookUpdater[M]) verify(id models.SubscriptionID, ib *InstrumentOrderBook, upd BookUpdate) error {
	if upd.Checksum == nil || u.cfg.Checksummer == nil {
		return nil
	}
	computed := u.cfg.Checksummer.Checksum(ib.Book)
	if computed != *upd.Checksum {
		return &ChecksumMismatchError{ID: id, Expected: *upd.Checksum, Computed: computed}
	}
	return nil
}

func (u *OrderBookUpdater[M]) invalidate(id models.SubscriptionID, ib *InstrumentOrderBook, reason string, cause error) []Result[models.OrderBookEvent] {
	ib.Book = nil
	ib.state = SequenceState{}
	ib.buffered = nil
	ib.awaiting = true
	u.request(id, ib, reason)

	u.log.WithFields(logger.Fields{
		"subscription": string(id),
		"instrument":   ib.Instrument.String(),
		"reason":       reason,
	}).WithError(cause).Warn("order book discarded, resync requested")

	return []Result[models.OrderBookEvent]{Fail[models.OrderBookEvent](&ResyncError{
		Exchange:   u.exchange,
		Instrument: ib.Instrument,
		ID:         id,
		Cause:      cause,
	})}
}

func (u *OrderBookUpdater[M]) request(id models.SubscriptionID, ib *InstrumentOrderBook, reason string) {
	metrics.IncResync(string(u.exchange), reason)
	u.pending = append(u.pending, ResyncRequest{
		Exchange:   u.exchange,
		ID:         id,
		Instrument: ib.Instrument,
		Reason:     reason,
	})
}

func (u *OrderBookUpdater[M]) buffer(ib *InstrumentOrderBook, upd BookUpdate) {
	if len(ib.buffered) >= u.cfg.MaxBuffered {
		ib.buffered = ib.buffered[1:]
	}
	ib.buffered = append(ib.buffered, upd)
}

func (u *OrderBookUpdater[M]) emit(ib *InstrumentOrderBook, kind models.OrderBookEventKind, exchangeTime time.Time) Result[models.OrderBookEvent] {
	return Ok(models.MarketEvent[models.OrderBookEvent]{
		Exchange:     u.exchange,
		Instrument:   ib.Instrument,
		ExchangeTime: exchangeTime,
		Kind: models.OrderBookEvent{
			Kind: kind,
			Book: ib.Book.Snapshot(u.cfg.Depth),
		},
	})
}
