package processor

import (
	"errors"
	"fmt"
	"hash/crc32"
	"testing"
	"time"

	"cryptostream/models"
)

type instrumentMap map[models.SubscriptionID]models.Instrument

func (m instrumentMap) Find(id models.SubscriptionID) (models.Instrument, bool) {
	inst, ok := m[id]
	return inst, ok
}

var (
	btc   = models.NewInstrument("btc", "usdt", models.Spot())
	eth   = models.NewInstrument("eth", "usdt", models.Spot())
	btcID = models.NewSubscriptionID("books", "BTC-USDT")
	ethID = models.NewSubscriptionID("books", "ETH-USDT")
)

type tradeMsg struct {
	id    models.SubscriptionID
	ping  bool
	price float64
}

func (m tradeMsg) SubscriptionID() (models.SubscriptionID, bool) {
	if m.ping {
		return "", false
	}
	return m.id, true
}

func tradeMapper(msg tradeMsg, _ models.Instrument) ([]Mapped[models.PublicTrade], error) {
	if msg.price < 0 {
		return nil, fmt.Errorf("negative price")
	}
	return []Mapped[models.PublicTrade]{{
		ExchangeTime: time.UnixMilli(1),
		Kind:         models.PublicTrade{ID: "1", Price: msg.price, Amount: 1, Side: models.Buy},
	}}, nil
}

func TestStatelessTransformer(t *testing.T) {
	tr := NewStatelessTransformer[tradeMsg, models.PublicTrade](models.Okx, instrumentMap{btcID: btc}, tradeMapper)

	out := tr.Transform(tradeMsg{id: btcID, price: 100})
	if len(out) != 1 || out[0].Err != nil {
		t.Fatalf("unexpected results %+v", out)
	}
	ev := out[0].Event
	if ev.Exchange != models.Okx || !ev.Instrument.Equal(btc) || ev.Kind.Price != 100 {
		t.Fatalf("unexpected event %+v", ev)
	}

	if out := tr.Transform(tradeMsg{ping: true}); len(out) != 0 {
		t.Fatalf("housekeeping message should yield nothing, got %+v", out)
	}

	out = tr.Transform(tradeMsg{id: "trades|DOGE-USDT", price: 1})
	if len(out) != 1 {
		t.Fatalf("expected a single item, got %d", len(out))
	}
	var unrecognized *UnrecognizedInstrumentError
	if !errors.As(out[0].Err, &unrecognized) || unrecognized.ID != "trades|DOGE-USDT" {
		t.Fatalf("expected unrecognized instrument, got %v", out[0].Err)
	}
	if !errors.Is(out[0].Err, ErrUnrecognizedInstrument) || ErrorKind(out[0].Err) != "unrecognized_instrument" {
		t.Fatalf("sentinel not matched: %v", out[0].Err)
	}

	out = tr.Transform(tradeMsg{id: btcID, price: -1})
	if len(out) != 1 || !errors.Is(out[0].Err, ErrDecode) {
		t.Fatalf("expected decode error, got %+v", out)
	}
}

// bookMsg is a message carrying book updates directly.
type bookMsg []BookUpdate

func extractBook(msg bookMsg) ([]BookUpdate, error) { return msg, nil }

func newUpdater(cfg BookConfig) *OrderBookUpdater[bookMsg] {
	return NewOrderBookUpdater[bookMsg](models.Okx, instrumentMap{btcID: btc, ethID: eth}, extractBook, cfg)
}

func snapshot(id models.SubscriptionID, seq int64) BookUpdate {
	return BookUpdate{
		ID:       id,
		Snapshot: true,
		SeqID:    seq,
		Bids:     []models.Level{{Price: 100, Amount: 1}, {Price: 99, Amount: 2}},
		Asks:     []models.Level{{Price: 101, Amount: 1}, {Price: 102, Amount: 2}},
	}
}

func delta(id models.SubscriptionID, prev, seq int64, bids, asks []models.Level) BookUpdate {
	return BookUpdate{ID: id, PrevSeqID: prev, SeqID: seq, Bids: bids, Asks: asks}
}

func TestOrderBookUpdaterAppliesContinuousDeltas(t *testing.T) {
	u := newUpdater(BookConfig{})

	out := u.Transform(bookMsg{snapshot(btcID, 10)})
	if len(out) != 1 || out[0].Err != nil || out[0].Event.Kind.Kind != models.OrderBookSnapshot {
		t.Fatalf("unexpected snapshot results %+v", out)
	}

	out = u.Transform(bookMsg{delta(btcID, 10, 11,
		[]models.Level{{Price: 99, Amount: 0}, {Price: 100.5, Amount: 3}},
		[]models.Level{{Price: 101, Amount: 4}, {Price: 101.5, Amount: 1}},
	)})
	if len(out) != 1 || out[0].Err != nil {
		t.Fatalf("unexpected delta results %+v", out)
	}
	book := out[0].Event.Kind.Book
	if out[0].Event.Kind.Kind != models.OrderBookUpdate || book.Sequence != 11 {
		t.Fatalf("unexpected book event %+v", out[0].Event.Kind)
	}
	wantBids := []models.Level{{Price: 100.5, Amount: 3}, {Price: 100, Amount: 1}}
	wantAsks := []models.Level{{Price: 101, Amount: 4}, {Price: 101.5, Amount: 1}, {Price: 102, Amount: 2}}
	if fmt.Sprint(book.Bids) != fmt.Sprint(wantBids) || fmt.Sprint(book.Asks) != fmt.Sprint(wantAsks) {
		t.Fatalf("book = %v / %v", book.Bids, book.Asks)
	}
	if len(u.TakeResyncRequests()) != 0 {
		t.Fatalf("no resync expected")
	}
}

func TestOrderBookUpdaterGapDiscardsOnlyThatInstrument(t *testing.T) {
	u := newUpdater(BookConfig{})
	u.Transform(bookMsg{snapshot(btcID, 10), snapshot(ethID, 50)})

	out := u.Transform(bookMsg{delta(btcID, 12, 13, []models.Level{{Price: 100, Amount: 9}}, nil)})
	if len(out) != 1 {
		t.Fatalf("expected one resync item, got %+v", out)
	}
	var resync *ResyncError
	if !errors.As(out[0].Err, &resync) || !errors.Is(out[0].Err, ErrSequenceGap) || !errors.Is(out[0].Err, ErrResync) {
		t.Fatalf("expected resync for sequence gap, got %v", out[0].Err)
	}
	if !resync.Instrument.Equal(btc) {
		t.Fatalf("resync for wrong instrument %v", resync.Instrument)
	}
	if _, ok := u.Book(btcID); ok {
		t.Fatalf("book should be discarded after a gap")
	}

	reqs := u.TakeResyncRequests()
	if len(reqs) != 1 || reqs[0].ID != btcID || reqs[0].Reason != "gap" {
		t.Fatalf("unexpected resync requests %+v", reqs)
	}

	// further deltas for the discarded book wait silently for a snapshot
	if out := u.Transform(bookMsg{delta(btcID, 13, 14, nil, nil)}); len(out) != 0 {
		t.Fatalf("expected no items while awaiting snapshot, got %+v", out)
	}
	if len(u.TakeResyncRequests()) != 0 {
		t.Fatalf("resync must be requested once per incident")
	}

	out = u.Transform(bookMsg{delta(ethID, 50, 51, nil, []models.Level{{Price: 103, Amount: 1}})})
	if len(out) != 1 || out[0].Err != nil {
		t.Fatalf("other instrument must be unaffected, got %+v", out)
	}
}

func TestOrderBookUpdaterRejectsReplayedDelta(t *testing.T) {
	u := newUpdater(BookConfig{})
	u.Transform(bookMsg{snapshot(btcID, 10)})

	d := delta(btcID, 10, 11, []models.Level{{Price: 100, Amount: 5}}, nil)
	if out := u.Transform(bookMsg{d}); len(out) != 1 || out[0].Err != nil {
		t.Fatalf("first delta should apply: %+v", out)
	}
	out := u.Transform(bookMsg{d})
	if len(out) != 1 || !errors.Is(out[0].Err, ErrSequenceGap) {
		t.Fatalf("replayed delta should be a continuity violation, got %+v", out)
	}
}

func TestOrderBookUpdaterDeltaBeforeSnapshot(t *testing.T) {
	u := newUpdater(BookConfig{})

	if out := u.Transform(bookMsg{delta(btcID, 10, 11, nil, nil)}); len(out) != 0 {
		t.Fatalf("delta before snapshot should yield nothing, got %+v", out)
	}
	u.Transform(bookMsg{delta(btcID, 11, 12, nil, nil)})
	reqs := u.TakeResyncRequests()
	if len(reqs) != 1 || reqs[0].Reason != "missing_snapshot" {
		t.Fatalf("expected a single missing snapshot request, got %+v", reqs)
	}

	// an in-band snapshot drops the older buffered deltas
	out := u.Transform(bookMsg{snapshot(btcID, 20)})
	if len(out) != 1 || out[0].Event.Kind.Book.Sequence != 20 {
		t.Fatalf("unexpected results %+v", out)
	}
}

func TestOrderBookUpdaterSeedReplaysBufferedDeltas(t *testing.T) {
	u := NewOrderBookUpdater[bookMsg](models.BinanceSpot, instrumentMap{btcID: btc}, extractBook, BookConfig{Sequencer: BinanceSpotSequencer{}})

	spot := func(first, last int64, price float64) BookUpdate {
		return BookUpdate{ID: btcID, FirstSeqID: first, SeqID: last, Bids: []models.Level{{Price: price, Amount: 1}}}
	}
	u.Transform(bookMsg{spot(90, 99, 90)})
	u.Transform(bookMsg{spot(100, 105, 95)})
	u.Transform(bookMsg{spot(106, 108, 96)})
	if reqs := u.TakeResyncRequests(); len(reqs) != 1 {
		t.Fatalf("expected one request, got %+v", reqs)
	}

	out := u.Seed(BookUpdate{ID: btcID, SeqID: 101, Bids: []models.Level{{Price: 80, Amount: 1}}})
	if len(out) != 3 {
		t.Fatalf("expected snapshot plus two replayed deltas, got %+v", out)
	}
	if out[0].Event.Kind.Kind != models.OrderBookSnapshot {
		t.Fatalf("first item should be the snapshot")
	}
	book, _ := u.Book(btcID)
	if book.Sequence != 108 || len(book.Bids) != 3 {
		t.Fatalf("unexpected book after replay: %+v", book)
	}

	out = u.Transform(bookMsg{spot(110, 112, 97)})
	if len(out) != 1 || !errors.Is(out[0].Err, ErrSequenceGap) {
		t.Fatalf("expected gap after skipped update id, got %+v", out)
	}

	// a seed for a live book is ignored
	u.Seed(BookUpdate{ID: btcID, SeqID: 200})
	if out := u.Seed(BookUpdate{ID: btcID, SeqID: 200}); len(out) != 0 {
		t.Fatalf("seed of a live book should be ignored, got %+v", out)
	}
}

func TestOrderBookUpdaterResyncFailedAllowsNewRequest(t *testing.T) {
	u := newUpdater(BookConfig{})
	u.Transform(bookMsg{delta(btcID, 1, 2, nil, nil)})
	if len(u.TakeResyncRequests()) != 1 {
		t.Fatalf("expected request")
	}
	if !u.ResyncFailed(btcID) {
		t.Fatalf("expected pending state to be cleared")
	}
	u.Transform(bookMsg{delta(btcID, 2, 3, nil, nil)})
	if len(u.TakeResyncRequests()) != 1 {
		t.Fatalf("expected a new request after a failed resync")
	}

	u.Seed(snapshot(btcID, 2))
	if u.ResyncFailed(btcID) {
		t.Fatalf("failed resync must not touch a live book")
	}
	if _, ok := u.Book(btcID); !ok {
		t.Fatalf("live book was dropped")
	}
}

func TestOrderBookUpdaterChecksum(t *testing.T) {
	u := newUpdater(BookConfig{Checksummer: InterleavedCRC32{Depth: 25}, Depth: 1})

	snap := snapshot(btcID, 1)
	good := InterleavedCRC32{Depth: 25}.Checksum(models.NewOrderBook(1, time.Time{}, snap.Bids, snap.Asks))
	snap.Checksum = &good
	out := u.Transform(bookMsg{snap})
	if len(out) != 1 || out[0].Err != nil {
		t.Fatalf("valid checksum rejected: %+v", out)
	}
	if len(out[0].Event.Kind.Book.Bids) != 1 {
		t.Fatalf("emitted book should be truncated to depth 1")
	}

	bad := good + 1
	d := delta(btcID, 1, 2, []models.Level{{Price: 100, Amount: 2}}, nil)
	d.Checksum = &bad
	out = u.Transform(bookMsg{d})
	var mismatch *ChecksumMismatchError
	if len(out) != 1 || !errors.As(out[0].Err, &mismatch) || !errors.Is(out[0].Err, ErrResync) {
		t.Fatalf("expected checksum resync, got %+v", out)
	}
	if reqs := u.TakeResyncRequests(); len(reqs) != 1 || reqs[0].Reason != "checksum" {
		t.Fatalf("unexpected requests %+v", reqs)
	}
}

func TestInterleavedCRC32Format(t *testing.T) {
	book := models.NewOrderBook(0, time.Time{},
		[]models.Level{{Price: 3366.1, Amount: 7}, {Price: 3366, Amount: 6}, {Price: 3365, Amount: 1}},
		[]models.Level{{Price: 3366.8, Amount: 9}, {Price: 3368, Amount: 8}},
	)
	want := int64(int32(crc32.ChecksumIEEE([]byte("3366.1:7:3366.8:9:3366:6:3368:8:3365:1"))))
	if got := (InterleavedCRC32{Depth: 25}).Checksum(book); got != want {
		t.Fatalf("checksum = %d, want %d", got, want)
	}
}

func TestBinanceFuturesSequencer(t *testing.T) {
	s := BinanceFuturesSequencer{}
	st := SequenceState{LastSeqID: 100}
	if v := s.Check(st, BookUpdate{FirstSeqID: 80, SeqID: 99}); v != Skip {
		t.Fatalf("stale update should be skipped, got %v", v)
	}
	if v := s.Check(st, BookUpdate{FirstSeqID: 95, SeqID: 103}); v != Apply {
		t.Fatalf("straddling update should apply, got %v", v)
	}
	if v := s.Check(st, BookUpdate{FirstSeqID: 101, SeqID: 103}); v != Gap {
		t.Fatalf("update after the snapshot should be a gap, got %v", v)
	}
	st = SequenceState{LastSeqID: 103, UpdatesSinceSnapshot: 1}
	if v := s.Check(st, BookUpdate{PrevSeqID: 103, FirstSeqID: 104, SeqID: 110}); v != Apply {
		t.Fatalf("pu continuity should apply, got %v", v)
	}
	if v := s.Check(st, BookUpdate{PrevSeqID: 102, FirstSeqID: 104, SeqID: 110}); v != Gap {
		t.Fatalf("pu mismatch should be a gap, got %v", v)
	}
}

func TestUpdateIDSequencer(t *testing.T) {
	s := UpdateIDSequencer{}
	fresh := SequenceState{LastSeqID: 50}
	live := SequenceState{LastSeqID: 50, UpdatesSinceSnapshot: 3}
	for _, tc := range []struct {
		state SequenceState
		upd   BookUpdate
		want  Verdict
	}{
		{fresh, BookUpdate{PrevSeqID: 48, SeqID: 49}, Skip},
		{fresh, BookUpdate{PrevSeqID: 49, SeqID: 50}, Skip},
		{fresh, BookUpdate{PrevSeqID: 50, SeqID: 51}, Apply},
		{fresh, BookUpdate{PrevSeqID: 52, SeqID: 53}, Gap},
		{live, BookUpdate{PrevSeqID: 49, SeqID: 50}, Gap},
		{live, BookUpdate{PrevSeqID: 48, SeqID: 49}, Gap},
		{live, BookUpdate{PrevSeqID: 50, SeqID: 51}, Apply},
	} {
		if got := s.Check(tc.state, tc.upd); got != tc.want {
			t.Fatalf("check(%d->%d, after %d updates) = %v, want %v", tc.upd.PrevSeqID, tc.upd.SeqID, tc.state.UpdatesSinceSnapshot, got, tc.want)
		}
	}
}
