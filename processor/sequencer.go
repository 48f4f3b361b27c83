package processor

import (
	"hash/crc32"
	"strings"

	"cryptostream/models"
)

// SequenceState is what a Sequencer sees of a live book.
type SequenceState struct {
	LastSeqID            int64
	UpdatesSinceSnapshot int
}

// Verdict is a Sequencer decision for one delta.
type Verdict int

const (
	Apply Verdict = iota
	// Skip drops a delta that the current book already covers.
	Skip
	// Gap discards the book and triggers a resync.
	Gap
)

// Sequencer checks the continuity of deltas against a book.
type Sequencer interface {
	Check(state SequenceState, upd BookUpdate) Verdict
}

// ContinuitySequencer accepts a delta only when its PrevSeqID equals the last
// accepted SeqID. A replayed delta therefore fails the check.
type ContinuitySequencer struct{}

func (ContinuitySequencer) Check(state SequenceState, upd BookUpdate) Verdict {
	if upd.PrevSeqID == state.LastSeqID {
		return Apply
	}
	return Gap
}

// BinanceSpotSequencer follows the spot diff-depth procedure: after a
// snapshot with lastUpdateId L, deltas with u <= L are dropped and the first
// applied delta must satisfy U <= L+1 <= u. Later deltas must start at the
// previous u + 1.
type BinanceSpotSequencer struct{}

func (BinanceSpotSequencer) Check(state SequenceState, upd BookUpdate) Verdict {
	next := state.LastSeqID + 1
	if state.UpdatesSinceSnapshot == 0 {
		if upd.SeqID < next {
			return Skip
		}
		if upd.FirstSeqID <= next {
			return Apply
		}
		return Gap
	}
	if upd.FirstSeqID == next {
		return Apply
	}
	return Gap
}

// BinanceFuturesSequencer follows the futures diff-depth procedure: deltas
// with u < L are dropped, the first applied delta must satisfy U <= L <= u,
// and later deltas must carry pu equal to the previous u.
type BinanceFuturesSequencer struct{}

func (BinanceFuturesSequencer) Check(state SequenceState, upd BookUpdate) Verdict {
	if state.UpdatesSinceSnapshot == 0 {
		if upd.SeqID < state.LastSeqID {
			return Skip
		}
		if upd.FirstSeqID <= state.LastSeqID {
			return Apply
		}
		return Gap
	}
	if upd.PrevSeqID == state.LastSeqID {
		return Apply
	}
	return Gap
}

// UpdateIDSequencer suits venues whose update id grows by one per delta
// (Bybit's u). Until the first delta after a snapshot, deltas the snapshot
// already covers are skipped so a REST snapshot taken mid-stream absorbs
// the buffered ones. After that a replayed delta is a gap.
type UpdateIDSequencer struct{}

func (UpdateIDSequencer) Check(state SequenceState, upd BookUpdate) Verdict {
	if state.UpdatesSinceSnapshot == 0 && upd.SeqID <= state.LastSeqID {
		return Skip
	}
	if upd.PrevSeqID == state.LastSeqID {
		return Apply
	}
	return Gap
}

// Checksummer computes the venue checksum of a book.
type Checksummer interface {
	Checksum(book *models.OrderBook) int64
}

// InterleavedCRC32 is the CRC32 over the top Depth levels joined as
// "bid1px:bid1sz:ask1px:ask1sz:...", continuing with the longer side once
// the shorter one runs out. Levels are written as the venue sent them, so
// "0.10" stays "0.10". The result is the signed 32-bit value.
type InterleavedCRC32 struct {
	Depth int
}

func (c InterleavedCRC32) Checksum(book *models.OrderBook) int64 {
	depth := c.Depth
	if depth <= 0 {
		depth = 25
	}
	parts := make([]string, 0, 4*depth)
	for i := 0; i < depth; i++ {
		if i < len(book.Bids) {
			parts = append(parts, formatLevel(book.Bids[i]))
		}
		if i < len(book.Asks) {
			parts = append(parts, formatLevel(book.Asks[i]))
		}
	}
	return int64(int32(crc32.ChecksumIEEE([]byte(strings.Join(parts, ":")))))
}

func formatLevel(l models.Level) string {
	price, amount := l.Text()
	return price + ":" + amount
}
