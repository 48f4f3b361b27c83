package processor

import (
	"errors"
	"fmt"

	"cryptostream/models"
)

// Sentinels for errors.Is on the items of a stream.
var (
	ErrUnrecognizedInstrument = errors.New("unrecognized instrument")
	ErrSequenceGap            = errors.New("sequence gap")
	ErrChecksumMismatch       = errors.New("checksum mismatch")
	ErrResync                 = errors.New("order book resync")
	ErrDecode                 = errors.New("decode failed")
	// ErrVenue marks an error event a venue pushed on a live connection.
	ErrVenue = errors.New("venue reported an error")
)

// UnrecognizedInstrumentError is emitted for a message whose SubscriptionID
// is not in the connection's SubscriptionMap. It is not fatal.
type UnrecognizedInstrumentError struct {
	Exchange models.ExchangeID
	ID       models.SubscriptionID
}

func (e *UnrecognizedInstrumentError) Error() string {
	return fmt.Sprintf("%s: unrecognized instrument for subscription %q", e.Exchange, e.ID)
}

func (e *UnrecognizedInstrumentError) Unwrap() error { return ErrUnrecognizedInstrument }

// SequenceGapError reports a delta whose predecessor does not match the last
// accepted sequence of the book.
type SequenceGapError struct {
	ID        models.SubscriptionID
	Last      int64
	PrevSeqID int64
	SeqID     int64
}

func (e *SequenceGapError) Error() string {
	return fmt.Sprintf("sequence gap on %q: last %d, got prev %d seq %d", e.ID, e.Last, e.PrevSeqID, e.SeqID)
}

func (e *SequenceGapError) Unwrap() error { return ErrSequenceGap }

// ChecksumMismatchError reports a book whose recomputed checksum differs from
// the one the venue sent.
type ChecksumMismatchError struct {
	ID       models.SubscriptionID
	Expected int64
	Computed int64
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch on %q: expected %d, computed %d", e.ID, e.Expected, e.Computed)
}

func (e *ChecksumMismatchError) Unwrap() error { return ErrChecksumMismatch }

// ResyncError is the single item emitted when a book is discarded or when its
// snapshot could not be acquired. Cause is a *SequenceGapError, a
// *ChecksumMismatchError or the error that ended the resync.
type ResyncError struct {
	Exchange   models.ExchangeID
	Instrument models.Instrument
	ID         models.SubscriptionID
	Cause      error
}

func (e *ResyncError) Error() string {
	return fmt.Sprintf("%s: resync %s: %v", e.Exchange, e.Instrument, e.Cause)
}

func (e *ResyncError) Unwrap() []error { return []error{ErrResync, e.Cause} }

// DecodeError is emitted when one frame cannot be parsed. It is not fatal.
type DecodeError struct {
	Exchange models.ExchangeID
	Payload  string
	Err      error
}

const maxPayloadInError = 256

// NewDecodeError keeps at most a short prefix of the offending payload.
func NewDecodeError(exchange models.ExchangeID, payload []byte, err error) *DecodeError {
	p := string(payload)
	if len(p) > maxPayloadInError {
		p = p[:maxPayloadInError] + "..."
	}
	return &DecodeError{Exchange: exchange, Payload: p, Err: err}
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: decode %q: %v", e.Exchange, e.Payload, e.Err)
}

func (e *DecodeError) Unwrap() []error { return []error{ErrDecode, e.Err} }

// ErrorKind labels an item error for logs and metrics.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrUnrecognizedInstrument):
		return "unrecognized_instrument"
	case errors.Is(err, ErrSequenceGap):
		return "sequence_gap"
	case errors.Is(err, ErrChecksumMismatch):
		return "checksum_mismatch"
	case errors.Is(err, ErrResync):
		return "resync"
	case errors.Is(err, ErrVenue):
		return "venue_error"
	case errors.Is(err, ErrDecode):
		return "decode"
	default:
		return "other"
	}
}
