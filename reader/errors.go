package reader

import (
	"errors"
	"fmt"

	"cryptostream/models"
)

var (
	ErrSubscribe        = errors.New("subscribe failed")
	ErrRejected         = errors.New("subscription rejected")
	ErrHandshakeTimeout = errors.New("handshake timed out")
	ErrTransport        = errors.New("transport failed")
	ErrResyncTimeout    = errors.New("in-band resync timed out")
)

// SubscribeError aborts connection setup. No SubscriptionMap exists when it
// is returned.
type SubscribeError struct {
	Exchange models.ExchangeID
	Reason   string
	Err      error
}

func (e *SubscribeError) Error() string {
	if e.Err != nil && e.Reason != "" {
		return fmt.Sprintf("%s: subscribe: %s: %v", e.Exchange, e.Reason, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: subscribe: %v", e.Exchange, e.Err)
	}
	return fmt.Sprintf("%s: subscribe: %s", e.Exchange, e.Reason)
}

func (e *SubscribeError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrSubscribe}
	}
	return []error{ErrSubscribe, e.Err}
}

// TransportError ends one ExchangeStream.
type TransportError struct {
	Exchange     models.ExchangeID
	ConnectionID string
	Err          error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: connection %s: %v", e.Exchange, e.ConnectionID, e.Err)
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }
