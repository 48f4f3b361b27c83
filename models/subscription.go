package models

import (
	"fmt"
	"strings"
)

// SubKind is the kind of market data a subscription asks for.
type SubKind string

const (
	SubPublicTrades SubKind = "public_trades"
	SubOrderBooksL1 SubKind = "order_books_l1"
	SubOrderBooksL2 SubKind = "order_books_l2"
	SubCandles      SubKind = "candles"
	SubLiquidations SubKind = "liquidations"
)

// ParseSubKind validates a configured subscription kind.
func ParseSubKind(s string) (SubKind, error) {
	switch k := SubKind(strings.ToLower(strings.TrimSpace(s))); k {
	case SubPublicTrades, SubOrderBooksL1, SubOrderBooksL2, SubCandles, SubLiquidations:
		return k, nil
	}
	return "", fmt.Errorf("unsupported subscription kind %q", s)
}

// Subscription is a caller request for one kind of data on one instrument.
type Subscription struct {
	Exchange   ExchangeID `json:"exchange"`
	Instrument Instrument `json:"instrument"`
	Kind       SubKind    `json:"kind"`
}

// NewSubscription builds a subscription with a normalised instrument.
func NewSubscription(exchange ExchangeID, base, quote string, kind InstrumentKind, sub SubKind) Subscription {
	return Subscription{
		Exchange:   exchange,
		Instrument: NewInstrument(base, quote, kind),
		Kind:       sub,
	}
}

// Validate checks the fields that do not depend on venue support.
func (s Subscription) Validate() error {
	if s.Exchange == "" {
		return fmt.Errorf("subscription %s: exchange is required", s)
	}
	if s.Kind == "" {
		return fmt.Errorf("subscription %s: kind is required", s)
	}
	return s.Instrument.Validate()
}

func (s Subscription) String() string {
	return fmt.Sprintf("%s|%s|%s", s.Exchange, s.Instrument, s.Kind)
}

// SubscriptionID routes an incoming message to its instrument. The canonical
// form is "<channel>|<market>".
type SubscriptionID string

// NewSubscriptionID builds the canonical "<channel>|<market>" key.
func NewSubscriptionID(channel, market string) SubscriptionID {
	return SubscriptionID(channel + "|" + market)
}

func (id SubscriptionID) String() string { return string(id) }

// Split returns the channel and market parts of the id.
func (id SubscriptionID) Split() (channel, market string) {
	channel, market, _ = strings.Cut(string(id), "|")
	return channel, market
}
