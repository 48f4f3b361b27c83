package reader

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"cryptostream/models"

	"github.com/gorilla/websocket"
)

// ErrNotResponse is returned by Connector.ParseResponse for frames that are
// not subscription responses. Such frames are kept and handed to the
// transformer once the handshake completes.
var ErrNotResponse = errors.New("not a subscription response")

const defaultHandshakeTimeout = 10 * time.Second

// WsMessage is one outgoing websocket frame.
type WsMessage struct {
	Type    int
	Payload []byte
}

// TextMessage marshals v as a JSON text frame.
func TextMessage(v interface{}) (WsMessage, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return WsMessage{}, fmt.Errorf("marshal request: %w", err)
	}
	return WsMessage{Type: websocket.TextMessage, Payload: payload}, nil
}

// DecodeJSON is the Decoder of venues that publish JSON frames.
func DecodeJSON[M any](payload []byte) (M, error) {
	var m M
	err := json.Unmarshal(payload, &m)
	return m, err
}

// ExchangeSub is a subscription in the venue's own vocabulary.
type ExchangeSub struct {
	Channel string
	Market  string
}

func (s ExchangeSub) ID() models.SubscriptionID {
	return models.NewSubscriptionID(s.Channel, s.Market)
}

// MarketSub pairs an ExchangeSub with the instrument it was requested for.
type MarketSub struct {
	Sub        ExchangeSub
	Instrument models.Instrument
}

// VenueOptions overrides the defaults of a venue adapter.
type VenueOptions struct {
	URL              string
	HandshakeTimeout time.Duration
	// BookDepth truncates emitted L2 books; 0 emits the full book.
	BookDepth int
	Resyncer  Resyncer
}

// URLOr returns the configured URL or the venue default.
func (o VenueOptions) URLOr(def string) string {
	if o.URL != "" {
		return o.URL
	}
	return def
}

// PingInterval configures an application level keep-alive frame.
type PingInterval struct {
	Interval time.Duration
	Message  WsMessage
}

// Connector describes how to reach and subscribe to one venue. It holds no
// connection state.
type Connector interface {
	ID() models.ExchangeID
	URL() (*url.URL, error)
	Requests(subs []ExchangeSub) ([]WsMessage, error)
	// ExpectedResponses is the number of subscription responses the venue
	// sends for these subs.
	ExpectedResponses(subs []ExchangeSub) int
	ParseResponse(payload []byte) (SubResponse, error)
	Ping() *PingInterval
	HandshakeTimeout() time.Duration
}

// BaseConnector carries the static parts shared by venue connectors.
type BaseConnector struct {
	Exchange models.ExchangeID
	RawURL   string
	Timeout  time.Duration
}

func (b BaseConnector) ID() models.ExchangeID { return b.Exchange }

func (b BaseConnector) URL() (*url.URL, error) {
	u, err := url.Parse(b.RawURL)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid url %q: %w", b.Exchange, b.RawURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("%s: url %q is not a websocket url", b.Exchange, b.RawURL)
	}
	return u, nil
}

func (b BaseConnector) Ping() *PingInterval { return nil }

func (b BaseConnector) HandshakeTimeout() time.Duration {
	if b.Timeout <= 0 {
		return defaultHandshakeTimeout
	}
	return b.Timeout
}

// SubStatus classifies a subscription response.
type SubStatus int

const (
	Subscribed SubStatus = iota
	Rejected
)

// SubResponse is a parsed subscription response. Sub optionally names the
// subscription it confirms; Alias re-keys that subscription to the channel
// id used on its data frames. Venues that answer with the list of channels
// they accepted set Confirmed, and every requested subscription must then
// appear in it.
type SubResponse struct {
	Status    SubStatus
	Reason    string
	Sub       *ExchangeSub
	Alias     models.SubscriptionID
	Confirmed []models.SubscriptionID
}

// Validate returns a *SubscribeError for a rejected response.
func (r SubResponse) Validate(exchange models.ExchangeID) error {
	if r.Status == Subscribed {
		return nil
	}
	reason := r.Reason
	if reason == "" {
		reason = "subscription rejected"
	}
	return &SubscribeError{Exchange: exchange, Reason: reason, Err: ErrRejected}
}
