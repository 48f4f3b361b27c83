// Package deribit adapts the Deribit v2 JSON-RPC websocket.
package deribit

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cryptostream/models"
	"cryptostream/reader"
)

const (
	URL = "wss://www.deribit.com/ws/api/v2"

	channelTrades = "trades"
	channelQuote  = "quote"

	subscribeID  = 1
	pingID       = 2
	pingInterval = 30 * time.Second
	expiryLayout = "2Jan06"
)

type Connector struct {
	reader.BaseConnector
}

func NewConnector(opts reader.VenueOptions) Connector {
	return Connector{reader.BaseConnector{
		Exchange: models.Deribit,
		RawURL:   opts.URLOr(URL),
		Timeout:  opts.HandshakeTimeout,
	}}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// WireChannel is the channel name Deribit expects, e.g.
// "trades.BTC-PERPETUAL.100ms" or "quote.BTC-PERPETUAL".
func WireChannel(sub reader.ExchangeSub) string {
	if sub.Channel == channelTrades {
		return sub.Channel + "." + sub.Market + ".100ms"
	}
	return sub.Channel + "." + sub.Market
}

// ParseWireChannel reverses WireChannel.
func ParseWireChannel(ch string) (models.SubscriptionID, bool) {
	parts := strings.Split(ch, ".")
	if len(parts) < 2 {
		return "", false
	}
	return models.NewSubscriptionID(parts[0], parts[1]), true
}

func (c Connector) Requests(subs []reader.ExchangeSub) ([]reader.WsMessage, error) {
	channels := make([]string, len(subs))
	for i, s := range subs {
		channels[i] = WireChannel(s)
	}
	msg, err := reader.TextMessage(rpcRequest{
		JSONRPC: "2.0",
		ID:      subscribeID,
		Method:  "public/subscribe",
		Params:  map[string][]string{"channels": channels},
	})
	if err != nil {
		return nil, err
	}
	return []reader.WsMessage{msg}, nil
}

func (c Connector) ExpectedResponses([]reader.ExchangeSub) int { return 1 }

type rpcResponse struct {
	ID     *int            `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseResponse reads the reply to public/subscribe. Its result lists the
// channels actually subscribed, and every requested channel must be there.
func (c Connector) ParseResponse(payload []byte) (reader.SubResponse, error) {
	var r rpcResponse
	if err := json.Unmarshal(payload, &r); err != nil || r.ID == nil || *r.ID != subscribeID {
		return reader.SubResponse{}, reader.ErrNotResponse
	}
	if r.Error != nil {
		return reader.SubResponse{Status: reader.Rejected, Reason: fmt.Sprintf("code %d: %s", r.Error.Code, r.Error.Message)}, nil
	}
	var channels []string
	if err := json.Unmarshal(r.Result, &channels); err != nil {
		return reader.SubResponse{}, fmt.Errorf("subscribe result: %w", err)
	}
	confirmed := make([]models.SubscriptionID, 0, len(channels))
	for _, ch := range channels {
		if id, ok := ParseWireChannel(ch); ok {
			confirmed = append(confirmed, id)
		}
	}
	return reader.SubResponse{Status: reader.Subscribed, Confirmed: confirmed}, nil
}

func (c Connector) Ping() *reader.PingInterval {
	msg, err := reader.TextMessage(rpcRequest{JSONRPC: "2.0", ID: pingID, Method: "public/test"})
	if err != nil {
		return nil
	}
	return &reader.PingInterval{Interval: pingInterval, Message: msg}
}

// Market formats an instrument name: BTC-PERPETUAL, BTC_USDC-PERPETUAL,
// BTC-27DEC24, BTC-27DEC24-50000-C or BTC_USDC for spot.
func Market(inst models.Instrument) (string, error) {
	base, quote := strings.ToUpper(inst.Base), strings.ToUpper(inst.Quote)
	prefix := base
	if quote != "USD" {
		prefix = base + "_" + quote
	}
	switch inst.Kind.Type {
	case models.InstrumentSpot:
		return base + "_" + quote, nil
	case models.InstrumentPerpetual:
		return prefix + "-PERPETUAL", nil
	case models.InstrumentFuture:
		return prefix + "-" + expiry(inst.Kind.Expiry), nil
	case models.InstrumentOption:
		opt := inst.Kind.Option
		if opt == nil {
			return "", fmt.Errorf("deribit: option instrument without contract")
		}
		side := "C"
		if opt.Kind == models.OptionPut {
			side = "P"
		}
		// fractional strikes are written with a "d", e.g. 0d625
		strike := strings.ReplaceAll(strconv.FormatFloat(opt.Strike, 'f', -1, 64), ".", "d")
		return prefix + "-" + expiry(opt.Expiry) + "-" + strike + "-" + side, nil
	}
	return "", fmt.Errorf("deribit: unsupported instrument kind %s", inst.Kind)
}

func expiry(t time.Time) string {
	return strings.ToUpper(t.Format(expiryLayout))
}

func marketFunc(channel string) func(models.Subscription) (reader.ExchangeSub, error) {
	return func(sub models.Subscription) (reader.ExchangeSub, error) {
		market, err := Market(sub.Instrument)
		if err != nil {
			return reader.ExchangeSub{}, err
		}
		return reader.ExchangeSub{Channel: channel, Market: market}, nil
	}
}

func Trades(opts reader.VenueOptions) reader.Adapter[models.PublicTrade] {
	return reader.StatelessAdapter[Notification[[]Trade], models.PublicTrade]{
		Venue:      NewConnector(opts),
		Kind:       models.SubPublicTrades,
		MarketFunc: marketFunc(channelTrades),
		Decode:     reader.DecodeJSON[Notification[[]Trade]],
		Map:        mapTrades,
	}
}

func OrderBooksL1(opts reader.VenueOptions) reader.Adapter[models.OrderBookL1] {
	return reader.StatelessAdapter[Notification[Quote], models.OrderBookL1]{
		Venue:      NewConnector(opts),
		Kind:       models.SubOrderBooksL1,
		MarketFunc: marketFunc(channelQuote),
		Decode:     reader.DecodeJSON[Notification[Quote]],
		Map:        mapQuote,
	}
}
