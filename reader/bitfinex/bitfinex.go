// Package bitfinex adapts the Bitfinex v2 public websocket. Data frames are
// keyed by the numeric channel id assigned in each subscription reply, so
// the handshake re-keys every route to that id.
package bitfinex

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"cryptostream/models"
	"cryptostream/reader"
)

const (
	URL = "wss://api-pub.bitfinex.com/ws/2"

	channelTrades = "trades"
	channelTicker = "ticker"
)

type Connector struct {
	reader.BaseConnector
}

func NewConnector(opts reader.VenueOptions) Connector {
	return Connector{reader.BaseConnector{
		Exchange: models.Bitfinex,
		RawURL:   opts.URLOr(URL),
		Timeout:  opts.HandshakeTimeout,
	}}
}

type subscribeRequest struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	Symbol  string `json:"symbol"`
}

// Requests sends one subscribe event per subscription.
func (c Connector) Requests(subs []reader.ExchangeSub) ([]reader.WsMessage, error) {
	out := make([]reader.WsMessage, 0, len(subs))
	for _, s := range subs {
		msg, err := reader.TextMessage(subscribeRequest{Event: "subscribe", Channel: s.Channel, Symbol: s.Market})
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func (c Connector) ExpectedResponses(subs []reader.ExchangeSub) int { return len(subs) }

type eventResponse struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	ChanID  int64  `json:"chanId"`
	Symbol  string `json:"symbol"`
	Msg     string `json:"msg"`
	Code    int    `json:"code"`
}

// ParseResponse turns a "subscribed" event into an alias from the
// requested subscription to its channel id.
func (c Connector) ParseResponse(payload []byte) (reader.SubResponse, error) {
	var r eventResponse
	if err := json.Unmarshal(payload, &r); err != nil {
		return reader.SubResponse{}, reader.ErrNotResponse
	}
	switch r.Event {
	case "error":
		return reader.SubResponse{Status: reader.Rejected, Reason: fmt.Sprintf("code %d: %s", r.Code, r.Msg)}, nil
	case "subscribed":
		return reader.SubResponse{
			Status: reader.Subscribed,
			Sub:    &reader.ExchangeSub{Channel: r.Channel, Market: r.Symbol},
			Alias:  ChannelID(r.ChanID),
		}, nil
	}
	return reader.SubResponse{}, reader.ErrNotResponse
}

// ChannelID is the route key of data frames on channel id.
func ChannelID(id int64) models.SubscriptionID {
	return models.SubscriptionID(strconv.FormatInt(id, 10))
}

// Market formats a spot pair as "tBTCUSD", or "tDOGE:USD" when either
// currency code is longer than three letters.
func Market(inst models.Instrument) (string, error) {
	if inst.Kind.Type != models.InstrumentSpot {
		return "", fmt.Errorf("bitfinex: only spot instruments are supported, got %s", inst.Kind)
	}
	base, quote := strings.ToUpper(inst.Base), strings.ToUpper(inst.Quote)
	if len(base) > 3 || len(quote) > 3 {
		return "t" + base + ":" + quote, nil
	}
	return "t" + base + quote, nil
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
	return reader.StatelessAdapter[TradeFrame, models.PublicTrade]{
		Venue:      NewConnector(opts),
		Kind:       models.SubPublicTrades,
		MarketFunc: marketFunc(channelTrades),
		Decode:     reader.DecodeJSON[TradeFrame],
		Map:        mapTrade,
	}
}

func OrderBooksL1(opts reader.VenueOptions) reader.Adapter[models.OrderBookL1] {
	return reader.StatelessAdapter[TickerFrame, models.OrderBookL1]{
		Venue:      NewConnector(opts),
		Kind:       models.SubOrderBooksL1,
		MarketFunc: marketFunc(channelTicker),
		Decode:     reader.DecodeJSON[TickerFrame],
		Map:        mapTicker,
	}
}
