// Package coinbase adapts the Coinbase Exchange websocket feed.
package coinbase

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"cryptostream/models"
	"cryptostream/reader"
)

const (
	URL = "wss://ws-feed.exchange.coinbase.com"

	channelMatches = "matches"
	channelTicker  = "ticker"
)

type Connector struct {
	reader.BaseConnector
}

func NewConnector(opts reader.VenueOptions) Connector {
	return Connector{reader.BaseConnector{
		Exchange: models.Coinbase,
		RawURL:   opts.URLOr(URL),
		Timeout:  opts.HandshakeTimeout,
	}}
}

type subscribeRequest struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

// Requests sends one frame per channel listing all of its products.
func (c Connector) Requests(subs []reader.ExchangeSub) ([]reader.WsMessage, error) {
	byChannel := groupByChannel(subs)
	channels := make([]string, 0, len(byChannel))
	for ch := range byChannel {
		channels = append(channels, ch)
	}
	sort.Strings(channels)

	out := make([]reader.WsMessage, 0, len(channels))
	for _, ch := range channels {
		msg, err := reader.TextMessage(subscribeRequest{Type: "subscribe", ProductIDs: byChannel[ch], Channels: []string{ch}})
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func (c Connector) ExpectedResponses(subs []reader.ExchangeSub) int {
	return len(groupByChannel(subs))
}

func groupByChannel(subs []reader.ExchangeSub) map[string][]string {
	out := make(map[string][]string)
	for _, s := range subs {
		out[s.Channel] = append(out[s.Channel], s.Market)
	}
	return out
}

type subResponse struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Reason   string `json:"reason"`
	Channels []struct {
		Name       string   `json:"name"`
		ProductIDs []string `json:"product_ids"`
	} `json:"channels"`
}

// ParseResponse reads "subscriptions" and "error" frames. A subscriptions
// frame lists every channel the connection holds, so each requested
// product must be listed in one of them.
func (c Connector) ParseResponse(payload []byte) (reader.SubResponse, error) {
	var r subResponse
	if err := json.Unmarshal(payload, &r); err != nil {
		return reader.SubResponse{}, reader.ErrNotResponse
	}
	switch r.Type {
	case "error":
		reason := r.Reason
		if reason == "" {
			reason = r.Message
		}
		return reader.SubResponse{Status: reader.Rejected, Reason: reason}, nil
	case "subscriptions":
		confirmed := []models.SubscriptionID{}
		for _, ch := range r.Channels {
			for _, p := range ch.ProductIDs {
				confirmed = append(confirmed, models.NewSubscriptionID(ch.Name, p))
			}
		}
		return reader.SubResponse{Status: reader.Subscribed, Confirmed: confirmed}, nil
	}
	return reader.SubResponse{}, reader.ErrNotResponse
}

// Market formats a spot instrument as "BTC-USD".
func Market(inst models.Instrument) (string, error) {
	if inst.Kind.Type != models.InstrumentSpot {
		return "", fmt.Errorf("coinbase: only spot instruments are listed, got %s", inst.Kind)
	}
	return strings.ToUpper(inst.Base) + "-" + strings.ToUpper(inst.Quote), nil
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
	return reader.StatelessAdapter[Match, models.PublicTrade]{
		Venue:      NewConnector(opts),
		Kind:       models.SubPublicTrades,
		MarketFunc: marketFunc(channelMatches),
		Decode:     reader.DecodeJSON[Match],
		Map:        mapMatch,
	}
}

func OrderBooksL1(opts reader.VenueOptions) reader.Adapter[models.OrderBookL1] {
	return reader.StatelessAdapter[Ticker, models.OrderBookL1]{
		Venue:      NewConnector(opts),
		Kind:       models.SubOrderBooksL1,
		MarketFunc: marketFunc(channelTicker),
		Decode:     reader.DecodeJSON[Ticker],
		Map:        mapTicker,
	}
}
