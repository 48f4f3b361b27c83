// Package gateio adapts the Gate.io v4 spot and USDT futures websockets.
package gateio

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"cryptostream/models"
	"cryptostream/reader"
)

const (
	SpotURL    = "wss://api.gateio.ws/ws/v4/"
	FuturesURL = "wss://fx-ws.gateio.ws/v4/ws/usdt"
)

// Server selects between the spot and futures endpoints. Channel names
// are prefixed with the server's Prefix, e.g. "spot.trades".
type Server struct {
	Exchange models.ExchangeID
	URL      string
	Prefix   string
}

var (
	Spot    = Server{Exchange: models.GateioSpot, URL: SpotURL, Prefix: "spot"}
	Futures = Server{Exchange: models.GateioFuturesUsd, URL: FuturesURL, Prefix: "futures"}
)

// ServerFor returns the server of a Gate.io exchange id.
func ServerFor(exchange models.ExchangeID) (Server, error) {
	switch exchange {
	case models.GateioSpot:
		return Spot, nil
	case models.GateioFuturesUsd:
		return Futures, nil
	}
	return Server{}, fmt.Errorf("gateio: unknown exchange %s", exchange)
}

func (s Server) channel(name string) string { return s.Prefix + "." + name }

type Connector struct {
	reader.BaseConnector
}

func NewConnector(srv Server, opts reader.VenueOptions) Connector {
	return Connector{reader.BaseConnector{
		Exchange: srv.Exchange,
		RawURL:   opts.URLOr(srv.URL),
		Timeout:  opts.HandshakeTimeout,
	}}
}

type request struct {
	Time    int64    `json:"time"`
	Channel string   `json:"channel"`
	Event   string   `json:"event"`
	Payload []string `json:"payload"`
}

// Requests sends one subscribe event per channel.
func (c Connector) Requests(subs []reader.ExchangeSub) ([]reader.WsMessage, error) {
	byChannel := make(map[string][]string)
	for _, s := range subs {
		byChannel[s.Channel] = append(byChannel[s.Channel], s.Market)
	}
	channels := make([]string, 0, len(byChannel))
	for ch := range byChannel {
		channels = append(channels, ch)
	}
	sort.Strings(channels)

	now := time.Now().Unix()
	out := make([]reader.WsMessage, 0, len(channels))
	for _, ch := range channels {
		msg, err := reader.TextMessage(request{Time: now, Channel: ch, Event: "subscribe", Payload: byChannel[ch]})
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func (c Connector) ExpectedResponses(subs []reader.ExchangeSub) int {
	channels := make(map[string]struct{})
	for _, s := range subs {
		channels[s.Channel] = struct{}{}
	}
	return len(channels)
}

type subResponse struct {
	Event string `json:"event"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Result *struct {
		Status string `json:"status"`
	} `json:"result"`
}

func (c Connector) ParseResponse(payload []byte) (reader.SubResponse, error) {
	var r subResponse
	if err := json.Unmarshal(payload, &r); err != nil || r.Event != "subscribe" {
		return reader.SubResponse{}, reader.ErrNotResponse
	}
	if r.Error != nil {
		return reader.SubResponse{Status: reader.Rejected, Reason: fmt.Sprintf("code %d: %s", r.Error.Code, r.Error.Message)}, nil
	}
	if r.Result == nil || r.Result.Status != "success" {
		return reader.SubResponse{Status: reader.Rejected, Reason: "subscription not acknowledged"}, nil
	}
	return reader.SubResponse{Status: reader.Subscribed}, nil
}

// Market formats a pair as "BTC_USDT". Spot lists spot pairs, futures lists
// perpetual contracts.
func Market(srv Server, inst models.Instrument) (string, error) {
	want := models.InstrumentSpot
	if srv.Exchange == models.GateioFuturesUsd {
		want = models.InstrumentPerpetual
	}
	if inst.Kind.Type != want {
		return "", fmt.Errorf("gateio: %s lists %s instruments, got %s", srv.Exchange, want, inst.Kind)
	}
	return strings.ToUpper(inst.Base) + "_" + strings.ToUpper(inst.Quote), nil
}

func marketFunc(srv Server, name string) func(models.Subscription) (reader.ExchangeSub, error) {
	return func(sub models.Subscription) (reader.ExchangeSub, error) {
		market, err := Market(srv, sub.Instrument)
		if err != nil {
			return reader.ExchangeSub{}, err
		}
		return reader.ExchangeSub{Channel: srv.channel(name), Market: market}, nil
	}
}

func Trades(srv Server, opts reader.VenueOptions) reader.Adapter[models.PublicTrade] {
	if srv.Exchange == models.GateioFuturesUsd {
		return reader.StatelessAdapter[Update[[]FuturesTrade], models.PublicTrade]{
			Venue:      NewConnector(srv, opts),
			Kind:       models.SubPublicTrades,
			MarketFunc: marketFunc(srv, "trades"),
			Decode:     reader.DecodeJSON[Update[[]FuturesTrade]],
			Map:        mapFuturesTrades,
		}
	}
	return reader.StatelessAdapter[Update[SpotTrade], models.PublicTrade]{
		Venue:      NewConnector(srv, opts),
		Kind:       models.SubPublicTrades,
		MarketFunc: marketFunc(srv, "trades"),
		Decode:     reader.DecodeJSON[Update[SpotTrade]],
		Map:        mapSpotTrade,
	}
}

func OrderBooksL1(srv Server, opts reader.VenueOptions) reader.Adapter[models.OrderBookL1] {
	return reader.StatelessAdapter[Update[BookTicker], models.OrderBookL1]{
		Venue:      NewConnector(srv, opts),
		Kind:       models.SubOrderBooksL1,
		MarketFunc: marketFunc(srv, "book_ticker"),
		Decode:     reader.DecodeJSON[Update[BookTicker]],
		Map:        mapBookTicker,
	}
}
