// Package bybit adapts the Bybit v5 public spot and linear streams.
package bybit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cryptostream/models"
	"cryptostream/processor"
	"cryptostream/reader"
)

const (
	SpotURL   = "wss://stream.bybit.com/v5/public/spot"
	LinearURL = "wss://stream.bybit.com/v5/public/linear"

	channelTrade       = "publicTrade"
	channelL1          = "orderbook.1"
	channelKline       = "kline.1"
	channelLiquidation = "allLiquidation"

	// Bybit caps the args of a single subscribe request.
	maxArgsPerRequest = 10
	pingInterval      = 20 * time.Second
)

// Server selects between the spot and linear endpoints. BookChannel is the
// depth stream used for L2 books; its REST snapshot limit matches it.
type Server struct {
	Exchange    models.ExchangeID
	URL         string
	Category    string
	BookChannel string
	BookLimit   int
}

var (
	Spot = Server{
		Exchange:    models.BybitSpot,
		URL:         SpotURL,
		Category:    "spot",
		BookChannel: "orderbook.200",
		BookLimit:   200,
	}
	Linear = Server{
		Exchange:    models.BybitPerpetualsUsd,
		URL:         LinearURL,
		Category:    "linear",
		BookChannel: "orderbook.50",
		BookLimit:   50,
	}
)

// ServerFor returns the server of a Bybit exchange id.
func ServerFor(exchange models.ExchangeID) (Server, error) {
	switch exchange {
	case models.BybitSpot:
		return Spot, nil
	case models.BybitPerpetualsUsd:
		return Linear, nil
	}
	return Server{}, fmt.Errorf("bybit: unknown exchange %s", exchange)
}

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

type opRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

// Topic is the wire name of a subscription, e.g. "publicTrade.BTCUSDT".
func Topic(sub reader.ExchangeSub) string {
	return sub.Channel + "." + sub.Market
}

// SplitTopic splits a topic at its last dot, so "orderbook.50.BTCUSDT"
// yields the channel "orderbook.50".
func SplitTopic(topic string) (channel, market string, ok bool) {
	i := strings.LastIndexByte(topic, '.')
	if i <= 0 || i == len(topic)-1 {
		return "", "", false
	}
	return topic[:i], topic[i+1:], true
}

func (c Connector) Requests(subs []reader.ExchangeSub) ([]reader.WsMessage, error) {
	return opMessages("subscribe", subs)
}

// Unsubscribe builds the frames that drop subs from a live connection.
func (c Connector) Unsubscribe(subs []reader.ExchangeSub) ([]reader.WsMessage, error) {
	return opMessages("unsubscribe", subs)
}

func opMessages(op string, subs []reader.ExchangeSub) ([]reader.WsMessage, error) {
	var out []reader.WsMessage
	for start := 0; start < len(subs); start += maxArgsPerRequest {
		end := min(start+maxArgsPerRequest, len(subs))
		args := make([]string, 0, end-start)
		for _, s := range subs[start:end] {
			args = append(args, Topic(s))
		}
		msg, err := reader.TextMessage(opRequest{Op: op, Args: args})
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

// ExpectedResponses is one per request frame.
func (c Connector) ExpectedResponses(subs []reader.ExchangeSub) int {
	return (len(subs) + maxArgsPerRequest - 1) / maxArgsPerRequest
}

type opResponse struct {
	Op      string `json:"op"`
	Success bool   `json:"success"`
	RetMsg  string `json:"ret_msg"`
}

func (c Connector) ParseResponse(payload []byte) (reader.SubResponse, error) {
	var r opResponse
	if err := json.Unmarshal(payload, &r); err != nil || r.Op != "subscribe" {
		return reader.SubResponse{}, reader.ErrNotResponse
	}
	if !r.Success {
		return reader.SubResponse{Status: reader.Rejected, Reason: r.RetMsg}, nil
	}
	return reader.SubResponse{Status: reader.Subscribed}, nil
}

func (c Connector) Ping() *reader.PingInterval {
	msg, err := reader.TextMessage(opRequest{Op: "ping"})
	if err != nil {
		return nil
	}
	return &reader.PingInterval{Interval: pingInterval, Message: msg}
}

// Market formats an instrument the way Bybit names symbols.
func Market(inst models.Instrument) (string, error) {
	switch inst.Kind.Type {
	case models.InstrumentSpot, models.InstrumentPerpetual:
		return strings.ToUpper(inst.Base + inst.Quote), nil
	}
	return "", fmt.Errorf("bybit: unsupported instrument kind %s", inst.Kind)
}

func marketFunc(srv Server, channel string) func(models.Subscription) (reader.ExchangeSub, error) {
	return func(sub models.Subscription) (reader.ExchangeSub, error) {
		kind := sub.Instrument.Kind.Type
		if srv.Exchange == models.BybitSpot && kind != models.InstrumentSpot {
			return reader.ExchangeSub{}, fmt.Errorf("bybit spot only lists spot instruments")
		}
		if srv.Exchange == models.BybitPerpetualsUsd && kind != models.InstrumentPerpetual {
			return reader.ExchangeSub{}, fmt.Errorf("bybit linear only lists perpetual instruments")
		}
		market, err := Market(sub.Instrument)
		if err != nil {
			return reader.ExchangeSub{}, err
		}
		return reader.ExchangeSub{Channel: channel, Market: market}, nil
	}
}

func Trades(srv Server, opts reader.VenueOptions) reader.Adapter[models.PublicTrade] {
	return reader.StatelessAdapter[Message[[]Trade], models.PublicTrade]{
		Venue:      NewConnector(srv, opts),
		Kind:       models.SubPublicTrades,
		MarketFunc: marketFunc(srv, channelTrade),
		Decode:     decode[[]Trade],
		Map:        mapTrades,
	}
}

func OrderBooksL1(srv Server, opts reader.VenueOptions) reader.Adapter[models.OrderBookL1] {
	return reader.StatelessAdapter[Message[Book], models.OrderBookL1]{
		Venue:      NewConnector(srv, opts),
		Kind:       models.SubOrderBooksL1,
		MarketFunc: marketFunc(srv, channelL1),
		Decode:     decode[Book],
		Map:        mapL1,
	}
}

// OrderBooksL2 opens every book with the snapshot Bybit sends on subscribe.
// Resyncs use opts.Resyncer when set and otherwise resubscribe the topic.
func OrderBooksL2(srv Server, opts reader.VenueOptions) reader.Adapter[models.OrderBookEvent] {
	conn := NewConnector(srv, opts)
	resyncer := opts.Resyncer
	if resyncer == nil {
		resyncer = reader.Resubscriber{Connector: conn, Unsubscribe: conn.Unsubscribe}
	}
	return reader.BookAdapter[Message[Book]]{
		Venue:      conn,
		MarketFunc: marketFunc(srv, srv.BookChannel),
		Decode:     decode[Book],
		Extract:    extractBook,
		Book:       processor.BookConfig{Sequencer: processor.UpdateIDSequencer{}, Depth: opts.BookDepth},
		Resyncer:   resyncer,
	}
}

func Candles(srv Server, opts reader.VenueOptions) reader.Adapter[models.Candle] {
	return reader.StatelessAdapter[Message[[]Kline], models.Candle]{
		Venue:      NewConnector(srv, opts),
		Kind:       models.SubCandles,
		MarketFunc: marketFunc(srv, channelKline),
		Decode:     decode[[]Kline],
		Map:        mapKlines,
	}
}

// Liquidations is only offered by the linear server.
func Liquidations(srv Server, opts reader.VenueOptions) (reader.Adapter[models.Liquidation], error) {
	if srv.Exchange != models.BybitPerpetualsUsd {
		return nil, fmt.Errorf("bybit: liquidations are not published by %s", srv.Exchange)
	}
	return reader.StatelessAdapter[Message[[]Liquidation], models.Liquidation]{
		Venue:      NewConnector(srv, opts),
		Kind:       models.SubLiquidations,
		MarketFunc: marketFunc(srv, channelLiquidation),
		Decode:     decode[[]Liquidation],
		Map:        mapLiquidations,
	}, nil
}
