// Package binance adapts the Binance spot and USD-M futures market streams.
package binance

import (
	"encoding/json"
	"fmt"
	"strings"

	"cryptostream/models"
	"cryptostream/processor"
	"cryptostream/reader"
)

const (
	SpotURL    = "wss://stream.binance.com:9443/ws"
	FuturesURL = "wss://fstream.binance.com/ws"

	channelTrade       = "@trade"
	channelAggTrade    = "@aggTrade"
	channelBookTicker  = "@bookTicker"
	channelDepth       = "@depth@100ms"
	channelKline       = "@kline_1m"
	channelForceOrder  = "@forceOrder"
	defaultResponseID  = 1
	futuresExpiryStyle = "060102"
)

// Server selects between the spot and futures endpoints.
type Server struct {
	Exchange     models.ExchangeID
	URL          string
	TradeChannel string
	Sequencer    processor.Sequencer
}

var (
	Spot = Server{
		Exchange:     models.BinanceSpot,
		URL:          SpotURL,
		TradeChannel: channelTrade,
		Sequencer:    processor.BinanceSpotSequencer{},
	}
	Futures = Server{
		Exchange:     models.BinanceFuturesUsd,
		URL:          FuturesURL,
		TradeChannel: channelAggTrade,
		Sequencer:    processor.BinanceFuturesSequencer{},
	}
)

// ServerFor returns the server of a Binance exchange id.
func ServerFor(exchange models.ExchangeID) (Server, error) {
	switch exchange {
	case models.BinanceSpot:
		return Spot, nil
	case models.BinanceFuturesUsd:
		return Futures, nil
	}
	return Server{}, fmt.Errorf("binance: unknown exchange %s", exchange)
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

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

// StreamName is the wire name of a subscription, e.g. "btcusdt@trade".
func StreamName(sub reader.ExchangeSub) string {
	return strings.ToLower(sub.Market) + sub.Channel
}

// Requests subscribes to every stream in one frame.
func (c Connector) Requests(subs []reader.ExchangeSub) ([]reader.WsMessage, error) {
	params := make([]string, len(subs))
	for i, s := range subs {
		params[i] = StreamName(s)
	}
	msg, err := reader.TextMessage(subscribeRequest{Method: "SUBSCRIBE", Params: params, ID: defaultResponseID})
	if err != nil {
		return nil, err
	}
	return []reader.WsMessage{msg}, nil
}

func (c Connector) ExpectedResponses([]reader.ExchangeSub) int { return 1 }

type subResponse struct {
	Result json.RawMessage `json:"result"`
	ID     *int64          `json:"id"`
	Error  *struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"error"`
}

// ParseResponse accepts {"result":null,"id":1} and rejects any response with
// an error or a non-empty result.
func (c Connector) ParseResponse(payload []byte) (reader.SubResponse, error) {
	var r subResponse
	if err := json.Unmarshal(payload, &r); err != nil || r.ID == nil {
		return reader.SubResponse{}, reader.ErrNotResponse
	}
	if r.Error != nil {
		return reader.SubResponse{Status: reader.Rejected, Reason: fmt.Sprintf("code %d: %s", r.Error.Code, r.Error.Msg)}, nil
	}
	if len(r.Result) == 0 || string(r.Result) == "null" {
		return reader.SubResponse{Status: reader.Subscribed}, nil
	}
	return reader.SubResponse{Status: reader.Rejected, Reason: string(r.Result)}, nil
}

// Market formats an instrument the way Binance names symbols.
func Market(inst models.Instrument) (string, error) {
	symbol := strings.ToUpper(inst.Base + inst.Quote)
	switch inst.Kind.Type {
	case models.InstrumentSpot, models.InstrumentPerpetual:
		return symbol, nil
	case models.InstrumentFuture:
		return symbol + "_" + inst.Kind.Expiry.Format(futuresExpiryStyle), nil
	}
	return "", fmt.Errorf("binance: unsupported instrument kind %s", inst.Kind)
}

func marketFunc(srv Server, channel string) func(models.Subscription) (reader.ExchangeSub, error) {
	return func(sub models.Subscription) (reader.ExchangeSub, error) {
		kind := sub.Instrument.Kind.Type
		if srv.Exchange == models.BinanceSpot && kind != models.InstrumentSpot {
			return reader.ExchangeSub{}, fmt.Errorf("binance spot only lists spot instruments")
		}
		if srv.Exchange == models.BinanceFuturesUsd && kind == models.InstrumentSpot {
			return reader.ExchangeSub{}, fmt.Errorf("binance futures does not list spot instruments")
		}
		market, err := Market(sub.Instrument)
		if err != nil {
			return reader.ExchangeSub{}, err
		}
		return reader.ExchangeSub{Channel: channel, Market: market}, nil
	}
}

func Trades(srv Server, opts reader.VenueOptions) reader.Adapter[models.PublicTrade] {
	return reader.StatelessAdapter[Trade, models.PublicTrade]{
		Venue:      NewConnector(srv, opts),
		Kind:       models.SubPublicTrades,
		MarketFunc: marketFunc(srv, srv.TradeChannel),
		Decode:     reader.DecodeJSON[Trade],
		Map:        mapTrade,
	}
}

func OrderBooksL1(srv Server, opts reader.VenueOptions) reader.Adapter[models.OrderBookL1] {
	return reader.StatelessAdapter[BookTicker, models.OrderBookL1]{
		Venue:      NewConnector(srv, opts),
		Kind:       models.SubOrderBooksL1,
		MarketFunc: marketFunc(srv, channelBookTicker),
		Decode:     reader.DecodeJSON[BookTicker],
		Map:        mapBookTicker,
	}
}

// OrderBooksL2 reconstructs books from diff depth streams. The initial
// snapshot and every resync come from opts.Resyncer.
func OrderBooksL2(srv Server, opts reader.VenueOptions) reader.Adapter[models.OrderBookEvent] {
	return reader.BookAdapter[DepthUpdate]{
		Venue:      NewConnector(srv, opts),
		MarketFunc: marketFunc(srv, channelDepth),
		Decode:     reader.DecodeJSON[DepthUpdate],
		Extract:    extractDepth,
		Book:       processor.BookConfig{Sequencer: srv.Sequencer, Depth: opts.BookDepth},
		Resyncer:   opts.Resyncer,
	}
}

func Candles(srv Server, opts reader.VenueOptions) reader.Adapter[models.Candle] {
	return reader.StatelessAdapter[Kline, models.Candle]{
		Venue:      NewConnector(srv, opts),
		Kind:       models.SubCandles,
		MarketFunc: marketFunc(srv, channelKline),
		Decode:     reader.DecodeJSON[Kline],
		Map:        mapKline,
	}
}

// Liquidations is only offered by the futures server.
func Liquidations(srv Server, opts reader.VenueOptions) (reader.Adapter[models.Liquidation], error) {
	if srv.Exchange != models.BinanceFuturesUsd {
		return nil, fmt.Errorf("binance: liquidations are not published by %s", srv.Exchange)
	}
	return reader.StatelessAdapter[ForceOrder, models.Liquidation]{
		Venue:      NewConnector(srv, opts),
		Kind:       models.SubLiquidations,
		MarketFunc: marketFunc(srv, channelForceOrder),
		Decode:     reader.DecodeJSON[ForceOrder],
		Map:        mapForceOrder,
	}, nil
}
