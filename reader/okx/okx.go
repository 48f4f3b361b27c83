// Package okx adapts the OKX v5 public websocket.
package okx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cryptostream/models"
	"cryptostream/processor"
	"cryptostream/reader"
)

const (
	URL = "wss://ws.okx.com:8443/ws/v5/public"

	channelTrades  = "trades"
	channelBBO     = "bbo-tbt"
	channelBooks   = "books"
	channelCandles = "candle1m"

	// OKX closes connections that stay silent for 30 seconds.
	pingInterval  = 29 * time.Second
	checksumDepth = 25
	expiryLayout  = "060102"
)

type Connector struct {
	reader.BaseConnector
}

func NewConnector(opts reader.VenueOptions) Connector {
	return Connector{reader.BaseConnector{
		Exchange: models.Okx,
		RawURL:   opts.URLOr(URL),
		Timeout:  opts.HandshakeTimeout,
	}}
}

// Arg names one channel of one instrument on the wire.
type Arg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type opRequest struct {
	Op   string `json:"op"`
	Args []Arg  `json:"args"`
}

func (c Connector) Requests(subs []reader.ExchangeSub) ([]reader.WsMessage, error) {
	return opMessage("subscribe", subs)
}

// Unsubscribe builds the frame that drops subs from a live connection.
func (c Connector) Unsubscribe(subs []reader.ExchangeSub) ([]reader.WsMessage, error) {
	return opMessage("unsubscribe", subs)
}

func opMessage(op string, subs []reader.ExchangeSub) ([]reader.WsMessage, error) {
	args := make([]Arg, len(subs))
	for i, s := range subs {
		args[i] = Arg{Channel: s.Channel, InstID: s.Market}
	}
	msg, err := reader.TextMessage(opRequest{Op: op, Args: args})
	if err != nil {
		return nil, err
	}
	return []reader.WsMessage{msg}, nil
}

// ExpectedResponses is one event per arg.
func (c Connector) ExpectedResponses(subs []reader.ExchangeSub) int { return len(subs) }

type eventResponse struct {
	Event string `json:"event"`
	Arg   *Arg   `json:"arg"`
	Code  string `json:"code"`
	Msg   string `json:"msg"`
}

func (c Connector) ParseResponse(payload []byte) (reader.SubResponse, error) {
	var r eventResponse
	if err := json.Unmarshal(payload, &r); err != nil {
		return reader.SubResponse{}, reader.ErrNotResponse
	}
	switch r.Event {
	case "error":
		return reader.SubResponse{Status: reader.Rejected, Reason: fmt.Sprintf("code %s: %s", r.Code, r.Msg)}, nil
	case "subscribe":
		if r.Arg == nil {
			return reader.SubResponse{Status: reader.Subscribed}, nil
		}
		return reader.SubResponse{
			Status:    reader.Subscribed,
			Confirmed: []models.SubscriptionID{models.NewSubscriptionID(r.Arg.Channel, r.Arg.InstID)},
		}, nil
	}
	return reader.SubResponse{}, reader.ErrNotResponse
}

// Ping keeps the connection alive with the plain text "ping" OKX expects.
func (c Connector) Ping() *reader.PingInterval {
	return &reader.PingInterval{Interval: pingInterval, Message: reader.WsMessage{Payload: []byte("ping")}}
}

// decode maps the text "pong" reply to an empty message. An error event
// pushed after the handshake, such as a rejected resubscribe, is returned as
// an error so the stream surfaces it.
func decode[D any](payload []byte) (Message[D], error) {
	if bytes.Equal(bytes.TrimSpace(payload), []byte("pong")) {
		return Message[D]{}, nil
	}
	msg, err := reader.DecodeJSON[Message[D]](payload)
	if err != nil {
		return msg, err
	}
	if msg.Event == "error" {
		return Message[D]{}, fmt.Errorf("%w: code %s: %s", processor.ErrVenue, msg.Code, msg.Msg)
	}
	return msg, nil
}

// Market formats an instrument as an OKX instId: BTC-USDT, BTC-USDT-SWAP,
// BTC-USD-250328 or BTC-USD-250328-50000-C.
func Market(inst models.Instrument) (string, error) {
	pair := strings.ToUpper(inst.Base) + "-" + strings.ToUpper(inst.Quote)
	switch inst.Kind.Type {
	case models.InstrumentSpot:
		return pair, nil
	case models.InstrumentPerpetual:
		return pair + "-SWAP", nil
	case models.InstrumentFuture:
		return pair + "-" + inst.Kind.Expiry.Format(expiryLayout), nil
	case models.InstrumentOption:
		opt := inst.Kind.Option
		if opt == nil {
			return "", fmt.Errorf("okx: option instrument without contract")
		}
		side := "C"
		if opt.Kind == models.OptionPut {
			side = "P"
		}
		strike := strconv.FormatFloat(opt.Strike, 'f', -1, 64)
		return pair + "-" + opt.Expiry.Format(expiryLayout) + "-" + strike + "-" + side, nil
	}
	return "", fmt.Errorf("okx: unsupported instrument kind %s", inst.Kind)
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
	return reader.StatelessAdapter[Message[[]Trade], models.PublicTrade]{
		Venue:      NewConnector(opts),
		Kind:       models.SubPublicTrades,
		MarketFunc: marketFunc(channelTrades),
		Decode:     decode[[]Trade],
		Map:        mapTrades,
	}
}

func OrderBooksL1(opts reader.VenueOptions) reader.Adapter[models.OrderBookL1] {
	return reader.StatelessAdapter[Message[[]Book], models.OrderBookL1]{
		Venue:      NewConnector(opts),
		Kind:       models.SubOrderBooksL1,
		MarketFunc: marketFunc(channelBBO),
		Decode:     decode[[]Book],
		Map:        mapBBO,
	}
}

// OrderBooksL2 follows seqId/prevSeqId continuity and verifies the CRC32
// checksum OKX sends with every push. Resyncs resubscribe the channel,
// which makes OKX send a fresh snapshot.
func OrderBooksL2(opts reader.VenueOptions) reader.Adapter[models.OrderBookEvent] {
	conn := NewConnector(opts)
	resyncer := opts.Resyncer
	if resyncer == nil {
		resyncer = reader.Resubscriber{Connector: conn, Unsubscribe: conn.Unsubscribe}
	}
	return reader.BookAdapter[Message[[]Book]]{
		Venue:      conn,
		MarketFunc: marketFunc(channelBooks),
		Decode:     decode[[]Book],
		Extract:    extractBooks,
		Book: processor.BookConfig{
			Sequencer:   processor.ContinuitySequencer{},
			Checksummer: processor.InterleavedCRC32{Depth: checksumDepth},
			Depth:       opts.BookDepth,
		},
		Resyncer: resyncer,
	}
}

func Candles(opts reader.VenueOptions) reader.Adapter[models.Candle] {
	return reader.StatelessAdapter[Message[[]CandleRow], models.Candle]{
		Venue:      NewConnector(opts),
		Kind:       models.SubCandles,
		MarketFunc: marketFunc(channelCandles),
		Decode:     decode[[]CandleRow],
		Map:        mapCandles,
	}
}
