package stream

import (
	"fmt"

	"cryptostream/models"
	"cryptostream/reader"
	"cryptostream/reader/binance"
	"cryptostream/reader/bitfinex"
	"cryptostream/reader/bybit"
	"cryptostream/reader/coinbase"
	"cryptostream/reader/deribit"
	"cryptostream/reader/gateio"
	"cryptostream/reader/okx"
)

// Factory builds the adapter of one exchange for one subscription kind.
type Factory[T any] func(exchange models.ExchangeID, opts reader.VenueOptions) (reader.Adapter[T], error)

func unsupported(exchange models.ExchangeID, kind models.SubKind) error {
	return fmt.Errorf("%s does not support %s", exchange, kind)
}

// Trades builds public trade adapters for every supported venue.
func Trades(exchange models.ExchangeID, opts reader.VenueOptions) (reader.Adapter[models.PublicTrade], error) {
	switch exchange {
	case models.BinanceSpot, models.BinanceFuturesUsd:
		srv, err := binance.ServerFor(exchange)
		if err != nil {
			return nil, err
		}
		return binance.Trades(srv, opts), nil
	case models.BybitSpot, models.BybitPerpetualsUsd:
		srv, err := bybit.ServerFor(exchange)
		if err != nil {
			return nil, err
		}
		return bybit.Trades(srv, opts), nil
	case models.GateioSpot, models.GateioFuturesUsd:
		srv, err := gateio.ServerFor(exchange)
		if err != nil {
			return nil, err
		}
		return gateio.Trades(srv, opts), nil
	case models.Coinbase:
		return coinbase.Trades(opts), nil
	case models.Okx:
		return okx.Trades(opts), nil
	case models.Bitfinex:
		return bitfinex.Trades(opts), nil
	case models.Deribit:
		return deribit.Trades(opts), nil
	}
	return nil, unsupported(exchange, models.SubPublicTrades)
}

func OrderBooksL1(exchange models.ExchangeID, opts reader.VenueOptions) (reader.Adapter[models.OrderBookL1], error) {
	switch exchange {
	case models.BinanceSpot, models.BinanceFuturesUsd:
		srv, err := binance.ServerFor(exchange)
		if err != nil {
			return nil, err
		}
		return binance.OrderBooksL1(srv, opts), nil
	case models.BybitSpot, models.BybitPerpetualsUsd:
		srv, err := bybit.ServerFor(exchange)
		if err != nil {
			return nil, err
		}
		return bybit.OrderBooksL1(srv, opts), nil
	case models.GateioSpot, models.GateioFuturesUsd:
		srv, err := gateio.ServerFor(exchange)
		if err != nil {
			return nil, err
		}
		return gateio.OrderBooksL1(srv, opts), nil
	case models.Coinbase:
		return coinbase.OrderBooksL1(opts), nil
	case models.Okx:
		return okx.OrderBooksL1(opts), nil
	case models.Bitfinex:
		return bitfinex.OrderBooksL1(opts), nil
	case models.Deribit:
		return deribit.OrderBooksL1(opts), nil
	}
	return nil, unsupported(exchange, models.SubOrderBooksL1)
}

// OrderBooksL2 requires opts.Resyncer for Binance, whose streams never carry
// a snapshot.
func OrderBooksL2(exchange models.ExchangeID, opts reader.VenueOptions) (reader.Adapter[models.OrderBookEvent], error) {
	switch exchange {
	case models.BinanceSpot, models.BinanceFuturesUsd:
		if opts.Resyncer == nil {
			return nil, fmt.Errorf("%s order books need a snapshot resyncer", exchange)
		}
		srv, err := binance.ServerFor(exchange)
		if err != nil {
			return nil, err
		}
		return binance.OrderBooksL2(srv, opts), nil
	case models.BybitSpot, models.BybitPerpetualsUsd:
		srv, err := bybit.ServerFor(exchange)
		if err != nil {
			return nil, err
		}
		return bybit.OrderBooksL2(srv, opts), nil
	case models.Okx:
		return okx.OrderBooksL2(opts), nil
	}
	return nil, unsupported(exchange, models.SubOrderBooksL2)
}

func Candles(exchange models.ExchangeID, opts reader.VenueOptions) (reader.Adapter[models.Candle], error) {
	switch exchange {
	case models.BinanceSpot, models.BinanceFuturesUsd:
		srv, err := binance.ServerFor(exchange)
		if err != nil {
			return nil, err
		}
		return binance.Candles(srv, opts), nil
	case models.BybitSpot, models.BybitPerpetualsUsd:
		srv, err := bybit.ServerFor(exchange)
		if err != nil {
			return nil, err
		}
		return bybit.Candles(srv, opts), nil
	case models.Okx:
		return okx.Candles(opts), nil
	}
	return nil, unsupported(exchange, models.SubCandles)
}

func Liquidations(exchange models.ExchangeID, opts reader.VenueOptions) (reader.Adapter[models.Liquidation], error) {
	switch exchange {
	case models.BinanceFuturesUsd:
		return binance.Liquidations(binance.Futures, opts)
	case models.BybitPerpetualsUsd:
		return bybit.Liquidations(bybit.Linear, opts)
	}
	return nil, unsupported(exchange, models.SubLiquidations)
}
