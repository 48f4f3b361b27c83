package models

import "fmt"

// ExchangeID identifies one venue server. Spot and derivative servers of the
// same venue are distinct exchanges because they speak to different URLs.
type ExchangeID string

const (
	BinanceSpot        ExchangeID = "binance_spot"
	BinanceFuturesUsd  ExchangeID = "binance_futures_usd"
	BybitSpot          ExchangeID = "bybit_spot"
	BybitPerpetualsUsd ExchangeID = "bybit_perpetuals_usd"
	Coinbase           ExchangeID = "coinbase"
	Okx                ExchangeID = "okx"
	Bitfinex           ExchangeID = "bitfinex"
	GateioSpot         ExchangeID = "gateio_spot"
	GateioFuturesUsd   ExchangeID = "gateio_futures_usd"
	Deribit            ExchangeID = "deribit"
)

var exchangeIDs = []ExchangeID{
	BinanceSpot,
	BinanceFuturesUsd,
	BybitSpot,
	BybitPerpetualsUsd,
	Coinbase,
	Okx,
	Bitfinex,
	GateioSpot,
	GateioFuturesUsd,
	Deribit,
}

// ExchangeIDs returns every supported exchange.
func ExchangeIDs() []ExchangeID {
	out := make([]ExchangeID, len(exchangeIDs))
	copy(out, exchangeIDs)
	return out
}

// ParseExchangeID validates a configured exchange name.
func ParseExchangeID(s string) (ExchangeID, error) {
	for _, id := range exchangeIDs {
		if string(id) == s {
			return id, nil
		}
	}
	return "", fmt.Errorf("unsupported exchange %q", s)
}

func (e ExchangeID) String() string { return string(e) }
