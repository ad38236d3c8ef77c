package engine

import (
	"errors"
	"fmt"
	"strings"

	"greenfloor/config"
	"greenfloor/gateway"
	"greenfloor/market"
	"greenfloor/strategy"
)

var ErrNoQuotePrice = errors.New("no quote price source for market")

// TickerIndex 以 "BASE_QUOTE"（大写）索引行情。
type TickerIndex map[string]gateway.Ticker

func NewTickerIndex(tickers []gateway.Ticker) TickerIndex {
	idx := make(TickerIndex, len(tickers))
	for _, t := range tickers {
		if t.TickerID != "" {
			idx[strings.ToUpper(t.TickerID)] = t
		}
	}
	return idx
}

// QuotePrice resolves quote units per base unit for one market direction.
//
// Configured usd_per_base wins: xch-quoted markets divide it by the spot
// price, usdc-quoted markets use it directly. Without a USD rate the venue
// ticker's last price is used, widened by the target spread on each side.
func QuotePrice(m config.MarketConfig, cfg strategy.Config, dir strategy.Direction, spotUSD *float64, tickers TickerIndex) (float64, error) {
	if _, err := market.USDPerBase(m, dir); err == nil {
		if cfg.Pair != strategy.PairXCH {
			return market.USDPerBase(m, dir)
		}
		if spotUSD == nil {
			return 0, fmt.Errorf("market %s: %w", m.MarketID, market.ErrNonPositiveSpotPrice)
		}
		return market.ResolveQuotePrice(m, dir, *spotUSD)
	}

	t, ok := tickers[strings.ToUpper(m.BaseSymbol+"_"+cfg.Pair)]
	if !ok || t.Last() <= 0 {
		return 0, fmt.Errorf("market %s %s: %w", m.MarketID, dir, ErrNoQuotePrice)
	}
	spread := 0.0
	if cfg.SpreadBps != nil {
		spread = float64(*cfg.SpreadBps) / 10_000
	}
	if dir == strategy.DirectionBuy {
		return t.Last() * (1 - spread), nil
	}
	return t.Last() * (1 + spread), nil
}
