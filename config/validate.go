package config

import (
	"errors"
	"fmt"
	"strings"
)

// ValidateProgram ensures the runtime settings are usable.
func ValidateProgram(cfg ProgramConfig) error {
	if cfg.Runtime.LoopIntervalSeconds <= 0 {
		return errors.New("runtime.loop_interval_seconds must be > 0")
	}
	if cfg.Runtime.MaxConcurrentMarkets < 0 {
		return errors.New("runtime.max_concurrent_markets must be >= 0")
	}
	if cfg.Runtime.OfferMaxAgeSeconds < 0 {
		return errors.New("runtime.offer_max_age_seconds must be >= 0")
	}
	if cfg.Sage.Port <= 0 || cfg.Sage.Port > 65535 {
		return fmt.Errorf("sage.port %d out of range", cfg.Sage.Port)
	}
	if cfg.Sage.FeeMojos < 0 {
		return errors.New("sage.fee_mojos must be >= 0")
	}
	if cfg.PriceFeed.XCHPriceURL == "" {
		return errors.New("price_feed.xch_price_url is required")
	}
	if cfg.PriceFeed.TimeoutSeconds < 0 {
		return errors.New("price_feed.timeout_seconds must be >= 0")
	}
	return nil
}

// ValidateMarkets checks ids, modes and ladders. Ladder sizes must be positive.
func ValidateMarkets(cfg MarketsConfig) error {
	seen := make(map[string]struct{}, len(cfg.Markets))
	for i, m := range cfg.Markets {
		if m.MarketID == "" {
			return fmt.Errorf("markets[%d].market_id is required", i)
		}
		if _, dup := seen[m.MarketID]; dup {
			return fmt.Errorf("market %s defined twice", m.MarketID)
		}
		seen[m.MarketID] = struct{}{}
		switch m.Mode {
		case "", ModeSellOnly, ModeBuyOnly, ModeTwoSided:
		default:
			return fmt.Errorf("market %s mode %q not supported", m.MarketID, m.Mode)
		}
		if m.QuoteAsset == "" {
			return fmt.Errorf("market %s quote_asset is required", m.MarketID)
		}
		if _, ok := m.ResolveQuoteAssetID(); !ok {
			return fmt.Errorf("market %s quote_asset %q is not an asset id; set quote_asset_id", m.MarketID, m.QuoteAsset)
		}
		if m.QuoteAssetID != "" && !isAssetID(strings.ToLower(strings.TrimSpace(m.QuoteAssetID))) {
			return fmt.Errorf("market %s quote_asset_id must be a 64-char hex asset id", m.MarketID)
		}
		for dir, entries := range m.Ladders {
			if dir != "sell" && dir != "buy" {
				return fmt.Errorf("market %s ladder direction %q not supported", m.MarketID, dir)
			}
			if err := validateLadder(m.MarketID, dir, entries); err != nil {
				return err
			}
		}
		if err := validateLadder(m.MarketID, "flat", m.Ladder); err != nil {
			return err
		}
		for _, key := range []string{PricingMinXCHPriceUSD, PricingMaxXCHPriceUSD, PricingSellUSDPerBase, PricingBuyUSDPerBase} {
			if v, ok := m.PricingFloat(key); ok && v < 0 {
				return fmt.Errorf("market %s pricing.%s must be >= 0", m.MarketID, key)
			}
		}
		lo, hasLo := m.PricingFloat(PricingMinXCHPriceUSD)
		hi, hasHi := m.PricingFloat(PricingMaxXCHPriceUSD)
		if hasLo && hasHi && lo > hi {
			return fmt.Errorf("market %s xch price floor %.4f above ceiling %.4f", m.MarketID, lo, hi)
		}
	}
	return nil
}

func validateLadder(marketID, dir string, entries []LadderEntry) error {
	sizes := make(map[int]struct{}, len(entries))
	for j, e := range entries {
		if e.SizeBaseUnits <= 0 {
			return fmt.Errorf("market %s %s ladder[%d] size_base_units must be > 0", marketID, dir, j)
		}
		if e.TargetCount < 0 {
			return fmt.Errorf("market %s %s ladder[%d] target_count must be >= 0", marketID, dir, j)
		}
		if _, dup := sizes[e.SizeBaseUnits]; dup {
			return fmt.Errorf("market %s %s ladder size %d listed twice", marketID, dir, e.SizeBaseUnits)
		}
		sizes[e.SizeBaseUnits] = struct{}{}
	}
	return nil
}
