package market

import (
	"errors"
	"fmt"
	"strings"

	"greenfloor/config"
	"greenfloor/strategy"
)

var (
	// ErrDirectionNotConfigured 市场没有为请求的方向定义梯度（与"梯度为空"不同）。
	ErrDirectionNotConfigured = errors.New("direction ladder not configured")
	// ErrNonPositiveSpotPrice 现货价格必须为正，调用方应已在上游做过价格闸门。
	ErrNonPositiveSpotPrice = errors.New("spot price must be positive")
	// ErrUSDRateNotConfigured pricing 中缺少该方向的 usd_per_base。
	ErrUSDRateNotConfigured = errors.New("usd_per_base not configured for direction")
)

// DiagnosticKind classifies non-fatal projection findings.
type DiagnosticKind string

const (
	DiagInvalidSize DiagnosticKind = "invalid_size"
	DiagEmptyLadder DiagnosticKind = "empty_ladder"
)

// Diagnostic 是投影过程中的非致命问题，由调用方记录日志。
type Diagnostic struct {
	MarketID  string
	Direction strategy.Direction
	Kind      DiagnosticKind
	Message   string
}

var pairAliases = map[string]string{
	"xch":   strategy.PairXCH,
	"txch":  strategy.PairXCH,
	"usdc":  "usdc",
	"wusdc": "usdc",
}

// NormalizePair maps venue aliases such as "wUSDC.b" or "TXCH" onto the
// canonical pair tokens. Unknown assets are lowercased with any ".x" wrapper
// suffix removed.
func NormalizePair(asset string) string {
	p := strings.ToLower(strings.TrimSpace(asset))
	if i := strings.IndexByte(p, '.'); i > 0 {
		p = p[:i]
	}
	if canonical, ok := pairAliases[p]; ok {
		return canonical
	}
	return p
}

// ConfigFromMarket builds the evaluator config for one direction of a market.
//
// Direction-keyed ladders produce TargetsBySize; the 1/10/100 legacy fields
// are mirrored from the same ladder. A flat ladder (legacy single-sided sell
// shape) fills only the legacy fields. A direction with no ladder at all
// returns ErrDirectionNotConfigured; a present but empty ladder is not an
// error and yields no targets.
func ConfigFromMarket(m config.MarketConfig, direction strategy.Direction) (strategy.Config, []Diagnostic, error) {
	cfg := strategy.Config{Pair: NormalizePair(m.QuoteAsset)}
	applyPricing(&cfg, m)

	var diags []Diagnostic
	report := func(kind DiagnosticKind, format string, args ...any) {
		diags = append(diags, Diagnostic{
			MarketID:  m.MarketID,
			Direction: direction,
			Kind:      kind,
			Message:   fmt.Sprintf(format, args...),
		})
	}

	switch {
	case len(m.Ladders) > 0:
		entries, ok := m.Ladders[string(direction)]
		if !ok {
			return cfg, nil, fmt.Errorf("market %s %s: %w", m.MarketID, direction, ErrDirectionNotConfigured)
		}
		if len(entries) == 0 {
			report(DiagEmptyLadder, "%s ladder is empty", direction)
			return cfg, diags, nil
		}
		targets := make(map[int]int, len(entries))
		for _, e := range entries {
			if e.SizeBaseUnits <= 0 {
				report(DiagInvalidSize, "dropped ladder entry with size %d", e.SizeBaseUnits)
				continue
			}
			if e.TargetCount < 0 {
				continue
			}
			targets[e.SizeBaseUnits] = e.TargetCount
		}
		cfg.TargetsBySize = targets
		cfg.Legacy = strategy.LegacyTargets{
			Ones:     targets[strategy.SizeOnes],
			Tens:     targets[strategy.SizeTens],
			Hundreds: targets[strategy.SizeHundreds],
		}
	case len(m.Ladder) > 0 && direction == strategy.DirectionSell:
		cfg.Legacy = legacyFromFlat(m.Ladder)
	default:
		return cfg, nil, fmt.Errorf("market %s %s: %w", m.MarketID, direction, ErrDirectionNotConfigured)
	}
	return cfg, diags, nil
}

// legacyFromFlat matches sizes 1/10/100 by key, falling back to the first
// three entries positionally when no entry uses a legacy size.
func legacyFromFlat(entries []config.LadderEntry) strategy.LegacyTargets {
	var lt strategy.LegacyTargets
	matched := false
	for _, e := range entries {
		if e.TargetCount < 0 {
			continue
		}
		switch e.SizeBaseUnits {
		case strategy.SizeOnes:
			lt.Ones, matched = e.TargetCount, true
		case strategy.SizeTens:
			lt.Tens, matched = e.TargetCount, true
		case strategy.SizeHundreds:
			lt.Hundreds, matched = e.TargetCount, true
		}
	}
	if matched {
		return lt
	}
	slots := []*int{&lt.Ones, &lt.Tens, &lt.Hundreds}
	for i, e := range entries {
		if i >= len(slots) {
			break
		}
		if e.TargetCount > 0 {
			*slots[i] = e.TargetCount
		}
	}
	return lt
}

func applyPricing(cfg *strategy.Config, m config.MarketConfig) {
	if v, ok := m.PricingInt(config.PricingTargetSpreadBps); ok {
		cfg.SpreadBps = &v
	}
	if v, ok := m.PricingFloat(config.PricingMinXCHPriceUSD); ok {
		cfg.MinXCHPriceUSD = &v
	}
	if v, ok := m.PricingFloat(config.PricingMaxXCHPriceUSD); ok {
		cfg.MaxXCHPriceUSD = &v
	}
}

// StateFromBucketCounts builds a snapshot carrying both the generic map and
// the 1/10/100 legacy fields so either evaluator mode works on it.
func StateFromBucketCounts(counts map[int]int, xchPriceUSD *float64) strategy.MarketState {
	buckets := make(map[int]int, len(counts))
	for size, n := range counts {
		buckets[size] = n
	}
	var price *float64
	if xchPriceUSD != nil {
		p := *xchPriceUSD
		price = &p
	}
	return strategy.MarketState{
		Ones:          buckets[strategy.SizeOnes],
		Tens:          buckets[strategy.SizeTens],
		Hundreds:      buckets[strategy.SizeHundreds],
		XCHPriceUSD:   price,
		BucketsBySize: buckets,
	}
}

// USDPerBase returns the configured USD rate for the direction.
func USDPerBase(m config.MarketConfig, direction strategy.Direction) (float64, error) {
	key := config.PricingSellUSDPerBase
	if direction == strategy.DirectionBuy {
		key = config.PricingBuyUSDPerBase
	}
	v, ok := m.PricingFloat(key)
	if !ok {
		return 0, fmt.Errorf("market %s %s: %w", m.MarketID, direction, ErrUSDRateNotConfigured)
	}
	return v, nil
}

// ResolveQuotePrice returns quote units per base unit for an xch-quoted
// market: usd_per_base(direction) / spotPriceUSD.
func ResolveQuotePrice(m config.MarketConfig, direction strategy.Direction, spotPriceUSD float64) (float64, error) {
	if spotPriceUSD <= 0 {
		return 0, fmt.Errorf("market %s: %w (got %v)", m.MarketID, ErrNonPositiveSpotPrice, spotPriceUSD)
	}
	usd, err := USDPerBase(m, direction)
	if err != nil {
		return 0, err
	}
	return usd / spotPriceUSD, nil
}
