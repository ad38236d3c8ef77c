package strategy

import (
	"math"
	"sort"
	"strings"
	"time"
)

type expiry struct {
	unit  ExpiryUnit
	value int
}

var pairExpiry = map[string]expiry{
	PairXCH: {unit: ExpiryMinutes, value: 10},
	"usdc":  {unit: ExpiryMinutes, value: 10},
}

// ResolveExpiry 按交易对查表；未知交易对沿用 xch 的配置。
func ResolveExpiry(pair string) (ExpiryUnit, int) {
	e, ok := pairExpiry[strings.ToLower(pair)]
	if !ok {
		e = pairExpiry[PairXCH]
	}
	return e.unit, e.value
}

type sizeTarget struct {
	size    int
	current int
	target  int
}

// Evaluate compares bucket occupancy with the configured ladder and returns the
// offers that need to be created, ordered by ascending size. clock is reserved
// for time-of-day rules and currently unused.
//
// For the xch pair nothing is returned when the spot price is unknown,
// non-positive or outside [MinXCHPriceUSD, MaxXCHPriceUSD].
func Evaluate(state MarketState, cfg Config, clock time.Time, direction Direction) []PlannedAction {
	_ = clock
	pair := strings.ToLower(cfg.Pair)
	if pair == PairXCH && !priceInBand(state.XCHPriceUSD, cfg) {
		return nil
	}
	unit, value := ResolveExpiry(pair)

	var actions []PlannedAction
	for _, st := range ladder(state, cfg) {
		if st.current >= st.target {
			continue
		}
		actions = append(actions, PlannedAction{
			Size:              st.size,
			Repeat:            st.target - st.current,
			Pair:              pair,
			ExpiryUnit:        unit,
			ExpiryValue:       value,
			CancelAfterCreate: true,
			Reason:            ReasonBelowTarget,
			SpreadBps:         cfg.SpreadBps,
			Direction:         direction,
		})
	}
	return actions
}

// Gated reports whether Evaluate would skip the whole ladder on price grounds.
func Gated(state MarketState, cfg Config) bool {
	return strings.ToLower(cfg.Pair) == PairXCH && !priceInBand(state.XCHPriceUSD, cfg)
}

func priceInBand(price *float64, cfg Config) bool {
	if price == nil || !(*price > 0) || math.IsInf(*price, 1) {
		return false
	}
	if cfg.MinXCHPriceUSD != nil && *price < *cfg.MinXCHPriceUSD {
		return false
	}
	if cfg.MaxXCHPriceUSD != nil && *price > *cfg.MaxXCHPriceUSD {
		return false
	}
	return true
}

// ladder 将配置展开为有序的 (size, current, target) 列表；generic 模式优先。
func ladder(state MarketState, cfg Config) []sizeTarget {
	if len(cfg.TargetsBySize) > 0 {
		sizes := make([]int, 0, len(cfg.TargetsBySize))
		for size := range cfg.TargetsBySize {
			sizes = append(sizes, size)
		}
		sort.Ints(sizes)
		out := make([]sizeTarget, 0, len(sizes))
		for _, size := range sizes {
			out = append(out, sizeTarget{
				size:    size,
				current: state.BucketsBySize[size],
				target:  cfg.TargetsBySize[size],
			})
		}
		return out
	}
	return []sizeTarget{
		{size: SizeOnes, current: state.Ones, target: cfg.Legacy.Ones},
		{size: SizeTens, current: state.Tens, target: cfg.Legacy.Tens},
		{size: SizeHundreds, current: state.Hundreds, target: cfg.Legacy.Hundreds},
	}
}
