package market_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greenfloor/config"
	"greenfloor/market"
	"greenfloor/strategy"
)

func entry(size, target int) config.LadderEntry {
	return config.LadderEntry{SizeBaseUnits: size, TargetCount: target, CombineWhenExcessFactor: 2.0}
}

func sellOnlyMarket(quote string) config.MarketConfig {
	return config.MarketConfig{
		MarketID:   "m1",
		Enabled:    true,
		BaseAsset:  "asset",
		BaseSymbol: "BYC",
		QuoteAsset: quote,
		Mode:       config.ModeSellOnly,
		Ladders: map[string][]config.LadderEntry{
			"sell": {entry(1, 7), entry(10, 3), entry(100, 2)},
		},
	}
}

func twoSidedMarket() config.MarketConfig {
	return config.MarketConfig{
		MarketID:   "m_two",
		Enabled:    true,
		BaseSymbol: "BYC",
		QuoteAsset: "xch",
		Mode:       config.ModeTwoSided,
		Pricing: map[string]any{
			config.PricingSellUSDPerBase: 1.02,
			config.PricingBuyUSDPerBase:  0.98,
		},
		Ladders: map[string][]config.LadderEntry{
			"sell": {entry(1, 3), entry(5, 2)},
			"buy":  {entry(1, 4), entry(5, 2)},
		},
	}
}

func TestNormalizePair(t *testing.T) {
	assert.Equal(t, "xch", market.NormalizePair("xch"))
	assert.Equal(t, "xch", market.NormalizePair(" TXCH "))
	assert.Equal(t, "usdc", market.NormalizePair("wUSDC.b"))
	assert.Equal(t, "usdc", market.NormalizePair("USDC"))
	assert.Equal(t, "usdc", market.NormalizePair("wusdc.e"))
	assert.Equal(t, "byc", market.NormalizePair("BYC"))
}

func TestConfigFromMarket_SellLadder(t *testing.T) {
	cfg, diags, err := market.ConfigFromMarket(sellOnlyMarket("xch"), strategy.DirectionSell)
	require.NoError(t, err)
	assert.Empty(t, diags)
	assert.Equal(t, "xch", cfg.Pair)
	assert.Equal(t, map[int]int{1: 7, 10: 3, 100: 2}, cfg.TargetsBySize)
	assert.Equal(t, strategy.LegacyTargets{Ones: 7, Tens: 3, Hundreds: 2}, cfg.Legacy)
	assert.Nil(t, cfg.SpreadBps)
	assert.Nil(t, cfg.MinXCHPriceUSD)
	assert.Nil(t, cfg.MaxXCHPriceUSD)
}

func TestConfigFromMarket_PricingBandsAndSpread(t *testing.T) {
	m := sellOnlyMarket("xch")
	m.Pricing = map[string]any{
		config.PricingTargetSpreadBps: 140,
		config.PricingMinXCHPriceUSD:  26.5,
		config.PricingMaxXCHPriceUSD:  39.0,
	}
	cfg, _, err := market.ConfigFromMarket(m, strategy.DirectionSell)
	require.NoError(t, err)
	require.NotNil(t, cfg.SpreadBps)
	require.NotNil(t, cfg.MinXCHPriceUSD)
	require.NotNil(t, cfg.MaxXCHPriceUSD)
	assert.Equal(t, 140, *cfg.SpreadBps)
	assert.Equal(t, 26.5, *cfg.MinXCHPriceUSD)
	assert.Equal(t, 39.0, *cfg.MaxXCHPriceUSD)
}

func TestConfigFromMarket_TwoSidedPerDirection(t *testing.T) {
	m := twoSidedMarket()
	sell, _, err := market.ConfigFromMarket(m, strategy.DirectionSell)
	require.NoError(t, err)
	buy, _, err := market.ConfigFromMarket(m, strategy.DirectionBuy)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{1: 3, 5: 2}, sell.TargetsBySize)
	assert.Equal(t, map[int]int{1: 4, 5: 2}, buy.TargetsBySize)
}

func TestConfigFromMarket_MissingDirectionIsReported(t *testing.T) {
	_, _, err := market.ConfigFromMarket(sellOnlyMarket("xch"), strategy.DirectionBuy)
	require.Error(t, err)
	assert.True(t, errors.Is(err, market.ErrDirectionNotConfigured))

	m := sellOnlyMarket("xch")
	m.Ladders = nil
	_, _, err = market.ConfigFromMarket(m, strategy.DirectionSell)
	assert.ErrorIs(t, err, market.ErrDirectionNotConfigured)
}

func TestConfigFromMarket_EmptyLadderIsNotAnError(t *testing.T) {
	m := twoSidedMarket()
	m.Ladders["buy"] = []config.LadderEntry{}
	cfg, diags, err := market.ConfigFromMarket(m, strategy.DirectionBuy)
	require.NoError(t, err)
	require.Len(t, diags, 1)
	assert.Equal(t, market.DiagEmptyLadder, diags[0].Kind)

	price := 30.0
	actions := strategy.Evaluate(market.StateFromBucketCounts(nil, &price), cfg, time.Now(), strategy.DirectionBuy)
	assert.Empty(t, actions)
}

func TestConfigFromMarket_DropsNonPositiveSizes(t *testing.T) {
	m := twoSidedMarket()
	m.Ladders["sell"] = []config.LadderEntry{entry(0, 3), entry(-5, 1), entry(5, 2)}
	cfg, diags, err := market.ConfigFromMarket(m, strategy.DirectionSell)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{5: 2}, cfg.TargetsBySize)
	require.Len(t, diags, 2)
	for _, d := range diags {
		assert.Equal(t, market.DiagInvalidSize, d.Kind)
		assert.Equal(t, "m_two", d.MarketID)
	}
}

func TestConfigFromMarket_FlatLadder(t *testing.T) {
	m := config.MarketConfig{
		MarketID:   "flat",
		QuoteAsset: "wUSDC.b",
		Ladder:     []config.LadderEntry{entry(100, 1), entry(1, 5)},
	}
	cfg, _, err := market.ConfigFromMarket(m, strategy.DirectionSell)
	require.NoError(t, err)
	assert.Equal(t, "usdc", cfg.Pair)
	assert.Empty(t, cfg.TargetsBySize)
	assert.Equal(t, strategy.LegacyTargets{Ones: 5, Tens: 0, Hundreds: 1}, cfg.Legacy)

	m.Ladder = []config.LadderEntry{entry(2, 6), entry(20, 3), entry(200, 1), entry(2000, 9)}
	cfg, _, err = market.ConfigFromMarket(m, strategy.DirectionSell)
	require.NoError(t, err)
	assert.Equal(t, strategy.LegacyTargets{Ones: 6, Tens: 3, Hundreds: 1}, cfg.Legacy)

	_, _, err = market.ConfigFromMarket(m, strategy.DirectionBuy)
	assert.ErrorIs(t, err, market.ErrDirectionNotConfigured)
}

func TestStateFromBucketCounts(t *testing.T) {
	price := 32.5
	counts := map[int]int{1: 2, 10: 1, 100: 0, 5: 4}
	state := market.StateFromBucketCounts(counts, &price)
	assert.Equal(t, 2, state.Ones)
	assert.Equal(t, 1, state.Tens)
	assert.Equal(t, 0, state.Hundreds)
	require.NotNil(t, state.XCHPriceUSD)
	assert.Equal(t, 32.5, *state.XCHPriceUSD)
	assert.Equal(t, counts, state.BucketsBySize)

	counts[1] = 99
	price = 1
	assert.Equal(t, 2, state.BucketsBySize[1], "snapshot must not alias caller map")
	assert.Equal(t, 32.5, *state.XCHPriceUSD)

	empty := market.StateFromBucketCounts(nil, nil)
	assert.Nil(t, empty.XCHPriceUSD)
	assert.Zero(t, empty.Ones)
}

func TestTwoSidedEvaluation(t *testing.T) {
	m := twoSidedMarket()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	price := 30.0

	sellCfg, _, err := market.ConfigFromMarket(m, strategy.DirectionSell)
	require.NoError(t, err)
	sell := strategy.Evaluate(market.StateFromBucketCounts(map[int]int{}, &price), sellCfg, clock, strategy.DirectionSell)
	for _, a := range sell {
		assert.Equal(t, strategy.DirectionSell, a.Direction)
	}
	assert.Equal(t, 5, strategy.TotalRepeat(sell))

	buyCfg, _, err := market.ConfigFromMarket(m, strategy.DirectionBuy)
	require.NoError(t, err)
	buy := strategy.Evaluate(market.StateFromBucketCounts(map[int]int{}, &price), buyCfg, clock, strategy.DirectionBuy)
	for _, a := range buy {
		assert.Equal(t, strategy.DirectionBuy, a.Direction)
	}
	assert.Equal(t, 6, strategy.TotalRepeat(buy))

	partial := strategy.Evaluate(market.StateFromBucketCounts(map[int]int{1: 2}, &price), buyCfg, clock, strategy.DirectionBuy)
	var size1 []strategy.PlannedAction
	for _, a := range partial {
		if a.Size == 1 {
			size1 = append(size1, a)
		}
	}
	require.Len(t, size1, 1)
	assert.Equal(t, 2, size1[0].Repeat)
}

func TestResolveQuotePrice(t *testing.T) {
	m := twoSidedMarket()
	sell, err := market.ResolveQuotePrice(m, strategy.DirectionSell, 10.0)
	require.NoError(t, err)
	assert.InDelta(t, 0.102, sell, 1e-9)

	buy, err := market.ResolveQuotePrice(m, strategy.DirectionBuy, 10.0)
	require.NoError(t, err)
	assert.InDelta(t, 0.098, buy, 1e-9)

	_, err = market.ResolveQuotePrice(m, strategy.DirectionSell, 0)
	assert.ErrorIs(t, err, market.ErrNonPositiveSpotPrice)
	_, err = market.ResolveQuotePrice(m, strategy.DirectionSell, -3)
	assert.ErrorIs(t, err, market.ErrNonPositiveSpotPrice)

	m.Pricing = nil
	_, err = market.ResolveQuotePrice(m, strategy.DirectionBuy, 10.0)
	assert.ErrorIs(t, err, market.ErrUSDRateNotConfigured)
}
