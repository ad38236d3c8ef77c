package config

import (
	"encoding/hex"
	"strconv"
	"strings"
)

// Market modes.
const (
	ModeSellOnly = "sell_only"
	ModeBuyOnly  = "buy_only"
	ModeTwoSided = "two_sided"
)

// Pricing block keys.
const (
	PricingTargetSpreadBps = "strategy_target_spread_bps"
	PricingMinXCHPriceUSD  = "strategy_min_xch_price_usd"
	PricingMaxXCHPriceUSD  = "strategy_max_xch_price_usd"
	PricingSellUSDPerBase  = "sell_usd_per_base"
	PricingBuyUSDPerBase   = "buy_usd_per_base"
)

type MarketsConfig struct {
	Markets []MarketConfig `yaml:"markets"`
}

// MarketConfig 描述一个 CAT 市场：交易对、梯度与定价。
type MarketConfig struct {
	MarketID       string                   `yaml:"market_id"`
	Enabled        bool                     `yaml:"enabled"`
	BaseAsset      string                   `yaml:"base_asset"`
	BaseSymbol     string                   `yaml:"base_symbol"`
	QuoteAsset     string                   `yaml:"quote_asset"`
	QuoteAssetID   string                   `yaml:"quote_asset_id"`
	QuoteAssetType string                   `yaml:"quote_asset_type"`
	ReceiveAddress string                   `yaml:"receive_address"`
	Mode           string                   `yaml:"mode"`
	SignerKeyID    string                   `yaml:"signer_key_id"`
	Inventory      InventoryConfig          `yaml:"inventory"`
	Pricing        map[string]any           `yaml:"pricing"`
	Ladders        map[string][]LadderEntry `yaml:"ladders"`
	// Ladder 是旧版单边、无方向的梯度。
	Ladder []LadderEntry `yaml:"ladder"`
}

type InventoryConfig struct {
	LowWatermarkBaseUnits int `yaml:"low_watermark_base_units"`
}

type LadderEntry struct {
	SizeBaseUnits           int     `yaml:"size_base_units"`
	TargetCount             int     `yaml:"target_count"`
	SplitBufferCount        int     `yaml:"split_buffer_count"`
	CombineWhenExcessFactor float64 `yaml:"combine_when_excess_factor"`
}

// Enabled returns only the enabled markets, in file order.
func (c MarketsConfig) Enabled() []MarketConfig {
	var out []MarketConfig
	for _, m := range c.Markets {
		if m.Enabled {
			out = append(out, m)
		}
	}
	return out
}

// Merge returns c with overlay applied: same market_id replaces, new ids append.
func (c MarketsConfig) Merge(overlay MarketsConfig) MarketsConfig {
	out := MarketsConfig{Markets: make([]MarketConfig, 0, len(c.Markets)+len(overlay.Markets))}
	idx := make(map[string]int, len(c.Markets))
	for _, m := range c.Markets {
		idx[m.MarketID] = len(out.Markets)
		out.Markets = append(out.Markets, m)
	}
	for _, m := range overlay.Markets {
		if i, ok := idx[m.MarketID]; ok {
			out.Markets[i] = m
			continue
		}
		idx[m.MarketID] = len(out.Markets)
		out.Markets = append(out.Markets, m)
	}
	return out
}

// Directions 返回该市场需要评估的方向，顺序固定为 sell 在前。
func (m MarketConfig) Directions() []string {
	switch m.Mode {
	case ModeBuyOnly:
		return []string{"buy"}
	case ModeTwoSided:
		return []string{"sell", "buy"}
	default:
		return []string{"sell"}
	}
}

// PricingFloat reads a numeric pricing value; YAML may decode it as int or float.
func (m MarketConfig) PricingFloat(key string) (float64, bool) {
	v, ok := m.Pricing[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// PricingInt reads an integer pricing value; floats are truncated.
func (m MarketConfig) PricingInt(key string) (int, bool) {
	f, ok := m.PricingFloat(key)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// IsNativeQuote reports whether the market is quoted in XCH (or testnet txch).
func (m MarketConfig) IsNativeQuote() bool {
	switch strings.ToLower(strings.TrimSpace(m.QuoteAsset)) {
	case "xch", "txch":
		return true
	}
	return false
}

// ResolveQuoteAssetID 返回钱包使用的 quote asset id：XCH 为空串；
// 别名（如 wUSDC.b）必须配置 quote_asset_id，否则 quote_asset 本身须是 64 位十六进制 id。
func (m MarketConfig) ResolveQuoteAssetID() (string, bool) {
	if m.IsNativeQuote() {
		return "", true
	}
	for _, candidate := range []string{m.QuoteAssetID, m.QuoteAsset} {
		id := strings.ToLower(strings.TrimSpace(candidate))
		if isAssetID(id) {
			return id, true
		}
	}
	return "", false
}

func isAssetID(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
