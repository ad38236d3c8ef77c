package strategy

import "fmt"

// Direction 标识双边市场中的一条腿。
// sell: 提供 base 资产、请求 quote；buy: 提供 quote、请求 base。
type Direction string

const (
	DirectionSell Direction = "sell"
	DirectionBuy  Direction = "buy"
)

// ParseDirection accepts "sell" or "buy" and rejects anything else.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionSell, DirectionBuy:
		return Direction(s), nil
	default:
		return "", fmt.Errorf("unknown direction %q", s)
	}
}

func (d Direction) String() string { return string(d) }

// Reason 记录动作产生的原因，目前只有 below_target。
type Reason string

const ReasonBelowTarget Reason = "below_target"

// ExpiryUnit 报价过期时间单位。
type ExpiryUnit string

const (
	ExpirySeconds ExpiryUnit = "seconds"
	ExpiryMinutes ExpiryUnit = "minutes"
	ExpiryHours   ExpiryUnit = "hours"
)

// Legacy fixed bucket sizes.
const (
	SizeOnes     = 1
	SizeTens     = 10
	SizeHundreds = 100
)

// PairXCH is the native-asset pair; only it is gated on spot price.
const PairXCH = "xch"

// MarketState 是一次评估周期的挂单占用快照，构造后不再修改。
type MarketState struct {
	Ones     int
	Tens     int
	Hundreds int
	// XCHPriceUSD 为 nil 表示价格未知。
	XCHPriceUSD *float64
	// BucketsBySize 覆盖任意梯度尺寸（例如 size=5）。
	BucketsBySize map[int]int
}

// LegacyTargets holds the fixed 1/10/100 ladder targets.
type LegacyTargets struct {
	Ones     int
	Tens     int
	Hundreds int
}

// Config 是评估器的输入配置，每个周期、每个方向重新构建。
type Config struct {
	Pair   string
	Legacy LegacyTargets
	// TargetsBySize 非空时优先于 Legacy。
	TargetsBySize  map[int]int
	SpreadBps      *int
	MinXCHPriceUSD *float64
	MaxXCHPriceUSD *float64
}

// PlannedAction 描述需要新建的一组同尺寸报价。
type PlannedAction struct {
	Size              int
	Repeat            int
	Pair              string
	ExpiryUnit        ExpiryUnit
	ExpiryValue       int
	CancelAfterCreate bool
	Reason            Reason
	SpreadBps         *int
	Direction         Direction
}

// TotalRepeat sums Repeat over actions.
func TotalRepeat(actions []PlannedAction) int {
	total := 0
	for _, a := range actions {
		total += a.Repeat
	}
	return total
}
