package order

import (
	"time"

	"greenfloor/strategy"
)

// Status represents offer lifecycle.
type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusCancelled Status = "CANCELLED"
	StatusTaken     Status = "TAKEN"
	// StatusExpired 钱包确认报价已过期
	StatusExpired Status = "EXPIRED"
)

// Offer holds a posted offer as tracked locally.
type Offer struct {
	ID         string             `json:"id"`
	MarketID   string             `json:"market_id"`
	Direction  strategy.Direction `json:"direction"`
	Pair       string             `json:"pair"`
	Size       int                `json:"size"`        // base units
	QuotePrice float64            `json:"quote_price"` // quote units per base unit
	CreatedAt  time.Time          `json:"created_at"`
	ExpiresAt  time.Time          `json:"expires_at"` // zero means no expiry
	Status     Status             `json:"status"`
	// CancelAfterCreate 为 true 时，该报价被新报价替代后应撤销。
	CancelAfterCreate bool `json:"cancel_after_create"`
}

// Live reports whether the offer still occupies its bucket at now.
func (o Offer) Live(now time.Time) bool {
	if o.Status != StatusOpen {
		return false
	}
	return o.ExpiresAt.IsZero() || o.ExpiresAt.After(now)
}
