package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"greenfloor/config"
	"greenfloor/gateway"
	"greenfloor/market"
	"greenfloor/metrics"
	"greenfloor/order"
	"greenfloor/strategy"
)

// OfferLister 返回钱包侧的报价记录，gateway.SageClient 实现了它。
type OfferLister interface {
	GetOffers(ctx context.Context) ([]gateway.OfferRecord, error)
}

// ReconcileResult 一次对账的变化数量。
type ReconcileResult struct {
	Taken     int `json:"taken"`
	Cancelled int `json:"cancelled"`
	Expired   int `json:"expired"`
	Adopted   int `json:"adopted"`
}

func (r ReconcileResult) changed() bool {
	return r.Taken+r.Cancelled+r.Expired+r.Adopted > 0
}

// Reconcile syncs the offer book with the wallet: offers the wallet reports as
// completed, cancelled or expired leave OPEN, and live wallet offers unknown to
// the book are adopted when they match an enabled market. Without a wallet
// (dry run) it is a no-op.
func (l *MarketLoop) Reconcile(ctx context.Context) (ReconcileResult, error) {
	l.cycleMu.Lock()
	defer l.cycleMu.Unlock()
	return l.reconcile(ctx)
}

func (l *MarketLoop) reconcile(ctx context.Context) (ReconcileResult, error) {
	var res ReconcileResult
	if l.offers == nil {
		return res, nil
	}
	records, err := l.offers.GetOffers(ctx)
	if err != nil {
		return res, fmt.Errorf("list wallet offers: %w", err)
	}
	byID := make(map[string]gateway.OfferRecord, len(records))
	for _, r := range records {
		byID[r.OfferID] = r
	}

	for _, o := range l.book.List() {
		if order.IsFinal(o.Status) {
			continue
		}
		rec, ok := byID[o.ID]
		if !ok {
			continue
		}
		st, ok := bookStatus(rec.Status)
		if !ok {
			continue
		}
		if err := l.book.UpdateStatus(o.ID, st); err != nil {
			l.logger.LogError(err, map[string]interface{}{"market_id": o.MarketID, "offer_id": o.ID, "op": "reconcile"})
			continue
		}
		switch st {
		case order.StatusTaken:
			res.Taken++
		case order.StatusCancelled:
			res.Cancelled++
		case order.StatusExpired:
			res.Expired++
		}
		metrics.IncrementReconciled(o.MarketID, strings.ToLower(string(st)))
		l.logger.LogOffer("offer_"+strings.ToLower(string(st)), o.ID, map[string]interface{}{
			"market_id": o.MarketID,
			"direction": string(o.Direction),
			"size":      o.Size,
		})
	}

	markets := l.markets().Enabled()
	now := l.now()
	for _, rec := range records {
		if rec.Status != gateway.OfferStatusActive && rec.Status != gateway.OfferStatusPending {
			continue
		}
		if _, known := l.book.Get(rec.OfferID); known {
			continue
		}
		o, ok := adoptOffer(rec, markets, now)
		if !ok || !o.Live(now) {
			continue
		}
		l.book.Record(o)
		res.Adopted++
		metrics.IncrementReconciled(o.MarketID, "adopted")
		l.logger.LogOffer("offer_adopted", o.ID, map[string]interface{}{
			"market_id": o.MarketID,
			"direction": string(o.Direction),
			"size":      o.Size,
		})
	}
	return res, nil
}

// bookStatus 将钱包状态映射为本地终态；active/pending 返回 false。
func bookStatus(walletStatus string) (order.Status, bool) {
	switch strings.ToLower(walletStatus) {
	case gateway.OfferStatusCompleted:
		return order.StatusTaken, true
	case gateway.OfferStatusCancelled:
		return order.StatusCancelled, true
	case gateway.OfferStatusExpired:
		return order.StatusExpired, true
	default:
		return "", false
	}
}

// adoptOffer 按资产匹配市场：maker 为 base、taker 为 quote 是 sell，反之为 buy。
// base 数量必须是整数个 CAT 单位。
func adoptOffer(rec gateway.OfferRecord, markets []config.MarketConfig, now time.Time) (order.Offer, bool) {
	for _, m := range markets {
		quoteKey := "xch"
		if !m.IsNativeQuote() {
			id, ok := m.ResolveQuoteAssetID()
			if !ok {
				continue
			}
			quoteKey = id
		}
		baseKey := assetKey(m.BaseAsset)

		var dir strategy.Direction
		var baseMojos, quoteMojos int64
		if b, ok := soleAsset(rec.Summary.Maker, baseKey); ok {
			q, ok := soleAsset(rec.Summary.Taker, quoteKey)
			if !ok {
				continue
			}
			dir, baseMojos, quoteMojos = strategy.DirectionSell, b, q
		} else if q, ok := soleAsset(rec.Summary.Maker, quoteKey); ok {
			b, ok := soleAsset(rec.Summary.Taker, baseKey)
			if !ok {
				continue
			}
			dir, baseMojos, quoteMojos = strategy.DirectionBuy, b, q
		} else {
			continue
		}
		if baseMojos <= 0 || baseMojos%catMojosPerUnit != 0 || quoteMojos <= 0 {
			continue
		}

		pair := market.NormalizePair(m.QuoteAsset)
		size := int(baseMojos / catMojosPerUnit)
		o := order.Offer{
			ID:                rec.OfferID,
			MarketID:          m.MarketID,
			Direction:         dir,
			Pair:              pair,
			Size:              size,
			QuotePrice:        float64(quoteMojos) / float64(quoteMojosPerUnit(pair)) / float64(size),
			CreatedAt:         now,
			Status:            order.StatusOpen,
			CancelAfterCreate: true,
		}
		if rec.CreationTimestamp > 0 {
			o.CreatedAt = time.Unix(rec.CreationTimestamp, 0)
		}
		if exp := rec.Summary.ExpirationTimestamp; exp != nil && *exp > 0 {
			o.ExpiresAt = time.Unix(*exp, 0)
		}
		return o, true
	}
	return order.Offer{}, false
}

// soleAsset returns the amount when assets holds exactly one entry and it is key.
func soleAsset(assets map[string]gateway.OfferAsset, key string) (int64, bool) {
	if len(assets) != 1 {
		return 0, false
	}
	for k, a := range assets {
		if assetKey(k) != key {
			return 0, false
		}
		return a.Mojos(), true
	}
	return 0, false
}

func assetKey(id string) string {
	k := strings.ToLower(strings.TrimSpace(id))
	if k == "" || k == "txch" {
		return "xch"
	}
	return k
}
