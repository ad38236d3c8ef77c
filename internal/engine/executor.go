package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"greenfloor/config"
	"greenfloor/gateway"
	"greenfloor/infrastructure/logger"
	"greenfloor/metrics"
	"greenfloor/order"
	"greenfloor/strategy"
)

// 单位换算：CAT 1 单位 = 1000 mojos，XCH 1 单位 = 1e12 mojos。
const (
	catMojosPerUnit = 1_000
	xchMojosPerUnit = 1_000_000_000_000
)

// Wallet 是执行层依赖的钱包接口，gateway.SageClient 实现了它。
type Wallet interface {
	MakeOffer(ctx context.Context, req gateway.MakeOfferRequest) (*gateway.MakeOfferResponse, error)
	CancelOffer(ctx context.Context, offerID string, feeMojos int64) error
}

// Executor 将策略动作转换为钱包报价并登记到 Book。
type Executor struct {
	wallet   Wallet
	book     *order.Book
	logger   *logger.Logger
	feeMojos int64
	dryRun   bool
	now      func() time.Time
}

type ExecutorConfig struct {
	FeeMojos int64
	// DryRun 只记录日志与本地 Book，不调用钱包
	DryRun bool
}

func NewExecutor(wallet Wallet, book *order.Book, log *logger.Logger, cfg ExecutorConfig) (*Executor, error) {
	if book == nil {
		return nil, fmt.Errorf("offer book is required")
	}
	if wallet == nil && !cfg.DryRun {
		return nil, fmt.Errorf("wallet is required unless dry run")
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Executor{
		wallet:   wallet,
		book:     book,
		logger:   log,
		feeMojos: cfg.FeeMojos,
		dryRun:   cfg.DryRun,
		now:      time.Now,
	}, nil
}

// Execute posts Repeat offers for every action at quotePrice (quote units per
// base unit). It stops at the first wallet error and returns how many offers
// were posted before it.
func (e *Executor) Execute(ctx context.Context, m config.MarketConfig, actions []strategy.PlannedAction, quotePrice float64) (int, error) {
	if quotePrice <= 0 || math.IsNaN(quotePrice) || math.IsInf(quotePrice, 0) {
		return 0, fmt.Errorf("market %s: invalid quote price %v", m.MarketID, quotePrice)
	}
	posted := 0
	for _, a := range actions {
		req, err := e.buildRequest(m, a, quotePrice)
		if err != nil {
			return posted, err
		}
		for i := 0; i < a.Repeat; i++ {
			if err := ctx.Err(); err != nil {
				return posted, err
			}
			id, err := e.post(ctx, req)
			if err != nil {
				return posted, fmt.Errorf("market %s %s size %d: %w", m.MarketID, a.Direction, a.Size, err)
			}
			now := e.now()
			e.book.Record(order.Offer{
				ID:                id,
				MarketID:          m.MarketID,
				Direction:         a.Direction,
				Pair:              a.Pair,
				Size:              a.Size,
				QuotePrice:        quotePrice,
				CreatedAt:         now,
				ExpiresAt:         now.Add(time.Duration(req.ExpirationSeconds) * time.Second),
				Status:            order.StatusOpen,
				CancelAfterCreate: a.CancelAfterCreate,
			})
			metrics.IncrementPosted(m.MarketID, string(a.Direction))
			e.logger.LogOffer("offer_posted", id, map[string]interface{}{
				"market_id":   m.MarketID,
				"direction":   string(a.Direction),
				"size":        a.Size,
				"quote_price": quotePrice,
				"dry_run":     e.dryRun,
			})
			posted++
		}
	}
	return posted, nil
}

func (e *Executor) post(ctx context.Context, req gateway.MakeOfferRequest) (string, error) {
	if e.dryRun {
		return "dry-" + uuid.NewString(), nil
	}
	resp, err := e.wallet.MakeOffer(ctx, req)
	if err != nil {
		return "", err
	}
	if resp.OfferID != "" {
		return resp.OfferID, nil
	}
	return uuid.NewString(), nil
}

// Rotate cancels live offers older than maxAge that are flagged
// CancelAfterCreate. Cancel failures are logged and the offer is kept.
func (e *Executor) Rotate(ctx context.Context, marketID string, dir strategy.Direction, maxAge time.Duration) int {
	cancelled := 0
	for _, o := range e.book.Stale(marketID, dir, e.now(), maxAge) {
		if ctx.Err() != nil {
			break
		}
		if !e.dryRun {
			if err := e.wallet.CancelOffer(ctx, o.ID, e.feeMojos); err != nil {
				e.logger.LogError(err, map[string]interface{}{"market_id": marketID, "offer_id": o.ID, "op": "cancel_offer"})
				continue
			}
		}
		if err := e.book.UpdateStatus(o.ID, order.StatusCancelled); err != nil {
			e.logger.LogError(err, map[string]interface{}{"market_id": marketID, "offer_id": o.ID, "op": "mark_cancelled"})
			continue
		}
		metrics.IncrementCancelled(marketID, string(dir))
		e.logger.LogOffer("offer_rotated", o.ID, map[string]interface{}{
			"market_id": marketID,
			"direction": string(dir),
			"size":      o.Size,
		})
		cancelled++
	}
	return cancelled
}

// buildRequest 根据方向决定 offered/requested：sell 提供 base 请求 quote，buy 相反。
func (e *Executor) buildRequest(m config.MarketConfig, a strategy.PlannedAction, quotePrice float64) (gateway.MakeOfferRequest, error) {
	baseMojos := int64(a.Size) * catMojosPerUnit
	quoteMojos := int64(math.Round(float64(a.Size) * quotePrice * float64(quoteMojosPerUnit(a.Pair))))
	if baseMojos <= 0 || quoteMojos <= 0 {
		return gateway.MakeOfferRequest{}, fmt.Errorf("market %s size %d: non-positive offer amount", m.MarketID, a.Size)
	}
	quoteID, err := quoteAssetID(m, a.Pair)
	if err != nil {
		return gateway.MakeOfferRequest{}, err
	}
	baseID := m.BaseAsset
	base := gateway.AssetAmount{AssetID: &baseID, Amount: gateway.Amount{Mojos: baseMojos}}
	quote := gateway.AssetAmount{AssetID: quoteID, Amount: gateway.Amount{Mojos: quoteMojos}}

	req := gateway.MakeOfferRequest{
		Fee:               gateway.Amount{Mojos: e.feeMojos},
		ReceiveAddress:    m.ReceiveAddress,
		ExpirationSeconds: expirySeconds(a.ExpiryUnit, a.ExpiryValue),
	}
	if a.Direction == strategy.DirectionBuy {
		req.OfferedAssets = []gateway.AssetAmount{quote}
		req.RequestedAssets = []gateway.AssetAmount{base}
	} else {
		req.OfferedAssets = []gateway.AssetAmount{base}
		req.RequestedAssets = []gateway.AssetAmount{quote}
	}
	return req, nil
}

func quoteMojosPerUnit(pair string) int64 {
	if pair == strategy.PairXCH {
		return xchMojosPerUnit
	}
	return catMojosPerUnit
}

// quoteAssetID 为 xch 返回 nil（Sage 约定）；其余 quote 资产必须能解析为 64 位十六进制 asset id。
func quoteAssetID(m config.MarketConfig, pair string) (*string, error) {
	if pair == strategy.PairXCH {
		return nil, nil
	}
	id, ok := m.ResolveQuoteAssetID()
	if !ok || id == "" {
		return nil, fmt.Errorf("market %s: quote asset %q has no asset id", m.MarketID, m.QuoteAsset)
	}
	return &id, nil
}

func expirySeconds(unit strategy.ExpiryUnit, value int) int64 {
	switch unit {
	case strategy.ExpiryHours:
		return int64(value) * 3600
	case strategy.ExpiryMinutes:
		return int64(value) * 60
	default:
		return int64(value)
	}
}
