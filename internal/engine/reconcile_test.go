package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greenfloor/config"
	"greenfloor/gateway"
	"greenfloor/order"
	"greenfloor/strategy"
)

type fakeOffers struct {
	mu      sync.Mutex
	records []gateway.OfferRecord
	err     error
}

func (f *fakeOffers) GetOffers(context.Context) ([]gateway.OfferRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]gateway.OfferRecord, len(f.records))
	copy(out, f.records)
	return out, f.err
}

func (f *fakeOffers) set(records ...gateway.OfferRecord) {
	f.mu.Lock()
	f.records = records
	f.mu.Unlock()
}

func (f *fakeOffers) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func postJSON(t *testing.T, url string, out any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestRunCycleRefillsTakenOffer(t *testing.T) {
	h := newHarness(t, []config.MarketConfig{twoSided()}, nil, nil)
	lister := &fakeOffers{}
	h.loop.offers = lister

	res := h.loop.RunCycle(context.Background())
	require.Equal(t, 11, res.Posted)
	o, ok := h.book.Get("o-1")
	require.True(t, ok)
	require.Equal(t, strategy.DirectionSell, o.Direction)
	require.Equal(t, 1, o.Size)

	// 吃单方成交了一个 size 1 的卖单
	lister.set(
		gateway.OfferRecord{OfferID: "o-1", Status: gateway.OfferStatusCompleted},
		gateway.OfferRecord{OfferID: "o-2", Status: gateway.OfferStatusActive},
	)
	res = h.loop.RunCycle(context.Background())
	assert.Equal(t, "ok", res.Status)
	assert.Equal(t, 1, res.Taken)
	assert.Equal(t, 1, res.Posted)
	assert.Equal(t, map[int]int{1: 3, 5: 2}, h.book.BucketCounts("m_two", "sell", time.Now()))

	// 已成交的报价在周期末被清理
	_, ok = h.book.Get("o-1")
	assert.False(t, ok)

	// 状态未变化时不重复计数
	res = h.loop.RunCycle(context.Background())
	assert.Zero(t, res.Taken)
	assert.Zero(t, res.Posted)
}

func TestReconcileMarksCancelledAndExpired(t *testing.T) {
	h := newHarness(t, []config.MarketConfig{twoSided()}, nil, nil)
	lister := &fakeOffers{}
	h.loop.offers = lister
	now := time.Now()
	h.book.Record(order.Offer{ID: "c", MarketID: "m_two", Direction: strategy.DirectionBuy, Size: 1, CreatedAt: now})
	h.book.Record(order.Offer{ID: "e", MarketID: "m_two", Direction: strategy.DirectionBuy, Size: 5, CreatedAt: now})
	h.book.Record(order.Offer{ID: "p", MarketID: "m_two", Direction: strategy.DirectionBuy, Size: 5, CreatedAt: now})
	lister.set(
		gateway.OfferRecord{OfferID: "c", Status: gateway.OfferStatusCancelled},
		gateway.OfferRecord{OfferID: "e", Status: gateway.OfferStatusExpired},
		gateway.OfferRecord{OfferID: "p", Status: gateway.OfferStatusPending},
	)

	res, err := h.loop.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Cancelled: 1, Expired: 1}, res)

	c, _ := h.book.Get("c")
	assert.Equal(t, order.StatusCancelled, c.Status)
	e, _ := h.book.Get("e")
	assert.Equal(t, order.StatusExpired, e.Status)
	p, _ := h.book.Get("p")
	assert.Equal(t, order.StatusOpen, p.Status)
	assert.Equal(t, map[int]int{5: 1}, h.book.BucketCounts("m_two", "buy", now))
}

func TestRunCycleAdoptsLiveWalletOffers(t *testing.T) {
	h := newHarness(t, []config.MarketConfig{twoSided()}, nil, nil)
	created := time.Now().Add(-time.Minute).Unix()
	expires := time.Now().Add(9 * time.Minute).Unix()
	h.loop.offers = &fakeOffers{records: []gateway.OfferRecord{
		{
			OfferID:           "w-sell",
			Status:            gateway.OfferStatusActive,
			CreationTimestamp: created,
			Summary: gateway.OfferSummary{
				Maker:               map[string]gateway.OfferAsset{"CAT": {Amount: "1000"}},
				Taker:               map[string]gateway.OfferAsset{"xch": {Amount: "34000000000"}},
				ExpirationTimestamp: &expires,
			},
		},
		{
			OfferID: "w-buy",
			Status:  gateway.OfferStatusActive,
			Summary: gateway.OfferSummary{
				Maker: map[string]gateway.OfferAsset{"xch": {Amount: "163333333333"}},
				Taker: map[string]gateway.OfferAsset{"cat": {Amount: "5000"}},
			},
		},
		{
			// 其他资产的报价不属于任何市场
			OfferID: "w-other",
			Status:  gateway.OfferStatusActive,
			Summary: gateway.OfferSummary{
				Maker: map[string]gateway.OfferAsset{"dbx": {Amount: "1000"}},
				Taker: map[string]gateway.OfferAsset{"xch": {Amount: "1"}},
			},
		},
		{
			// 已结束的钱包报价不接管
			OfferID: "w-done",
			Status:  gateway.OfferStatusCompleted,
			Summary: gateway.OfferSummary{
				Maker: map[string]gateway.OfferAsset{"cat": {Amount: "1000"}},
				Taker: map[string]gateway.OfferAsset{"xch": {Amount: "1"}},
			},
		},
	}}

	res := h.loop.RunCycle(context.Background())
	assert.Equal(t, "ok", res.Status)
	assert.Equal(t, 2, res.Adopted)
	assert.Equal(t, 9, res.Posted)

	sell, ok := h.book.Get("w-sell")
	require.True(t, ok)
	assert.Equal(t, strategy.DirectionSell, sell.Direction)
	assert.Equal(t, 1, sell.Size)
	assert.Equal(t, "xch", sell.Pair)
	assert.InDelta(t, 0.034, sell.QuotePrice, 1e-12)
	assert.Equal(t, created, sell.CreatedAt.Unix())
	assert.Equal(t, expires, sell.ExpiresAt.Unix())
	assert.True(t, sell.CancelAfterCreate)

	buy, ok := h.book.Get("w-buy")
	require.True(t, ok)
	assert.Equal(t, strategy.DirectionBuy, buy.Direction)
	assert.Equal(t, 5, buy.Size)

	_, ok = h.book.Get("w-other")
	assert.False(t, ok)
	_, ok = h.book.Get("w-done")
	assert.False(t, ok)

	assert.Equal(t, map[int]int{1: 3, 5: 2}, h.book.BucketCounts("m_two", "sell", time.Now()))
	assert.Equal(t, map[int]int{1: 4, 5: 2}, h.book.BucketCounts("m_two", "buy", time.Now()))
}

func TestRunCycleStopsWhenReconcileFails(t *testing.T) {
	h := newHarness(t, []config.MarketConfig{twoSided()}, nil, nil)
	h.loop.offers = &fakeOffers{err: errors.New("sage down")}

	res := h.loop.RunCycle(context.Background())
	assert.Equal(t, "error", res.Status)
	assert.Contains(t, res.Error, "sage down")
	assert.Empty(t, h.wallet.requests())
	require.Len(t, h.alerts.Alerts(), 1)
	assert.Equal(t, "wallet:reconcile", h.alerts.Alerts()[0].Key)
}

func TestReconcileWithoutWalletIsNoop(t *testing.T) {
	h := newHarness(t, []config.MarketConfig{twoSided()}, nil, nil)
	res, err := h.loop.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{}, res)
}

func TestAdoptOfferUSDCQuote(t *testing.T) {
	m := config.MarketConfig{MarketID: "m_usdc", BaseAsset: "cat", QuoteAsset: "wUSDC.b", QuoteAssetID: usdcAssetID}
	rec := gateway.OfferRecord{
		OfferID: "u",
		Summary: gateway.OfferSummary{
			Maker: map[string]gateway.OfferAsset{"cat": {Amount: "10000"}},
			Taker: map[string]gateway.OfferAsset{usdcAssetID: {Amount: "10200"}},
		},
	}
	o, ok := adoptOffer(rec, []config.MarketConfig{m}, time.Now())
	require.True(t, ok)
	assert.Equal(t, "usdc", o.Pair)
	assert.Equal(t, 10, o.Size)
	assert.InDelta(t, 1.02, o.QuotePrice, 1e-12)

	// base 数量不是整数个单位时不接管
	rec.Summary.Maker = map[string]gateway.OfferAsset{"cat": {Amount: "1500"}}
	_, ok = adoptOffer(rec, []config.MarketConfig{m}, time.Now())
	assert.False(t, ok)

	// 别名没有 asset id 时无法匹配
	m.QuoteAssetID = ""
	rec.Summary.Maker = map[string]gateway.OfferAsset{"cat": {Amount: "1000"}}
	_, ok = adoptOffer(rec, []config.MarketConfig{m}, time.Now())
	assert.False(t, ok)
}

func TestOffersAndReconcileRoutes(t *testing.T) {
	h := newHarness(t, []config.MarketConfig{twoSided()}, nil, nil)
	lister := &fakeOffers{}
	h.loop.offers = lister
	h.loop.RunCycle(context.Background())
	lister.set(gateway.OfferRecord{OfferID: "o-1", Status: gateway.OfferStatusCompleted})

	mux := http.NewServeMux()
	for p, handler := range Routes(h.loop) {
		mux.Handle(p, handler)
	}
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var offers []order.Offer
	getJSON(t, srv.URL+"/offers", &offers)
	assert.Len(t, offers, 11)

	var res ReconcileResult
	postJSON(t, srv.URL+"/reconcile", &res)
	assert.Equal(t, 1, res.Taken)

	lister.fail(errors.New("sage down"))
	resp, err := http.Post(srv.URL+"/reconcile", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}
