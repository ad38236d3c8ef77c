package order

import (
	"errors"
	"sort"
	"sync"
	"time"

	"greenfloor/strategy"
)

var ErrUnknownOffer = errors.New("unknown offer")

// Book 记录本地已发布的报价，按市场/方向/尺寸统计占用，供策略评估使用。
type Book struct {
	mu     sync.RWMutex
	offers map[string]Offer
}

func NewBook() *Book {
	return &Book{offers: make(map[string]Offer)}
}

// Record 登记一个新发布的报价。
func (b *Book) Record(o Offer) {
	if o.Status == "" {
		o.Status = StatusOpen
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.offers[o.ID] = o
}

func (b *Book) Get(id string) (Offer, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.offers[id]
	return o, ok
}

// List 返回全部报价（拷贝），按创建时间排序。
func (b *Book) List() []Offer {
	b.mu.RLock()
	defer b.mu.RUnlock()
	res := make([]Offer, 0, len(b.offers))
	for _, o := range b.offers {
		res = append(res, o)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res
}

// UpdateStatus 收到撤单/成交结果后更新状态。
func (b *Book) UpdateStatus(id string, st Status) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.offers[id]
	if !ok {
		return ErrUnknownOffer
	}
	if err := ValidateTransition(o.Status, st); err != nil {
		return err
	}
	o.Status = st
	b.offers[id] = o
	return nil
}

// BucketCounts counts live offers per size for one market direction.
func (b *Book) BucketCounts(marketID string, dir strategy.Direction, now time.Time) map[int]int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	counts := make(map[int]int)
	for _, o := range b.offers {
		if o.MarketID == marketID && o.Direction == dir && o.Live(now) {
			counts[o.Size]++
		}
	}
	return counts
}

// Stale returns live offers created at least maxAge ago, oldest first.
// maxAge <= 0 disables rotation.
func (b *Book) Stale(marketID string, dir strategy.Direction, now time.Time, maxAge time.Duration) []Offer {
	if maxAge <= 0 {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	var res []Offer
	for _, o := range b.offers {
		if o.MarketID != marketID || o.Direction != dir || !o.Live(now) || !o.CancelAfterCreate {
			continue
		}
		if now.Sub(o.CreatedAt) >= maxAge {
			res = append(res, o)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res
}

// Prune 删除已过期或已结束的报价，返回删除数量。
func (b *Book) Prune(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for id, o := range b.offers {
		if !o.Live(now) {
			delete(b.offers, id)
			n++
		}
	}
	return n
}

func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.offers)
}
