package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"greenfloor/config"
	"greenfloor/gateway"
	"greenfloor/infrastructure/alert"
	"greenfloor/infrastructure/logger"
	"greenfloor/market"
	"greenfloor/metrics"
	"greenfloor/order"
	"greenfloor/strategy"
)

// LoopState 循环状态
type LoopState int

const (
	StateIdle LoopState = iota
	StateRunning
	StateStopped
)

func (s LoopState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// PriceSource 提供 XCH 美元现价。
type PriceSource interface {
	XCHPriceUSD(ctx context.Context) (float64, error)
}

// TickerSource 提供 CAT 行情，用于未配置 usd_per_base 的市场。
type TickerSource interface {
	Tickers(ctx context.Context) ([]gateway.Ticker, error)
}

// WalletGuard 在每个周期开始前确认钱包身份。
type WalletGuard interface {
	CheckFingerprint(ctx context.Context) error
}

// Config 循环配置
type Config struct {
	Interval      time.Duration // 周期间隔
	MaxConcurrent int           // 并发评估的市场数
	OfferMaxAge   time.Duration // 报价轮换年龄，0 不轮换
	StopTimeout   time.Duration
}

// Components 循环依赖组件；Tickers、Guard、Offers、Alerts 可为空。
type Components struct {
	Markets  func() config.MarketsConfig
	Prices   PriceSource
	Tickers  TickerSource
	Guard    WalletGuard
	Offers   OfferLister
	Executor *Executor
	Book     *order.Book
	Alerts   *alert.Manager
	Logger   *logger.Logger
}

// CycleResult 单个周期的汇总。
type CycleResult struct {
	Cycle       int64     `json:"cycle"`
	StartedAt   time.Time `json:"started_at"`
	Duration    string    `json:"duration"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	XCHPriceUSD *float64  `json:"xch_price_usd,omitempty"`
	Markets     int       `json:"markets"`
	Planned     int       `json:"planned_offers"`
	Posted      int       `json:"posted"`
	Cancelled   int       `json:"cancelled"`
	Taken       int       `json:"taken"`
	Adopted     int       `json:"adopted"`
	Gated       int       `json:"gated"`
	Failures    int       `json:"failures"`
}

// Status 对外暴露的运行状态。
type Status struct {
	State           string       `json:"state"`
	Running         bool         `json:"running"`
	WalletConnected bool         `json:"wallet_connected"`
	EnabledMarkets  int          `json:"enabled_markets"`
	CanStart        bool         `json:"can_start"`
	LastCycleAt     *time.Time   `json:"last_cycle_at,omitempty"`
	LastResult      *CycleResult `json:"last_result,omitempty"`
	CycleCount      int64        `json:"cycle_count"`
	ErrorCount      int64        `json:"error_count"`
	OpenOffers      int          `json:"open_offers"`
	RecentEvents    []Event      `json:"recent_events"`
}

// MarketLoop 周期性地为每个启用市场评估梯度并补齐报价。
type MarketLoop struct {
	cfg Config

	markets  func() config.MarketsConfig
	prices   PriceSource
	tickers  TickerSource
	guard    WalletGuard
	offers   OfferLister
	executor *Executor
	book     *order.Book
	alerts   *alert.Manager
	logger   *logger.Logger

	state    LoopState
	mu       sync.RWMutex
	stopChan chan struct{}
	doneChan chan struct{}

	// 周期串行执行，TriggerOnce 与定时周期不重叠
	cycleMu sync.Mutex

	statsMu         sync.RWMutex
	cycleCount      int64
	errorCount      int64
	lastResult      *CycleResult
	walletConnected bool

	events *eventRing
	now    func() time.Time
}

func New(cfg Config, c Components) (*MarketLoop, error) {
	if c.Markets == nil {
		return nil, errors.New("markets source is required")
	}
	if c.Prices == nil {
		return nil, errors.New("price source is required")
	}
	if c.Executor == nil || c.Book == nil {
		return nil, errors.New("executor and offer book are required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	log := c.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &MarketLoop{
		cfg:      cfg,
		markets:  c.Markets,
		prices:   c.Prices,
		tickers:  c.Tickers,
		guard:    c.Guard,
		offers:   c.Offers,
		executor: c.Executor,
		book:     c.Book,
		alerts:   c.Alerts,
		logger:   log,
		state:    StateIdle,
		events:   newEventRing(eventRingSize),
		now:      time.Now,
		// 没有钱包守卫（dry run）时视为已连接
		walletConnected: c.Guard == nil,
	}, nil
}

// Start 启动循环：立即执行一个周期，之后按 Interval 执行。
func (l *MarketLoop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.state == StateRunning {
		l.mu.Unlock()
		return fmt.Errorf("loop already running (state: %s)", l.state)
	}
	stop, done := make(chan struct{}), make(chan struct{})
	l.stopChan, l.doneChan = stop, done
	l.state = StateRunning
	l.mu.Unlock()

	l.logger.Info("Market loop starting",
		zap.Duration("interval", l.cfg.Interval),
		zap.Int("max_concurrent", l.cfg.MaxConcurrent),
		zap.Duration("offer_max_age", l.cfg.OfferMaxAge))
	l.record(Event{Type: "loop_started", Message: "market loop started"})

	go l.run(ctx, stop, done)
	return nil
}

// Stop 停止循环并等待当前周期结束；已停止时直接返回。
// 超时返回错误，状态保持 RUNNING，直到 run 真正退出。
func (l *MarketLoop) Stop() error {
	l.mu.Lock()
	if l.state != StateRunning {
		l.mu.Unlock()
		return nil
	}
	stop, done := l.stopChan, l.doneChan
	select {
	case <-stop:
	default:
		close(stop)
	}
	l.mu.Unlock()

	select {
	case <-done:
	case <-time.After(l.cfg.StopTimeout):
		l.logger.Warn("Timeout waiting for market loop to stop")
		return fmt.Errorf("market loop did not stop within %s", l.cfg.StopTimeout)
	}

	l.record(Event{Type: "loop_stopped", Message: "market loop stopped"})
	l.logger.Info("Market loop stopped")
	return nil
}

func (l *MarketLoop) State() LoopState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

func (l *MarketLoop) run(ctx context.Context, stop <-chan struct{}, done chan struct{}) {
	defer close(done)
	defer func() {
		l.mu.Lock()
		if l.state == StateRunning {
			l.state = StateStopped
		}
		l.mu.Unlock()
	}()

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	l.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Context done, stopping market loop")
			return
		case <-stop:
			return
		case <-ticker.C:
			l.RunCycle(ctx)
		}
	}
}

// TriggerOnce 立即执行一个周期，不要求循环处于运行状态。
func (l *MarketLoop) TriggerOnce(ctx context.Context) CycleResult {
	l.record(Event{Type: "manual_trigger", Message: "cycle triggered manually"})
	return l.RunCycle(ctx)
}

// RunCycle executes one evaluation pass over every enabled market. Errors are
// recorded on the result and never abort the loop.
func (l *MarketLoop) RunCycle(ctx context.Context) CycleResult {
	l.cycleMu.Lock()
	defer l.cycleMu.Unlock()

	start := l.now()
	l.statsMu.Lock()
	l.cycleCount++
	res := CycleResult{Cycle: l.cycleCount, StartedAt: start, Status: "ok"}
	l.statsMu.Unlock()

	l.logger.LogCycle("cycle_started", res.Cycle, nil)
	l.runCycle(ctx, &res)

	elapsed := l.now().Sub(start)
	res.Duration = elapsed.String()
	if res.Error != "" || res.Failures > 0 {
		res.Status = "error"
	}
	metrics.ObserveCycle(res.Status, elapsed)

	l.statsMu.Lock()
	if res.Status != "ok" {
		l.errorCount++
	}
	r := res
	l.lastResult = &r
	l.statsMu.Unlock()

	l.logger.LogCycle("cycle_finished", res.Cycle, map[string]interface{}{
		"status":    res.Status,
		"markets":   res.Markets,
		"planned":   res.Planned,
		"posted":    res.Posted,
		"cancelled": res.Cancelled,
		"taken":     res.Taken,
		"adopted":   res.Adopted,
		"gated":     res.Gated,
		"failures":  res.Failures,
		"duration":  res.Duration,
	})
	l.record(Event{
		Type:    "cycle_finished",
		Message: fmt.Sprintf("cycle %d %s", res.Cycle, res.Status),
		Fields:  map[string]interface{}{"posted": res.Posted, "cancelled": res.Cancelled},
	})
	return res
}

func (l *MarketLoop) runCycle(ctx context.Context, res *CycleResult) {
	if l.guard != nil {
		err := l.guard.CheckFingerprint(ctx)
		l.setWalletConnected(err == nil)
		if err != nil {
			res.Error = err.Error()
			l.logger.LogError(err, map[string]interface{}{"op": "check_fingerprint"})
			l.alert(alert.LevelError, "wallet", "wallet check failed", map[string]interface{}{"error": err.Error()})
			l.record(Event{Type: "wallet_error", Message: err.Error()})
			return
		}
	}

	// 先与钱包对账，已成交的报价不再占用梯度
	rec, err := l.reconcile(ctx)
	if err != nil {
		res.Error = err.Error()
		l.logger.LogError(err, map[string]interface{}{"op": "reconcile"})
		l.alert(alert.LevelError, "wallet:reconcile", "offer reconcile failed", map[string]interface{}{"error": err.Error()})
		l.record(Event{Type: "reconcile_error", Message: err.Error()})
		return
	}
	res.Taken, res.Adopted = rec.Taken, rec.Adopted
	if rec.changed() {
		l.record(Event{
			Type:    "offers_reconciled",
			Message: fmt.Sprintf("taken %d, cancelled %d, expired %d, adopted %d", rec.Taken, rec.Cancelled, rec.Expired, rec.Adopted),
		})
	}

	price := l.fetchPrice(ctx)
	res.XCHPriceUSD = price
	tickers := l.fetchTickers(ctx)

	enabled := l.markets().Enabled()
	res.Markets = len(enabled)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.MaxConcurrent)
	for _, m := range enabled {
		m := m
		g.Go(func() error {
			mr := l.runMarket(gctx, m, price, tickers)
			mu.Lock()
			res.Planned += mr.Planned
			res.Posted += mr.Posted
			res.Cancelled += mr.Cancelled
			res.Gated += mr.Gated
			res.Failures += mr.Failures
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if n := l.book.Prune(l.now()); n > 0 {
		l.logger.Debug("Pruned finished offers", zap.Int("count", n))
	}
}

func (l *MarketLoop) fetchPrice(ctx context.Context) *float64 {
	p, err := l.prices.XCHPriceUSD(ctx)
	if err != nil {
		l.logger.LogError(err, map[string]interface{}{"op": "xch_price"})
		l.alert(alert.LevelWarning, "price_feed", "xch price unavailable", map[string]interface{}{"error": err.Error()})
		l.record(Event{Type: "price_error", Message: err.Error()})
		return nil
	}
	metrics.SetXCHPrice(p)
	return &p
}

func (l *MarketLoop) fetchTickers(ctx context.Context) TickerIndex {
	if l.tickers == nil {
		return nil
	}
	ts, err := l.tickers.Tickers(ctx)
	if err != nil {
		l.logger.Warn("Ticker fetch failed", zap.Error(err))
		return nil
	}
	return NewTickerIndex(ts)
}

type marketResult struct {
	Planned   int
	Posted    int
	Cancelled int
	Gated     int
	Failures  int
}

func (l *MarketLoop) runMarket(ctx context.Context, m config.MarketConfig, price *float64, tickers TickerIndex) marketResult {
	var mr marketResult
	for _, d := range m.Directions() {
		dir := strategy.Direction(d)
		cfg, diags, err := market.ConfigFromMarket(m, dir)
		for _, diag := range diags {
			l.diagnostic(m.MarketID, dir, string(diag.Kind), diag.Message)
		}
		if err != nil {
			if errors.Is(err, market.ErrDirectionNotConfigured) {
				l.diagnostic(m.MarketID, dir, "direction_not_configured", err.Error())
			} else {
				l.logger.LogError(err, map[string]interface{}{"market_id": m.MarketID, "direction": d})
				mr.Failures++
			}
			continue
		}

		state := market.StateFromBucketCounts(l.book.BucketCounts(m.MarketID, dir, l.now()), price)
		if strategy.Gated(state, cfg) {
			mr.Gated++
			metrics.IncrementGated(m.MarketID, d)
			l.logger.LogGate(m.MarketID, map[string]interface{}{"direction": d, "xch_price_usd": price})
			continue
		}

		actions := strategy.Evaluate(state, cfg, l.now(), dir)
		offers := strategy.TotalRepeat(actions)
		metrics.ObservePlan(m.MarketID, d, len(actions), offers)
		mr.Planned += offers

		if len(actions) > 0 {
			l.logger.LogAction(m.MarketID, map[string]interface{}{
				"direction": d,
				"actions":   len(actions),
				"offers":    offers,
			})
			qp, err := QuotePrice(m, cfg, dir, price, tickers)
			if err != nil {
				l.logger.Warn("Quote price unavailable, skipping execution",
					zap.String("market_id", m.MarketID),
					zap.String("direction", d),
					zap.Error(err))
				mr.Failures++
			} else {
				posted, err := l.executor.Execute(ctx, m, actions, qp)
				mr.Posted += posted
				if err != nil {
					mr.Failures++
					l.logger.LogError(err, map[string]interface{}{"market_id": m.MarketID, "direction": d, "op": "execute"})
					l.alert(alert.LevelError, m.MarketID+":execute", "offer execution failed", map[string]interface{}{
						"market_id": m.MarketID,
						"error":     err.Error(),
					})
					l.record(Event{Type: "execute_error", MarketID: m.MarketID, Message: err.Error()})
				} else if posted > 0 {
					l.record(Event{
						Type:     "offers_posted",
						MarketID: m.MarketID,
						Message:  fmt.Sprintf("posted %d %s offers", posted, d),
					})
				}
			}
		}

		mr.Cancelled += l.executor.Rotate(ctx, m.MarketID, dir, l.cfg.OfferMaxAge)
	}
	return mr
}

func (l *MarketLoop) diagnostic(marketID string, dir strategy.Direction, kind, msg string) {
	metrics.IncrementDiagnostic(marketID, kind)
	l.logger.LogDiagnostic(marketID, kind, map[string]interface{}{"direction": string(dir), "message": msg})
	l.alert(alert.LevelWarning, marketID+":"+kind, "market config diagnostic", map[string]interface{}{
		"market_id": marketID,
		"kind":      kind,
		"message":   msg,
	})
}

func (l *MarketLoop) alert(level alert.Level, key, msg string, fields map[string]interface{}) {
	if l.alerts == nil {
		return
	}
	_, _ = l.alerts.SendAlert(alert.Alert{Level: level, Key: key, Message: msg, Fields: fields})
}

func (l *MarketLoop) record(e Event) {
	if e.At.IsZero() {
		e.At = l.now()
	}
	l.events.add(e)
}

func (l *MarketLoop) setWalletConnected(v bool) {
	l.statsMu.Lock()
	l.walletConnected = v
	l.statsMu.Unlock()
}

// Status 返回当前运行状态快照。
func (l *MarketLoop) Status() Status {
	state := l.State()
	enabled := len(l.markets().Enabled())

	l.statsMu.RLock()
	defer l.statsMu.RUnlock()

	st := Status{
		State:           state.String(),
		Running:         state == StateRunning,
		WalletConnected: l.walletConnected,
		EnabledMarkets:  enabled,
		CycleCount:      l.cycleCount,
		ErrorCount:      l.errorCount,
		OpenOffers:      l.book.Len(),
		RecentEvents:    l.events.last(statusEventCount),
	}
	st.CanStart = !st.Running && st.WalletConnected && enabled > 0
	if l.lastResult != nil {
		r := *l.lastResult
		st.LastResult = &r
		at := r.StartedAt
		st.LastCycleAt = &at
	}
	return st
}
