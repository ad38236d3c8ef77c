// Package metrics provides Prometheus metrics for the greenfloor daemon
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "greenfloor"

var (
	// CyclesTotal 市场循环周期数（按结果）
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycles_total",
		Help:      "Market loop cycles by status",
	}, []string{"status"})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of one market loop cycle",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	// PlannedActions 策略输出的动作数；PlannedOffers 为 repeat 之和
	PlannedActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "planned_actions_total",
		Help:      "Planned actions emitted by the ladder evaluator",
	}, []string{"market", "direction"})

	PlannedOffers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "planned_offers_total",
		Help:      "Offers requested by planned actions (sum of repeat)",
	}, []string{"market", "direction"})

	OffersPosted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "offers_posted_total",
		Help:      "Offers posted to the wallet",
	}, []string{"market", "direction"})

	OffersCancelled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "offers_cancelled_total",
		Help:      "Offers cancelled by the rotation policy",
	}, []string{"market", "direction"})

	// OffersReconciled 对账后离开 OPEN 的报价（taken/cancelled/expired）与接管的钱包报价（adopted）
	OffersReconciled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "offers_reconciled_total",
		Help:      "Offer book changes applied from wallet offer status",
	}, []string{"market", "result"})

	EvaluationGated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "evaluation_gated_total",
		Help:      "Evaluations skipped by the xch price gate",
	}, []string{"market", "direction"})

	ConfigDiagnostics = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "config_diagnostics_total",
		Help:      "Market configuration problems found during projection",
	}, []string{"market", "kind"})

	XCHPriceUSD = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "xch_price_usd",
		Help:      "Last fetched XCH spot price in USD",
	})
)

// ObserveCycle 记录一次周期的结果与耗时
func ObserveCycle(status string, d time.Duration) {
	CyclesTotal.WithLabelValues(status).Inc()
	CycleDuration.Observe(d.Seconds())
}

// ObservePlan 记录一次评估输出
func ObservePlan(market, direction string, actions, offers int) {
	PlannedActions.WithLabelValues(market, direction).Add(float64(actions))
	PlannedOffers.WithLabelValues(market, direction).Add(float64(offers))
}

func IncrementGated(market, direction string) {
	EvaluationGated.WithLabelValues(market, direction).Inc()
}

func IncrementDiagnostic(market, kind string) {
	ConfigDiagnostics.WithLabelValues(market, kind).Inc()
}

func IncrementPosted(market, direction string) {
	OffersPosted.WithLabelValues(market, direction).Inc()
}

func IncrementCancelled(market, direction string) {
	OffersCancelled.WithLabelValues(market, direction).Inc()
}

func IncrementReconciled(market, result string) {
	OffersReconciled.WithLabelValues(market, result).Inc()
}

func SetXCHPrice(v float64) {
	XCHPriceUSD.Set(v)
}

// StartMetricsServer 启动Prometheus指标服务器；addr 为空时不启动。
// routes 中的附加路由（如 /status）挂在同一个 mux 上。
func StartMetricsServer(addr string, routes map[string]http.Handler) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	for pattern, h := range routes {
		mux.Handle(pattern, h)
	}
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = srv.ListenAndServe()
	}()
	return srv
}
