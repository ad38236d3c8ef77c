package engine

import (
	"encoding/json"
	"net/http"
)

// Routes 返回挂在 metrics mux 上的运维接口：
// GET /status 返回循环状态，POST /trigger 立即执行一个周期，
// GET /offers 列出本地报价簿，POST /reconcile 立即与钱包对账。
func Routes(l *MarketLoop) map[string]http.Handler {
	return map[string]http.Handler{
		"/status":    http.HandlerFunc(l.serveStatus),
		"/trigger":   http.HandlerFunc(l.serveTrigger),
		"/offers":    http.HandlerFunc(l.serveOffers),
		"/reconcile": http.HandlerFunc(l.serveReconcile),
	}
}

func (l *MarketLoop) serveStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, l.Status())
}

func (l *MarketLoop) serveTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, l.TriggerOnce(r.Context()))
}

func (l *MarketLoop) serveOffers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, l.book.List())
}

func (l *MarketLoop) serveReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	res, err := l.Reconcile(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, res)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
