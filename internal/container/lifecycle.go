package container

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"greenfloor/config"
	"greenfloor/infrastructure/logger"
	"greenfloor/internal/engine"
	"greenfloor/metrics"
)

// Lifecycle 生命周期接口
type Lifecycle interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Health() error
}

// LifecycleManager 生命周期管理器
type LifecycleManager struct {
	components []Lifecycle
	mu         sync.RWMutex
}

func NewLifecycleManager() *LifecycleManager {
	return &LifecycleManager{}
}

// Register 注册组件
func (m *LifecycleManager) Register(component Lifecycle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, component)
}

// StartAll 按顺序启动所有组件，失败时逆序回滚已启动的组件
func (m *LifecycleManager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i, component := range m.components {
		if err := component.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = m.components[j].Stop()
			}
			return fmt.Errorf("start %s failed: %w", component.Name(), err)
		}
	}
	return nil
}

// StopAll 逆序停止所有组件
func (m *LifecycleManager) StopAll() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var lastErr error
	for i := len(m.components) - 1; i >= 0; i-- {
		if err := m.components[i].Stop(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// CheckHealth 检查所有组件健康状态
func (m *LifecycleManager) CheckHealth() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, component := range m.components {
		if err := component.Health(); err != nil {
			return fmt.Errorf("%s unhealthy: %w", component.Name(), err)
		}
	}
	return nil
}

// httpServerComponent 指标与运维 HTTP 服务
type httpServerComponent struct {
	addr   string
	routes map[string]http.Handler
	logger *logger.Logger
	server *http.Server
	mu     sync.Mutex
}

func (h *httpServerComponent) Name() string { return "metrics_server" }

func (h *httpServerComponent) Start(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.server != nil {
		return nil
	}
	h.server = metrics.StartMetricsServer(h.addr, h.routes)
	h.logger.Info(fmt.Sprintf("metrics server listening on %s", h.addr))
	return nil
}

func (h *httpServerComponent) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}
	h.server = nil
	return nil
}

func (h *httpServerComponent) Health() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.server == nil {
		return fmt.Errorf("not started")
	}
	return nil
}

// loopComponent 包装 MarketLoop
type loopComponent struct {
	loop *engine.MarketLoop
}

func (l *loopComponent) Name() string                    { return "market_loop" }
func (l *loopComponent) Start(ctx context.Context) error { return l.loop.Start(ctx) }
func (l *loopComponent) Stop() error                     { return l.loop.Stop() }

func (l *loopComponent) Health() error {
	if st := l.loop.State(); st != engine.StateRunning {
		return fmt.Errorf("state %s", st)
	}
	return nil
}

// watcherComponent 监听 markets 配置文件并热加载
type watcherComponent struct {
	watcher *config.Watcher
	store   *MarketStore
	logger  *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func (w *watcherComponent) Name() string { return "markets_watcher" }

func (w *watcherComponent) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	wctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true
	go func() {
		defer close(w.done)
		_ = w.watcher.Run(wctx, w.onChange, func(err error) {
			w.logger.LogError(err, map[string]interface{}{"component": "markets_watcher"})
		})
	}()
	return nil
}

func (w *watcherComponent) onChange(path string) {
	if err := w.store.Reload(); err != nil {
		w.logger.LogError(err, map[string]interface{}{"action": "reload_markets", "path": path})
		return
	}
	w.logger.Info(fmt.Sprintf("markets reloaded from %s, %d enabled", path, len(w.store.Get().Enabled())))
}

func (w *watcherComponent) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}
	w.cancel()
	<-w.done
	w.running = false
	return w.watcher.Close()
}

func (w *watcherComponent) Health() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return fmt.Errorf("not running")
	}
	return nil
}
