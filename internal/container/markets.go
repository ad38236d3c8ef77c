package container

import (
	"sync"

	"greenfloor/config"
)

// MarketStore 持有当前生效的市场配置；重载失败时保留旧配置。
type MarketStore struct {
	path        string
	overlayPath string

	mu      sync.RWMutex
	current config.MarketsConfig
}

func NewMarketStore(path, overlayPath string) (*MarketStore, error) {
	s := &MarketStore{path: path, overlayPath: overlayPath}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MarketStore) Get() config.MarketsConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *MarketStore) Reload() error {
	cfg, err := config.LoadMarketsWithOverlay(s.path, s.overlayPath)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.current = cfg
	s.mu.Unlock()
	return nil
}

// Paths 返回需要监听的配置文件。
func (s *MarketStore) Paths() []string {
	if s.overlayPath == "" {
		return []string{s.path}
	}
	return []string{s.path, s.overlayPath}
}
