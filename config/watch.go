package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher 监听配置文件变化（基于 fsnotify），带冷却时间避免编辑器连续写入导致频繁重载。
// 监听的是文件所在目录，这样原子替换（rename）也能被捕获。
type Watcher struct {
	fw       *fsnotify.Watcher
	paths    map[string]struct{}
	cooldown time.Duration

	mu       sync.Mutex
	lastFire time.Time
}

// NewWatcher watches the given files. Empty paths are ignored.
func NewWatcher(cooldown time.Duration, paths ...string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{fw: fw, paths: make(map[string]struct{}), cooldown: cooldown}
	dirs := make(map[string]struct{})
	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			fw.Close()
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		w.paths[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	return w, nil
}

// Run blocks until ctx is done, calling onChange for writes/creates/renames of
// a watched file. Changes inside the cooldown are coalesced into one call at
// the end of the window, so the last save is always delivered. onError may be nil.
func (w *Watcher) Run(ctx context.Context, onChange func(path string), onError func(error)) error {
	var (
		trailing *time.Timer
		fire     <-chan time.Time
		pending  = make(map[string]struct{})
	)
	defer func() {
		if trailing != nil {
			trailing.Stop()
		}
	}()
	deliver := func(path string) {
		if onChange != nil {
			onChange(path)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-fire:
			fire = nil
			w.mark(time.Now())
			for p := range pending {
				delete(pending, p)
				deliver(p)
			}
		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			abs, err := filepath.Abs(ev.Name)
			if err != nil {
				continue
			}
			if _, watched := w.paths[abs]; !watched {
				continue
			}
			wait := w.admit(time.Now())
			if wait <= 0 && fire == nil {
				deliver(abs)
				continue
			}
			// 冷却期内：记下文件，窗口结束时再加载一次
			pending[abs] = struct{}{}
			if fire == nil {
				if trailing == nil {
					trailing = time.NewTimer(wait)
				} else {
					trailing.Reset(wait)
				}
				fire = trailing.C
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			if onError != nil {
				onError(err)
			}
		}
	}
}

// admit returns how long to wait before the next reload may fire; zero means
// now, in which case the fire time is recorded.
func (w *Watcher) admit(now time.Time) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.lastFire.IsZero() {
		if wait := w.cooldown - now.Sub(w.lastFire); wait > 0 {
			return wait
		}
	}
	w.lastFire = now
	return 0
}

func (w *Watcher) mark(now time.Time) {
	w.mu.Lock()
	w.lastFire = now
	w.mu.Unlock()
}

func (w *Watcher) Close() error {
	return w.fw.Close()
}
