package engine

import (
	"sync"
	"time"
)

const (
	eventRingSize    = 200
	statusEventCount = 20
)

// Event 运行期事件，保存在固定容量的环形缓冲中。
type Event struct {
	At       time.Time              `json:"at"`
	Type     string                 `json:"type"`
	MarketID string                 `json:"market_id,omitempty"`
	Message  string                 `json:"message"`
	Fields   map[string]interface{} `json:"fields,omitempty"`
}

type eventRing struct {
	mu    sync.Mutex
	buf   []Event
	next  int
	count int
}

func newEventRing(size int) *eventRing {
	return &eventRing{buf: make([]Event, size)}
}

func (r *eventRing) add(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// last returns up to n most recent events, oldest first.
func (r *eventRing) last(n int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > r.count {
		n = r.count
	}
	out := make([]Event, 0, n)
	start := (r.next - n + len(r.buf)) % len(r.buf)
	for i := 0; i < n; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

func (r *eventRing) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
