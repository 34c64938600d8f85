package server

import (
	"sync"
	"time"
)

const (
	EventConnected  = "connected"
	EventRunStarted = "run_started"
	EventRunDone    = "run_done"
	EventReloaded   = "config_reloaded"
)

// Event 是推送给 websocket 订阅者的运行状态。
type Event struct {
	Type         string    `json:"type"`
	RunID        string    `json:"runId,omitempty"`
	Status       string    `json:"status,omitempty"`
	Error        string    `json:"error,omitempty"`
	Rows         int       `json:"rows,omitempty"`
	MeanAccuracy float64   `json:"meanAccuracy,omitempty"`
	Time         time.Time `json:"time"`
}

// Hub 一个轻量事件分发器；订阅者处理不过来时直接丢弃。
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
	buf  int
}

func NewHub(buf int) *Hub {
	if buf <= 0 {
		buf = 8
	}
	return &Hub{subs: make(map[chan Event]struct{}), buf: buf}
}

// Subscribe returns the event channel and a cancel func that closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, h.buf)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish returns how many subscribers received e.
func (h *Hub) Publish(e Event) int {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for ch := range h.subs {
		select {
		case ch <- e:
			n++
		default:
		}
	}
	return n
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
