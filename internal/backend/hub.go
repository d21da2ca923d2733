package backend

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
)

// ErrHubClosed is returned by Subscribe after Close.
var ErrHubClosed = errors.New("backend: hub closed")

// Hub fans events out to subscriptions.
//
// In synchronous mode Publish calls every matching handler on the caller's
// goroutine, after the hub lock is released. In asynchronous mode each
// subscription owns a buffered queue drained by its own goroutine, so one slow
// handler never blocks the publisher; a full queue drops the event and logs it.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscription
	next   uint64
	closed bool
	buffer int
	logger *slog.Logger
}

type HubOption func(*Hub)

// WithAsync delivers events through a per-subscription queue of the given size.
func WithAsync(buffer int) HubOption {
	return func(h *Hub) {
		if buffer < 1 {
			buffer = 1
		}
		h.buffer = buffer
	}
}

func WithLogger(l *slog.Logger) HubOption {
	return func(h *Hub) { h.logger = l }
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{subs: make(map[uint64]*subscription), logger: slog.Default()}
	for _, o := range opts {
		o(h)
	}
	return h
}

type subscription struct {
	hub    *Hub
	id     uint64
	filter Filter
	fn     Handler
	active atomic.Bool
	queue  chan Event
	done   chan struct{}
	once   sync.Once
}

func (h *Hub) Subscribe(f Filter, fn Handler) (Subscription, error) {
	if fn == nil {
		return nil, errors.New("backend: nil handler")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	h.next++
	s := &subscription{hub: h, id: h.next, filter: f, fn: fn, done: make(chan struct{})}
	s.active.Store(true)
	if h.buffer > 0 {
		s.queue = make(chan Event, h.buffer)
		go s.drain()
	}
	h.subs[s.id] = s
	return s, nil
}

func (s *subscription) drain() {
	for {
		select {
		case ev := <-s.queue:
			if s.active.Load() {
				s.fn(ev)
			}
		case <-s.done:
			return
		}
	}
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.active.Store(false)
		s.hub.mu.Lock()
		delete(s.hub.subs, s.id)
		s.hub.mu.Unlock()
		close(s.done)
	})
}

// Publish delivers ev to every subscription whose filter matches.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	var matched []*subscription
	for _, s := range h.subs {
		if s.filter.Match(ev) {
			matched = append(matched, s)
		}
	}
	h.mu.RUnlock()
	sort.Slice(matched, func(i, j int) bool { return matched[i].id < matched[j].id })

	for _, s := range matched {
		if s.queue == nil {
			if s.active.Load() {
				s.fn(ev)
			}
			continue
		}
		select {
		case s.queue <- ev:
		case <-s.done:
		default:
			h.logger.Warn("dropping event for slow subscriber",
				"kind", ev.Kind, "type", ev.Type, "id", ev.Row().ID())
		}
	}
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close unsubscribes everything and rejects further subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()
	for _, s := range subs {
		s.Unsubscribe()
	}
}
