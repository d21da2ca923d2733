// Package realtime keeps local mirrors of scoped row sets in sync with the
// backend change feed.
//
// A handle is opened for a scope key (a post id, a peer id, a user id). It
// performs one bulk read, then subscribes, and from then on patches its state
// from change events:
//
//	Idle     empty key, nothing read, nothing subscribed
//	Loading  bulk read in flight
//	Synced   read done, events are applied in place
//	Error    the bulk read failed; state is empty
//	Closed   terminal; late reads and events are discarded
//
// Mutations write through the service layer. Local state changes only when
// the resulting change events arrive, except for reactions, which are applied
// optimistically and reconciled with the authoritative counters.
package realtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/emilythestrangee/campusnet/backend/internal/backend"
	"github.com/emilythestrangee/campusnet/backend/internal/observability"
	"github.com/emilythestrangee/campusnet/backend/internal/service"
	"github.com/emilythestrangee/campusnet/backend/internal/session"
)

type State int

const (
	Idle State = iota
	Loading
	Synced
	Error
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Synced:
		return "synced"
	case Error:
		return "error"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Handle is what the Registry and the gateway need from any synchronizer.
type Handle interface {
	Topic() string
	Key() string
	State() State
	Err() error
	// Snapshot returns a copy of the current local state.
	Snapshot() any
	// OnChange registers fn to run after every local state change.
	OnChange(fn func()) (unsubscribe func())
	Close()
}

// Deps are the collaborators every synchronizer needs.
type Deps struct {
	Client   backend.Client
	Services *service.Services
	Session  *session.Session
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d Deps) viewer() string {
	if d.Session == nil {
		return ""
	}
	return d.Session.UserID()
}

// handle carries the lifecycle shared by every synchronizer: state, the
// subscriptions it owns, and change listeners.
type handle struct {
	topic   string
	key     string
	metrics *observability.Metrics
	log     *slog.Logger

	// ctx is canceled on Close so in-flight reads stop early.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	err       error
	subs      []backend.Subscription
	listeners map[int]func()
	nextID    int
}

func newHandle(parent context.Context, topic, key string, d Deps) *handle {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	h := &handle{
		topic:     topic,
		key:       key,
		metrics:   d.Metrics,
		log:       d.logger().With("topic", topic, "key", key),
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[int]func()),
	}
	if key != "" {
		h.metrics.HandleOpened(topic)
	}
	return h
}

func (h *handle) Topic() string { return h.topic }
func (h *handle) Key() string   { return h.key }

func (h *handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *handle) OnChange(fn func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == Closed {
		return func() {}
	}
	id := h.nextID
	h.nextID++
	h.listeners[id] = fn
	return func() {
		h.mu.Lock()
		delete(h.listeners, id)
		h.mu.Unlock()
	}
}

// changed runs the listeners. It must be called without h.mu held.
func (h *handle) changed() {
	h.mu.Lock()
	if h.state == Closed {
		h.mu.Unlock()
		return
	}
	fns := make([]func(), 0, len(h.listeners))
	for i := 0; i < h.nextID; i++ {
		if fn, ok := h.listeners[i]; ok {
			fns = append(fns, fn)
		}
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// closedLocked reports whether the handle is closed and records the drop.
// Callers hold h.mu.
func (h *handle) closedLocked() bool {
	if h.state == Closed {
		h.metrics.EventDropped(h.topic, observability.DropStale)
		return true
	}
	return false
}

// subscribe registers an event handler. On a closed handle the subscription
// is torn down immediately.
func (h *handle) subscribe(client backend.Client, f backend.Filter, fn backend.Handler) error {
	sub, err := client.Subscribe(f, fn)
	if err != nil {
		return err
	}
	h.mu.Lock()
	if h.state == Closed {
		h.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	h.subs = append(h.subs, sub)
	h.mu.Unlock()
	return nil
}

// Close tears down every subscription. It is safe to call more than once.
func (h *handle) Close() {
	h.mu.Lock()
	if h.state == Closed {
		h.mu.Unlock()
		return
	}
	wasOpen := h.key != ""
	h.state = Closed
	subs := h.subs
	h.subs = nil
	h.listeners = make(map[int]func())
	h.mu.Unlock()

	h.cancel()
	for _, s := range subs {
		s.Unsubscribe()
	}
	if wasOpen {
		h.metrics.HandleClosed(h.topic)
		h.log.Debug("handle closed")
	}
}
