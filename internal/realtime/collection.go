package realtime

import (
	"context"
	"slices"

	"github.com/emilythestrangee/campusnet/backend/internal/apperr"
	"github.com/emilythestrangee/campusnet/backend/internal/backend"
	"github.com/emilythestrangee/campusnet/backend/internal/observability"
)

// Entity is a row type with a stable id.
type Entity interface {
	EntityID() string
}

// Source describes which rows a Collection mirrors and how.
type Source[T Entity] struct {
	Topic string
	Kind  backend.Kind
	// Scope returns the predicate for a scope key. It is used both for the
	// bulk read and for the subscription.
	Scope func(key string) backend.Predicate
	Order []backend.Order
	// NewestFirst prepends inserts instead of appending them.
	NewestFirst bool
	// Limit caps the local list; 0 means no cap.
	Limit int
	// Events lists the event types applied; empty means all.
	Events []backend.EventType
	// Hydrate fills denormalized fields that change events do not carry.
	Hydrate func(ctx context.Context, items []T) error
	// Merge combines the local entity with an updated row. Without it the
	// update replaces the entity.
	Merge func(local, updated T) T
}

func (s Source[T]) wants(t backend.EventType) bool {
	return len(s.Events) == 0 || slices.Contains(s.Events, t)
}

// Collection is a synchronized, ordered list of entities for one scope key.
type Collection[T Entity] struct {
	*handle
	src    Source[T]
	client backend.Client

	items []T // guarded by handle.mu
}

// OpenCollection starts tracking src for key. An empty key yields an Idle
// collection that never reads or subscribes. A failed bulk read leaves the
// collection in Error with no items and returns the error.
func OpenCollection[T Entity](ctx context.Context, d Deps, src Source[T], key string) (*Collection[T], error) {
	c := &Collection[T]{
		handle: newHandle(ctx, src.Topic, key, d),
		src:    src,
		client: d.Client,
	}
	if key == "" {
		return c, nil
	}
	return c, c.load()
}

func (c *Collection[T]) load() error {
	c.mu.Lock()
	c.state = Loading
	c.mu.Unlock()

	items, err := c.read()
	c.mu.Lock()
	if c.closedLocked() {
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		c.state, c.err, c.items = Error, err, nil
		c.mu.Unlock()
		c.log.Warn("initial read failed", "error", err)
		c.changed()
		return err
	}
	c.items = items
	c.mu.Unlock()

	// Subscribe only after the read completed. Events in between are missed.
	err = c.subscribe(c.client, backend.Filter{
		Kind:  c.src.Kind,
		Event: backend.EventAll,
		Where: c.src.Scope(c.key),
	}, c.apply)
	if err != nil {
		c.log.Error("subscribe failed", "error", err)
	}

	c.mu.Lock()
	if c.state != Closed {
		c.state = Synced
	}
	c.mu.Unlock()
	c.changed()
	return nil
}

func (c *Collection[T]) read() ([]T, error) {
	rows, err := c.client.Select(c.ctx, backend.Query{
		Kind:  c.src.Kind,
		Where: c.src.Scope(c.key),
		Order: c.src.Order,
		Limit: c.src.Limit,
	})
	if err != nil {
		return nil, apperr.Backend("Failed to load "+c.topic, err)
	}
	items, err := backend.DecodeRows[T](rows)
	if err != nil {
		return nil, apperr.Backend("Failed to load "+c.topic, err)
	}
	if c.src.Hydrate != nil {
		if err := c.src.Hydrate(c.ctx, items); err != nil {
			c.log.Warn("hydrate failed", "error", err)
		}
	}
	return items, nil
}

// apply reconciles one change event with local state.
func (c *Collection[T]) apply(ev backend.Event) {
	if !c.src.wants(ev.Type) {
		return
	}
	c.mu.Lock()
	if c.closedLocked() {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	var item T
	if err := ev.Row().Decode(&item); err != nil {
		c.log.Warn("undecodable event", "type", ev.Type, "error", err)
		return
	}
	id := item.EntityID()

	switch ev.Type {
	case backend.EventInsert:
		if c.has(id) {
			c.metrics.EventDropped(c.topic, observability.DropDuplicate)
			return
		}
		if c.src.Hydrate != nil {
			one := []T{item}
			if err := c.src.Hydrate(c.ctx, one); err != nil {
				c.log.Warn("hydrate failed", "id", id, "error", err)
			}
			item = one[0]
		}
		c.mu.Lock()
		if c.closedLocked() {
			c.mu.Unlock()
			return
		}
		if c.indexLocked(id) >= 0 {
			c.mu.Unlock()
			c.metrics.EventDropped(c.topic, observability.DropDuplicate)
			return
		}
		if c.src.NewestFirst {
			c.items = append([]T{item}, c.items...)
		} else {
			c.items = append(c.items, item)
		}
		if c.src.Limit > 0 && len(c.items) > c.src.Limit {
			if c.src.NewestFirst {
				c.items = c.items[:c.src.Limit]
			} else {
				c.items = c.items[len(c.items)-c.src.Limit:]
			}
		}
		c.mu.Unlock()

	case backend.EventUpdate:
		c.mu.Lock()
		if c.closedLocked() {
			c.mu.Unlock()
			return
		}
		i := c.indexLocked(id)
		if i < 0 {
			c.mu.Unlock()
			c.metrics.EventDropped(c.topic, observability.DropUnknown)
			return
		}
		if c.src.Merge != nil {
			item = c.src.Merge(c.items[i], item)
		}
		c.items[i] = item
		c.mu.Unlock()

	case backend.EventDelete:
		c.mu.Lock()
		if c.closedLocked() {
			c.mu.Unlock()
			return
		}
		i := c.indexLocked(id)
		if i < 0 {
			c.mu.Unlock()
			c.metrics.EventDropped(c.topic, observability.DropUnknown)
			return
		}
		c.items = slices.Delete(c.items, i, i+1)
		c.mu.Unlock()

	default:
		return
	}
	c.metrics.EventApplied(c.topic, string(ev.Type))
	c.changed()
}

func (c *Collection[T]) has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indexLocked(id) >= 0
}

func (c *Collection[T]) indexLocked(id string) int {
	for i, it := range c.items {
		if it.EntityID() == id {
			return i
		}
	}
	return -1
}

// Items returns a copy of the local list.
func (c *Collection[T]) Items() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Collection[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Collection[T]) Snapshot() any { return c.Items() }

// writable returns the viewer id for a mutation, or the error that prevents
// it. Local state is never touched here.
func (c *Collection[T]) writable(d Deps) (string, error) {
	viewer := d.viewer()
	if viewer == "" {
		return "", apperr.Unauthenticated()
	}
	switch c.State() {
	case Closed:
		return "", apperr.Closed()
	case Idle:
		return "", apperr.Validation("key", "is required")
	}
	return viewer, nil
}
