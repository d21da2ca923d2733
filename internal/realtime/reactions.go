package realtime

import (
	"context"

	"github.com/emilythestrangee/campusnet/backend/internal/apperr"
	"github.com/emilythestrangee/campusnet/backend/internal/backend"
	"github.com/emilythestrangee/campusnet/backend/internal/models"
	"github.com/emilythestrangee/campusnet/backend/internal/service"
)

// Counter is a displayed count. Confirmed is false while it holds an
// optimistic local value that no authoritative read or event has replaced.
type Counter struct {
	Value     int  `json:"value"`
	Confirmed bool `json:"confirmed"`
}

type ReactionState struct {
	Likes    Counter             `json:"likes"`
	Dislikes Counter             `json:"dislikes"`
	Mine     models.ReactionKind `json:"mine"`
}

// Reactions tracks the like/dislike counters of one post and the signed-in
// user's own reaction.
//
// Counters come from the post row and are always overwritten by authoritative
// values. Every reaction event on the post triggers a counter refetch; only
// events for the viewer's own row change Mine.
type Reactions struct {
	*handle
	deps   Deps
	viewer string

	// guarded by handle.mu
	st  ReactionState
	gen uint64 // bumped on every authoritative counter write
}

func OpenReactions(ctx context.Context, d Deps, postID string) (*Reactions, error) {
	r := &Reactions{
		handle: newHandle(ctx, TopicReactions, postID, d),
		deps:   d,
		viewer: d.viewer(),
	}
	if postID == "" {
		return r, nil
	}
	return r, r.load()
}

func (r *Reactions) load() error {
	r.mu.Lock()
	r.state = Loading
	r.mu.Unlock()

	counts, mine, err := r.read()
	r.mu.Lock()
	if r.closedLocked() {
		r.mu.Unlock()
		return nil
	}
	if err != nil {
		r.state, r.err = Error, err
		r.mu.Unlock()
		r.log.Warn("initial read failed", "error", err)
		r.changed()
		return err
	}
	r.setCountsLocked(counts)
	r.st.Mine = mine
	r.mu.Unlock()

	err = r.subscribe(r.deps.Client, backend.Filter{
		Kind:  backend.Posts,
		Event: backend.EventUpdate,
		Where: backend.Eq("id", r.key),
	}, r.onPost)
	if err == nil {
		err = r.subscribe(r.deps.Client, backend.Filter{
			Kind:  backend.PostReactions,
			Event: backend.EventAll,
			Where: backend.Eq("post_id", r.key),
		}, r.onReaction)
	}
	if err != nil {
		r.log.Error("subscribe failed", "error", err)
	}

	r.mu.Lock()
	if r.state != Closed {
		r.state = Synced
	}
	r.mu.Unlock()
	r.changed()
	return nil
}

func (r *Reactions) read() (service.Counts, models.ReactionKind, error) {
	counts, err := r.deps.Services.Reactions.Counts(r.ctx, r.key)
	if err != nil {
		return service.Counts{}, models.ReactionNone, err
	}
	mine, err := r.deps.Services.Reactions.Mine(r.ctx, r.viewer, r.key)
	if err != nil {
		return service.Counts{}, models.ReactionNone, err
	}
	return counts, mine, nil
}

func (r *Reactions) setCountsLocked(c service.Counts) {
	r.st.Likes = Counter{Value: c.Likes, Confirmed: true}
	r.st.Dislikes = Counter{Value: c.Dislikes, Confirmed: true}
	r.gen++
}

// onPost applies the counters carried by a post update.
func (r *Reactions) onPost(ev backend.Event) {
	var c service.Counts
	if err := ev.New.Decode(&c); err != nil {
		r.log.Warn("undecodable post event", "error", err)
		return
	}
	r.mu.Lock()
	if r.closedLocked() {
		r.mu.Unlock()
		return
	}
	r.setCountsLocked(c)
	r.mu.Unlock()
	r.metrics.EventApplied(r.topic, string(ev.Type))
	r.changed()
}

// onReaction updates Mine for the viewer's own row and refetches counters for
// every reaction event.
func (r *Reactions) onReaction(ev backend.Event) {
	row := ev.Row()
	r.mu.Lock()
	if r.closedLocked() {
		r.mu.Unlock()
		return
	}
	if r.viewer != "" && row.String("user_id") == r.viewer {
		if ev.Type == backend.EventDelete {
			r.st.Mine = models.ReactionNone
		} else {
			r.st.Mine = models.ReactionKind(row.String("reaction_type"))
		}
	}
	r.mu.Unlock()
	r.metrics.EventApplied(r.topic, string(ev.Type))
	r.changed()
	r.refetch()
}

// refetch reads the counters and applies them unless a newer authoritative
// value arrived meanwhile.
func (r *Reactions) refetch() {
	r.mu.Lock()
	gen := r.gen
	r.mu.Unlock()

	counts, err := r.deps.Services.Reactions.Counts(r.ctx, r.key)
	if err != nil {
		r.log.Warn("refetch counts failed", "error", err)
		return
	}
	r.mu.Lock()
	if r.closedLocked() {
		r.mu.Unlock()
		return
	}
	if r.gen != gen {
		r.mu.Unlock()
		return
	}
	r.setCountsLocked(counts)
	r.mu.Unlock()
	r.changed()
}

// Toggle applies kind for the signed-in user: the active kind clears, any
// other kind becomes active. Local state changes immediately; on failure it
// is restored from an authoritative read.
func (r *Reactions) Toggle(ctx context.Context, kind models.ReactionKind) (models.ReactionKind, error) {
	if r.viewer == "" || r.deps.viewer() == "" {
		return models.ReactionNone, apperr.Unauthenticated()
	}
	if !kind.Valid() {
		return models.ReactionNone, apperr.Validation("reaction_type", "must be like or dislike")
	}

	r.mu.Lock()
	switch r.state {
	case Closed:
		r.mu.Unlock()
		return models.ReactionNone, apperr.Closed()
	case Idle:
		r.mu.Unlock()
		return models.ReactionNone, apperr.Validation("post_id", "is required")
	case Error:
		// Counters were never read, so there is nothing to apply a delta to.
		err := r.err
		r.mu.Unlock()
		return models.ReactionNone, err
	}
	prev := r.st
	r.st = optimistic(r.st, kind)
	r.mu.Unlock()
	r.changed()

	got, err := r.deps.Services.Reactions.Toggle(ctx, r.viewer, r.key, kind)
	if err != nil {
		r.resync(prev)
		return prev.Mine, err
	}
	r.mu.Lock()
	if r.state != Closed {
		r.st.Mine = got
	}
	r.mu.Unlock()
	return got, nil
}

// optimistic is the local effect of toggling kind.
func optimistic(st ReactionState, kind models.ReactionKind) ReactionState {
	bump := func(k models.ReactionKind, delta int) {
		switch k {
		case models.ReactionLike:
			st.Likes = Counter{Value: max(st.Likes.Value+delta, 0)}
		case models.ReactionDislike:
			st.Dislikes = Counter{Value: max(st.Dislikes.Value+delta, 0)}
		}
	}
	if st.Mine == kind {
		bump(kind, -1)
		st.Mine = models.ReactionNone
		return st
	}
	bump(st.Mine, -1)
	bump(kind, 1)
	st.Mine = kind
	return st
}

// resync replaces local state with an authoritative read after a failed
// write, falling back to prev when the read fails too.
func (r *Reactions) resync(prev ReactionState) {
	counts, mine, err := r.read()
	r.mu.Lock()
	if r.state == Closed {
		r.mu.Unlock()
		return
	}
	if err != nil {
		r.log.Warn("resync failed, restoring previous state", "error", err)
		r.st = prev
	} else {
		r.setCountsLocked(counts)
		r.st.Mine = mine
	}
	r.mu.Unlock()
	r.changed()
}

// Current returns a copy of the reaction state.
func (r *Reactions) Current() ReactionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st
}

func (r *Reactions) Snapshot() any { return r.Current() }
