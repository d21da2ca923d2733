package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emilythestrangee/campusnet/backend/internal/apperr"
	"github.com/emilythestrangee/campusnet/backend/internal/backend"
	"github.com/emilythestrangee/campusnet/backend/internal/models"
	"github.com/emilythestrangee/campusnet/backend/internal/observability"
	"github.com/emilythestrangee/campusnet/backend/internal/service"
)

// gatedClient holds back the result of the next Select on an armed kind
// until release is closed. The read itself runs before the gate, so the held
// result is a real, late answer.
type gatedClient struct {
	backend.Client

	mu      sync.Mutex
	kind    backend.Kind
	entered chan struct{}
	release chan struct{}
}

func (g *gatedClient) arm(kind backend.Kind) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.kind = kind
	g.entered = make(chan struct{})
	g.release = make(chan struct{})
}

func (g *gatedClient) Select(ctx context.Context, q backend.Query) ([]backend.Row, error) {
	rows, err := g.Client.Select(ctx, q)

	g.mu.Lock()
	armed := g.kind != "" && g.kind == q.Kind
	entered, release := g.entered, g.release
	if armed {
		g.kind = ""
	}
	g.mu.Unlock()

	if armed {
		close(entered)
		<-release
	}
	return rows, err
}

// gatedDeps routes both the synchronizer and its services through a gate.
func (f *fixture) gatedDeps(viewer string) (Deps, *gatedClient) {
	gated := &gatedClient{Client: f.mem}
	d := f.deps(viewer)
	d.Client = gated
	d.Services = service.New(gated, nil, nil)
	d.Metrics = observability.NewMetrics(prometheus.NewRegistry())
	return d, gated
}

func staleDrops(d Deps, topic string) float64 {
	return testutil.ToFloat64(d.Metrics.EventsDroppedTotal.WithLabelValues(topic, observability.DropStale))
}

func TestCloseDuringInitialReadDiscardsResult(t *testing.T) {
	f := newFixture(t)
	post := f.post(f.alice)
	ctx := context.Background()
	_, err := f.svc.Comments.Create(ctx, f.bob, post, models.CreateCommentRequest{Content: "first"})
	require.NoError(t, err)

	t.Run("comments", func(t *testing.T) {
		d, gated := f.gatedDeps(f.alice)
		c := &Collection[models.Comment]{
			handle: newHandle(ctx, TopicComments, post, d),
			src: Source[models.Comment]{
				Topic: TopicComments,
				Kind:  backend.Comments,
				Scope: func(key string) backend.Predicate { return backend.Eq("post_id", key) },
			},
			client: gated,
		}
		gated.arm(backend.Comments)
		done := make(chan error, 1)
		go func() { done <- c.load() }()

		<-gated.entered
		assert.Equal(t, Loading, c.State())
		c.Close()
		close(gated.release)

		require.NoError(t, <-done)
		assert.Equal(t, Closed, c.State())
		assert.Empty(t, c.Items(), "the late read must not populate a closed handle")
		assert.Zero(t, f.mem.Subscribers())
		assert.Equal(t, 1.0, staleDrops(d, TopicComments))
	})

	t.Run("reactions", func(t *testing.T) {
		d, gated := f.gatedDeps(f.alice)
		r := &Reactions{
			handle: newHandle(ctx, TopicReactions, post, d),
			deps:   d,
			viewer: d.viewer(),
		}
		gated.arm(backend.Posts)
		done := make(chan error, 1)
		go func() { done <- r.load() }()

		<-gated.entered
		r.Close()
		close(gated.release)

		require.NoError(t, <-done)
		assert.Equal(t, Closed, r.State())
		assert.Equal(t, ReactionState{}, r.Current())
		assert.Zero(t, f.mem.Subscribers())
		assert.Equal(t, 1.0, staleDrops(d, TopicReactions))
	})
}

func TestCloseDuringCountRefetchDiscardsResult(t *testing.T) {
	f := newFixture(t)
	post := f.post(f.alice)
	ctx := context.Background()
	d, gated := f.gatedDeps(f.alice)

	r, err := OpenReactions(ctx, d, post)
	require.NoError(t, err)
	require.Equal(t, Synced, r.State())

	// bob's reaction makes the handle refetch the counters; that read is
	// held until after Close.
	gated.arm(backend.Posts)
	written := make(chan error, 1)
	go func() {
		_, err := f.svc.Reactions.Toggle(ctx, f.bob, post, models.ReactionLike)
		written <- err
	}()

	<-gated.entered
	r.Close()
	close(gated.release)
	require.NoError(t, <-written)

	assert.Equal(t, Closed, r.State())
	assert.Equal(t, ReactionState{
		Likes:    Counter{Value: 0, Confirmed: true},
		Dislikes: Counter{Value: 0, Confirmed: true},
	}, r.Current(), "counters read after Close are dropped")
	assert.GreaterOrEqual(t, staleDrops(d, TopicReactions), 1.0)

	counts, err := f.svc.Reactions.Counts(ctx, post)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Likes, "the write itself went through")
}

func TestCommentsOverAsyncHub(t *testing.T) {
	f := newFixture(t, backend.WithAsync(16))
	post := f.post(f.alice)
	ctx := context.Background()

	c, err := OpenComments(ctx, f.deps(f.alice), post)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Add(ctx, "hello", false)
	require.NoError(t, err)
	_, err = f.svc.Comments.Create(ctx, f.bob, post, models.CreateCommentRequest{Content: "hi back"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(c.Items()) == 2 }, 2*time.Second, 10*time.Millisecond)
	items := c.Items()
	assert.Equal(t, "hello", items[0].Content)
	assert.Equal(t, "hi back", items[1].Content)
	require.NotNil(t, items[1].Author)
	assert.Equal(t, "bob", items[1].Author.Username)
}

func TestReactionsOverAsyncHub(t *testing.T) {
	f := newFixture(t, backend.WithAsync(16))
	post := f.post(f.alice)
	ctx := context.Background()

	r, err := OpenReactions(ctx, f.deps(f.alice), post)
	require.NoError(t, err)
	defer r.Close()

	_, err = f.svc.Reactions.Toggle(ctx, f.bob, post, models.ReactionLike)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return r.Current().Likes == Counter{Value: 1, Confirmed: true}
	}, 2*time.Second, 10*time.Millisecond)

	mine, err := r.Toggle(ctx, models.ReactionDislike)
	require.NoError(t, err)
	assert.Equal(t, models.ReactionDislike, mine)

	want := ReactionState{
		Likes:    Counter{Value: 1, Confirmed: true},
		Dislikes: Counter{Value: 1, Confirmed: true},
		Mine:     models.ReactionDislike,
	}
	require.Eventually(t, func() bool { return r.Current() == want }, 2*time.Second, 10*time.Millisecond)
}

func TestToggleOnErroredHandleIsRejected(t *testing.T) {
	f := newFixture(t)
	post := f.post(f.alice)
	ctx := context.Background()
	f.mem.FailSelect(backend.Posts, errors.New("connection refused"))

	r, err := OpenReactions(ctx, f.deps(f.alice), post)
	require.Error(t, err)
	require.Equal(t, Error, r.State())
	f.mem.FailSelect(backend.Posts, nil)

	_, err = r.Toggle(ctx, models.ReactionLike)
	assert.ErrorIs(t, err, apperr.ErrBackend)
	assert.Equal(t, ReactionState{}, r.Current(), "no optimistic counts on a handle that never loaded")

	mine, err := f.svc.Reactions.Mine(ctx, f.alice, post)
	require.NoError(t, err)
	assert.Equal(t, models.ReactionNone, mine)
}
