package realtime

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emilythestrangee/campusnet/backend/internal/apperr"
	"github.com/emilythestrangee/campusnet/backend/internal/backend"
	"github.com/emilythestrangee/campusnet/backend/internal/models"
	"github.com/emilythestrangee/campusnet/backend/internal/observability"
	"github.com/emilythestrangee/campusnet/backend/internal/service"
	"github.com/emilythestrangee/campusnet/backend/internal/session"
)

type fixture struct {
	mem   *backend.Memory
	svc   *service.Services
	alice string
	bob   string
}

func newFixture(t *testing.T, opts ...backend.HubOption) *fixture {
	t.Helper()
	mem := backend.NewMemory(opts...)
	t.Cleanup(func() { _ = mem.Close() })
	f := &fixture{mem: mem, svc: service.New(mem, nil, nil)}
	f.alice = f.profile("alice")
	f.bob = f.profile("bob")
	return f
}

func (f *fixture) profile(username string) string {
	id := uuid.NewString()
	f.mem.Seed(backend.Profiles, backend.Row{
		"id":           id,
		"username":     username,
		"display_name": username,
		"university":   "Uni",
		"department":   "CS",
	})
	return id
}

func (f *fixture) post(author string) string {
	id := uuid.NewString()
	f.mem.Seed(backend.Posts, backend.Row{
		"id":         id,
		"title":      "t",
		"content":    "c",
		"board_type": "campus",
		"author_id":  author,
	})
	return id
}

// deps returns collaborators for viewer; "" means signed out.
func (f *fixture) deps(viewer string) Deps {
	var u *session.User
	if viewer != "" {
		u = &session.User{ID: viewer}
	}
	return Deps{Client: f.mem, Services: f.svc, Session: session.Resolved(u)}
}

func TestOpenEmptyKeyIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.deps(f.alice)

	comments, err := OpenComments(ctx, d, "")
	require.NoError(t, err)
	reactions, err := OpenReactions(ctx, d, "")
	require.NoError(t, err)
	conv, err := OpenConversation(ctx, d, "")
	require.NoError(t, err)
	inbox, err := OpenInbox(ctx, d, "")
	require.NoError(t, err)
	notes, err := OpenNotifications(ctx, d, "")
	require.NoError(t, err)

	for _, h := range []Handle{comments, reactions, conv, inbox, notes} {
		assert.Equal(t, Idle, h.State(), h.Topic())
	}
	assert.Empty(t, comments.Items())
	assert.Equal(t, ReactionState{}, reactions.Current())
	for _, k := range []backend.Kind{backend.Comments, backend.Posts, backend.PostReactions, backend.Messages, backend.Notifications} {
		assert.Zero(t, f.mem.Selects(k), k)
	}
	assert.Zero(t, f.mem.Subscribers())

	_, err = comments.Add(ctx, "hello", false)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCloseIsIdempotent(t *testing.T) {
	f := newFixture(t)
	post := f.post(f.alice)

	c, err := OpenComments(context.Background(), f.deps(f.alice), post)
	require.NoError(t, err)
	assert.Equal(t, Synced, c.State())
	assert.Equal(t, 1, f.mem.Subscribers())

	assert.NotPanics(t, func() {
		c.Close()
		c.Close()
	})
	assert.Equal(t, Closed, c.State())
	assert.Zero(t, f.mem.Subscribers())

	r, err := OpenReactions(context.Background(), f.deps(f.alice), post)
	require.NoError(t, err)
	assert.Equal(t, 2, f.mem.Subscribers())
	r.Close()
	r.Close()
	assert.Zero(t, f.mem.Subscribers())

	idle, err := OpenComments(context.Background(), f.deps(f.alice), "")
	require.NoError(t, err)
	idle.Close()
	idle.Close()
	assert.Equal(t, Closed, idle.State())
}

func TestStaleEventsAfterCloseAreDiscarded(t *testing.T) {
	f := newFixture(t)
	post := f.post(f.alice)
	d := f.deps(f.alice)
	d.Metrics = observability.NewMetrics(prometheus.NewRegistry())

	c, err := OpenComments(context.Background(), d, post)
	require.NoError(t, err)
	changes := 0
	c.OnChange(func() { changes++ })
	c.Close()

	late := backend.Event{Kind: backend.Comments, Type: backend.EventInsert, New: backend.Row{
		"id": uuid.NewString(), "post_id": post, "author_id": f.bob, "content": "late", "is_anonymous": false,
	}}
	f.mem.Emit(late)
	// an event already in flight when Close ran
	c.apply(late)

	assert.Empty(t, c.Items())
	assert.Zero(t, changes)
	assert.Equal(t, 1.0, testutil.ToFloat64(d.Metrics.EventsDroppedTotal.WithLabelValues(TopicComments, observability.DropStale)))

	r, err := OpenReactions(context.Background(), d, post)
	require.NoError(t, err)
	before := r.Current()
	r.Close()
	r.onPost(backend.Event{Kind: backend.Posts, Type: backend.EventUpdate, New: backend.Row{"id": post, "likes_count": 9, "dislikes_count": 9}})
	r.onReaction(backend.Event{Kind: backend.PostReactions, Type: backend.EventInsert, New: backend.Row{"post_id": post, "user_id": f.alice, "reaction_type": "like"}})
	assert.Equal(t, before, r.Current())
}

func TestCommentRoundTrip(t *testing.T) {
	f := newFixture(t)
	post := f.post(f.bob)
	ctx := context.Background()

	c, err := OpenComments(ctx, f.deps(f.alice), post)
	require.NoError(t, err)
	require.Empty(t, c.Items())

	_, err = c.Add(ctx, "hello", false)
	require.NoError(t, err)

	items := c.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "hello", items[0].Content)
	require.NotNil(t, items[0].AuthorID)
	assert.Equal(t, f.alice, *items[0].AuthorID)
	assert.False(t, items[0].IsAnonymous)
	require.NotNil(t, items[0].Author, "insert events are hydrated with the author")
	assert.Equal(t, "alice", items[0].Author.Username)
}

func TestCollectionReconciliation(t *testing.T) {
	f := newFixture(t)
	post := f.post(f.bob)
	ctx := context.Background()
	svcComment, err := f.svc.Comments.Create(ctx, f.bob, post, models.CreateCommentRequest{Content: "seed"})
	require.NoError(t, err)

	c, err := OpenComments(ctx, f.deps(f.alice), post)
	require.NoError(t, err)
	require.Len(t, c.Items(), 1)
	require.NotNil(t, c.Items()[0].Author)

	// duplicate insert for a known id
	f.mem.Emit(backend.Event{Kind: backend.Comments, Type: backend.EventInsert, New: backend.Row{
		"id": svcComment.ID, "post_id": post, "content": "dup",
	}})
	assert.Equal(t, "seed", c.Items()[0].Content)

	// update for an unknown id is not synthesized
	f.mem.Emit(backend.Event{Kind: backend.Comments, Type: backend.EventUpdate, New: backend.Row{
		"id": uuid.NewString(), "post_id": post, "content": "ghost",
	}})
	assert.Len(t, c.Items(), 1)

	// update for a known id replaces in place and keeps the author block
	f.mem.Emit(backend.Event{Kind: backend.Comments, Type: backend.EventUpdate, New: backend.Row{
		"id": svcComment.ID, "post_id": post, "author_id": f.bob, "content": "edited",
	}})
	require.Len(t, c.Items(), 1)
	assert.Equal(t, "edited", c.Items()[0].Content)
	assert.NotNil(t, c.Items()[0].Author)

	// events for other posts never match the scope
	f.mem.Emit(backend.Event{Kind: backend.Comments, Type: backend.EventInsert, New: backend.Row{
		"id": uuid.NewString(), "post_id": uuid.NewString(), "content": "elsewhere",
	}})
	assert.Len(t, c.Items(), 1)

	// deleting an unknown id is a no-op, a known id is removed
	f.mem.Emit(backend.Event{Kind: backend.Comments, Type: backend.EventDelete, Old: backend.Row{"id": uuid.NewString(), "post_id": post}})
	assert.Len(t, c.Items(), 1)
	f.mem.Emit(backend.Event{Kind: backend.Comments, Type: backend.EventDelete, Old: backend.Row{"id": svcComment.ID, "post_id": post}})
	assert.Empty(t, c.Items())
}

func TestInitialReadFailure(t *testing.T) {
	f := newFixture(t)
	post := f.post(f.alice)
	f.mem.FailSelect(backend.Comments, errors.New("connection refused"))

	c, err := OpenComments(context.Background(), f.deps(f.alice), post)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrBackend)
	assert.Equal(t, Error, c.State())
	assert.Equal(t, err, c.Err())
	assert.Empty(t, c.Items())
	assert.Zero(t, f.mem.Subscribers())

	f.mem.FailSelect(backend.Posts, errors.New("connection refused"))
	r, err := OpenReactions(context.Background(), f.deps(f.alice), post)
	require.Error(t, err)
	assert.Equal(t, Error, r.State())
}

// expectedMine is the reaction left after applying toggles from no reaction.
func expectedMine(toggles []models.ReactionKind) models.ReactionKind {
	cur := models.ReactionNone
	for _, k := range toggles {
		if cur == k {
			cur = models.ReactionNone
		} else {
			cur = k
		}
	}
	return cur
}

func allSequences(n int) [][]models.ReactionKind {
	if n == 0 {
		return [][]models.ReactionKind{{}}
	}
	var out [][]models.ReactionKind
	for _, prefix := range allSequences(n - 1) {
		for _, k := range []models.ReactionKind{models.ReactionLike, models.ReactionDislike} {
			seq := append(append([]models.ReactionKind{}, prefix...), k)
			out = append(out, seq)
		}
	}
	return out
}

func TestReactionToggleSequences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for n := 1; n <= 4; n++ {
		for _, seq := range allSequences(n) {
			t.Run(fmt.Sprint(seq), func(t *testing.T) {
				post := f.post(f.bob)
				r, err := OpenReactions(ctx, f.deps(f.alice), post)
				require.NoError(t, err)
				defer r.Close()

				for _, k := range seq {
					_, err := r.Toggle(ctx, k)
					require.NoError(t, err)
				}
				want := expectedMine(seq)
				st := r.Current()
				assert.Equal(t, want, st.Mine)
				assert.True(t, st.Likes.Confirmed)
				assert.Equal(t, boolToInt(want == models.ReactionLike), st.Likes.Value)
				assert.Equal(t, boolToInt(want == models.ReactionDislike), st.Dislikes.Value)
			})
		}
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func TestReactionSwitchScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := f.post(f.bob)

	r, err := OpenReactions(ctx, f.deps(f.alice), post)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, Counter{Value: 0, Confirmed: true}, r.Current().Likes)

	// hold delivery so only the optimistic effect is visible
	f.mem.Hold()
	got, err := r.Toggle(ctx, models.ReactionLike)
	require.NoError(t, err)
	assert.Equal(t, models.ReactionLike, got)
	st := r.Current()
	assert.Equal(t, models.ReactionLike, st.Mine)
	assert.Equal(t, Counter{Value: 1, Confirmed: false}, st.Likes)

	_, err = r.Toggle(ctx, models.ReactionDislike)
	require.NoError(t, err)
	st = r.Current()
	assert.Equal(t, models.ReactionDislike, st.Mine)
	assert.Equal(t, 0, st.Likes.Value)
	assert.Equal(t, 1, st.Dislikes.Value)

	// the authoritative post update arrives before the queued events
	r.onPost(backend.Event{Kind: backend.Posts, Type: backend.EventUpdate, New: backend.Row{
		"id": post, "likes_count": 5, "dislikes_count": 3,
	}})
	st = r.Current()
	assert.Equal(t, Counter{Value: 5, Confirmed: true}, st.Likes)
	assert.Equal(t, Counter{Value: 3, Confirmed: true}, st.Dislikes)
	assert.Equal(t, models.ReactionDislike, st.Mine)

	f.mem.Flush()
	st = r.Current()
	assert.Equal(t, models.ReactionDislike, st.Mine)
	assert.Equal(t, Counter{Value: 0, Confirmed: true}, st.Likes)
	assert.Equal(t, Counter{Value: 1, Confirmed: true}, st.Dislikes)

	// another writer's change is authoritative as well
	f.mem.Emit(backend.Event{Kind: backend.Posts, Type: backend.EventUpdate, New: backend.Row{
		"id": post, "likes_count": 5, "dislikes_count": 3,
	}})
	st = r.Current()
	assert.Equal(t, 5, st.Likes.Value)
	assert.Equal(t, 3, st.Dislikes.Value)
}

func TestAuthoritativeCounterAlwaysWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i, seq := range allSequences(3) {
		post := f.post(f.bob)
		r, err := OpenReactions(ctx, f.deps(f.alice), post)
		require.NoError(t, err)

		f.mem.Hold()
		for _, k := range seq {
			_, err := r.Toggle(ctx, k)
			require.NoError(t, err)
		}
		r.onPost(backend.Event{Kind: backend.Posts, Type: backend.EventUpdate, New: backend.Row{
			"id": post, "likes_count": 40 + i, "dislikes_count": i,
		}})
		st := r.Current()
		assert.Equal(t, Counter{Value: 40 + i, Confirmed: true}, st.Likes, "seq %v", seq)
		assert.Equal(t, Counter{Value: i, Confirmed: true}, st.Dislikes, "seq %v", seq)

		f.mem.Flush()
		r.Close()
	}
}

func TestOtherUsersReactionsOnlyMoveCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := f.post(f.alice)

	r, err := OpenReactions(ctx, f.deps(f.alice), post)
	require.NoError(t, err)
	defer r.Close()

	_, err = f.svc.Reactions.Toggle(ctx, f.bob, post, models.ReactionDislike)
	require.NoError(t, err)

	st := r.Current()
	assert.Equal(t, models.ReactionNone, st.Mine)
	assert.Equal(t, 1, st.Dislikes.Value)

	// every reaction event triggers a count refetch
	before := f.mem.Selects(backend.Posts)
	_, err = f.svc.Reactions.Toggle(ctx, f.bob, post, models.ReactionDislike)
	require.NoError(t, err)
	assert.Greater(t, f.mem.Selects(backend.Posts), before)
	assert.Equal(t, 0, r.Current().Dislikes.Value)
}

func TestToggleRollsBackOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := f.post(f.bob)

	r, err := OpenReactions(ctx, f.deps(f.alice), post)
	require.NoError(t, err)
	defer r.Close()
	before := r.Current()

	var seen []ReactionState
	r.OnChange(func() { seen = append(seen, r.Current()) })

	f.mem.FailWrite(backend.PostReactions, errors.New("write timeout"))
	_, err = r.Toggle(ctx, models.ReactionLike)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrBackend)

	require.Len(t, seen, 2, "optimistic change, then resync")
	assert.Equal(t, models.ReactionLike, seen[0].Mine)
	assert.Equal(t, before, r.Current())
}

func TestUnauthenticatedMutateLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := f.post(f.alice)
	_, err := f.svc.Comments.Create(ctx, f.alice, post, models.CreateCommentRequest{Content: "existing"})
	require.NoError(t, err)
	anon := f.deps("")

	c, err := OpenComments(ctx, anon, post)
	require.NoError(t, err)
	before := c.Items()
	_, err = c.Add(ctx, "hello", false)
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
	assert.Equal(t, before, c.Items())

	r, err := OpenReactions(ctx, anon, post)
	require.NoError(t, err)
	st := r.Current()
	_, err = r.Toggle(ctx, models.ReactionLike)
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
	assert.Equal(t, st, r.Current())

	conv, err := OpenConversation(ctx, anon, f.bob)
	require.NoError(t, err)
	assert.Equal(t, Idle, conv.State())
	_, err = conv.Send(ctx, models.SendMessageRequest{Content: "hi"})
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)

	notes, err := OpenNotifications(ctx, anon, f.alice)
	require.NoError(t, err)
	_, err = notes.MarkAllRead(ctx)
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
}

func TestMutateOnClosedHandle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := f.post(f.alice)

	c, err := OpenComments(ctx, f.deps(f.alice), post)
	require.NoError(t, err)
	c.Close()
	_, err = c.Add(ctx, "late", false)
	assert.ErrorIs(t, err, apperr.ErrClosed)

	r, err := OpenReactions(ctx, f.deps(f.alice), post)
	require.NoError(t, err)
	r.Close()
	_, err = r.Toggle(ctx, models.ReactionLike)
	assert.ErrorIs(t, err, apperr.ErrClosed)
}

func TestConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	carol := f.profile("carol")

	conv, err := OpenConversation(ctx, f.deps(f.alice), f.bob)
	require.NoError(t, err)

	sent, err := conv.Send(ctx, models.SendMessageRequest{Content: "hi bob"})
	require.NoError(t, err)
	assert.Equal(t, f.bob, sent.ReceiverID)

	reply, err := f.svc.Messages.Send(ctx, f.bob, models.SendMessageRequest{ReceiverID: f.alice, Content: "hey"})
	require.NoError(t, err)
	_, err = f.svc.Messages.Send(ctx, carol, models.SendMessageRequest{ReceiverID: f.alice, Content: "not in this chat"})
	require.NoError(t, err)

	items := conv.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "hi bob", items[0].Content)
	assert.Equal(t, "hey", items[1].Content)
	require.NotNil(t, items[1].Sender)
	assert.Equal(t, "bob", items[1].Sender.Username)

	require.NoError(t, conv.MarkRead(ctx, reply.ID))
	items = conv.Items()
	assert.True(t, items[1].IsRead)
	require.NotNil(t, items[1].Sender, "updates keep the hydrated sender")

	inbox, err := OpenInbox(ctx, f.deps(f.alice), f.alice)
	require.NoError(t, err)
	require.Len(t, inbox.Items(), 2)
	assert.Equal(t, "not in this chat", inbox.Items()[0].Content)
}

func TestNotifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n, err := OpenNotifications(ctx, f.deps(f.alice), f.alice)
	require.NoError(t, err)

	_, err = f.svc.Friends.Request(ctx, f.bob, models.FriendRequest{AddresseeID: f.alice})
	require.NoError(t, err)
	_, err = f.svc.Notifications.Create(ctx, models.Notification{UserID: f.alice, Title: "Welcome"})
	require.NoError(t, err)
	_, err = f.svc.Notifications.Create(ctx, models.Notification{UserID: f.bob, Title: "Not yours"})
	require.NoError(t, err)

	items := n.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "Welcome", items[0].Title, "newest first")
	assert.Equal(t, models.NotificationFriendRequest, items[1].Type)
	assert.Equal(t, 2, n.UnreadCount())

	require.NoError(t, n.MarkRead(ctx, items[0].ID))
	assert.Equal(t, 1, n.UnreadCount())
	changed, err := n.MarkAllRead(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	assert.Zero(t, n.UnreadCount())
}

func TestRegistrySingleOwnerPerKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.deps(f.alice)
	post := f.post(f.alice)
	other := f.post(f.alice)
	reg := NewRegistry()

	open := func(key string) func() (Handle, error) {
		return func() (Handle, error) { return OpenComments(ctx, d, key) }
	}

	first, err := reg.Open(TopicComments, post, open(post))
	require.NoError(t, err)
	second, err := reg.Open(TopicComments, post, open(post))
	require.NoError(t, err)

	assert.Equal(t, Closed, first.State())
	assert.Equal(t, Synced, second.State())
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, 1, f.mem.Subscribers())

	got, ok := reg.Get(TopicComments, post)
	require.True(t, ok)
	assert.Same(t, second, got)

	_, err = reg.Open(TopicComments, other, open(other))
	require.NoError(t, err)
	_, err = reg.Open(TopicReactions, post, func() (Handle, error) { return OpenReactions(ctx, d, post) })
	require.NoError(t, err)
	assert.Equal(t, 3, reg.Len())
	assert.Equal(t, 4, f.mem.Subscribers())

	reg.Close(TopicComments, other)
	reg.Close(TopicComments, "missing")
	assert.Equal(t, 2, reg.Len())

	reg.CloseAll()
	assert.Zero(t, reg.Len())
	assert.Zero(t, f.mem.Subscribers())
	assert.Equal(t, Closed, second.State())

	_, err = reg.Open(TopicComments, post, open(post))
	assert.ErrorIs(t, err, apperr.ErrClosed)
}

func TestRegistryKeepsFailedHandle(t *testing.T) {
	f := newFixture(t)
	post := f.post(f.alice)
	f.mem.FailSelect(backend.Comments, errors.New("down"))
	reg := NewRegistry()

	h, err := reg.Open(TopicComments, post, func() (Handle, error) {
		return OpenComments(context.Background(), f.deps(f.alice), post)
	})
	require.Error(t, err)
	require.NotNil(t, h)
	assert.Equal(t, Error, h.State())
	assert.Equal(t, 1, reg.Len())

	f.mem.FailSelect(backend.Comments, nil)
	h, err = reg.Open(TopicComments, post, func() (Handle, error) {
		return OpenComments(context.Background(), f.deps(f.alice), post)
	})
	require.NoError(t, err)
	assert.Equal(t, Synced, h.State())
}
