package realtime

import (
	"context"

	"github.com/emilythestrangee/campusnet/backend/internal/backend"
	"github.com/emilythestrangee/campusnet/backend/internal/models"
	"github.com/emilythestrangee/campusnet/backend/internal/service"
)

// Topic names used by the Registry and the gateway.
const (
	TopicComments      = "comments"
	TopicReactions     = "reactions"
	TopicConversation  = "conversation"
	TopicInbox         = "inbox"
	TopicNotifications = "notifications"
)

// Comments mirrors the comments of one post, oldest first.
type Comments struct {
	*Collection[models.Comment]
	deps Deps
}

func OpenComments(ctx context.Context, d Deps, postID string) (*Comments, error) {
	src := Source[models.Comment]{
		Topic:   TopicComments,
		Kind:    backend.Comments,
		Scope:   func(key string) backend.Predicate { return backend.Eq("post_id", key) },
		Order:   []backend.Order{backend.Asc("created_at")},
		Hydrate: d.Services.Comments.Hydrate,
		Merge: func(local, updated models.Comment) models.Comment {
			updated.Author = local.Author
			return updated
		},
	}
	c, err := OpenCollection(ctx, d, src, postID)
	return &Comments{Collection: c, deps: d}, err
}

// Add posts a comment as the signed-in user. The comment shows up locally
// when its insert event arrives.
func (c *Comments) Add(ctx context.Context, content string, anonymous bool) (*models.Comment, error) {
	viewer, err := c.writable(c.deps)
	if err != nil {
		return nil, err
	}
	return c.deps.Services.Comments.Create(ctx, viewer, c.key, models.CreateCommentRequest{
		Content:     content,
		IsAnonymous: &anonymous,
	})
}

func mergeMessage(local, updated models.Message) models.Message {
	updated.Sender = local.Sender
	return updated
}

// Messages mirrors a set of messages: one conversation or one inbox.
type Messages struct {
	*Collection[models.Message]
	deps Deps
}

// OpenConversation tracks the messages between the signed-in user and peer,
// oldest first. Without a signed-in user it stays Idle.
func OpenConversation(ctx context.Context, d Deps, peer string) (*Messages, error) {
	viewer := d.viewer()
	key := peer
	if viewer == "" {
		key = ""
	}
	src := Source[models.Message]{
		Topic:   TopicConversation,
		Kind:    backend.Messages,
		Scope:   func(key string) backend.Predicate { return service.Between(viewer, key) },
		Order:   []backend.Order{backend.Asc("created_at")},
		Events:  []backend.EventType{backend.EventInsert, backend.EventUpdate},
		Hydrate: d.Services.Messages.Hydrate,
		Merge:   mergeMessage,
	}
	c, err := OpenCollection(ctx, d, src, key)
	return &Messages{Collection: c, deps: d}, err
}

// OpenInbox tracks the messages received by userID, newest first.
func OpenInbox(ctx context.Context, d Deps, userID string) (*Messages, error) {
	src := Source[models.Message]{
		Topic:       TopicInbox,
		Kind:        backend.Messages,
		Scope:       func(key string) backend.Predicate { return backend.Eq("receiver_id", key) },
		Order:       []backend.Order{backend.Desc("created_at")},
		NewestFirst: true,
		Events:      []backend.EventType{backend.EventInsert, backend.EventUpdate},
		Hydrate:     d.Services.Messages.Hydrate,
		Merge:       mergeMessage,
	}
	c, err := OpenCollection(ctx, d, src, userID)
	return &Messages{Collection: c, deps: d}, err
}

// Send writes a message from the signed-in user. In a conversation the
// receiver is the peer; in an inbox it must be given.
func (m *Messages) Send(ctx context.Context, req models.SendMessageRequest) (*models.Message, error) {
	viewer, err := m.writable(m.deps)
	if err != nil {
		return nil, err
	}
	if m.topic == TopicConversation {
		req.ReceiverID = m.key
	}
	return m.deps.Services.Messages.Send(ctx, viewer, req)
}

func (m *Messages) MarkRead(ctx context.Context, id string) error {
	viewer, err := m.writable(m.deps)
	if err != nil {
		return err
	}
	return m.deps.Services.Messages.MarkRead(ctx, viewer, id)
}

// Notifications mirrors the newest notifications of one user.
type Notifications struct {
	*Collection[models.Notification]
	deps Deps
}

func OpenNotifications(ctx context.Context, d Deps, userID string) (*Notifications, error) {
	src := Source[models.Notification]{
		Topic:       TopicNotifications,
		Kind:        backend.Notifications,
		Scope:       func(key string) backend.Predicate { return backend.Eq("user_id", key) },
		Order:       []backend.Order{backend.Desc("created_at")},
		NewestFirst: true,
		Limit:       service.NotificationLimit,
		Events:      []backend.EventType{backend.EventInsert, backend.EventUpdate},
	}
	c, err := OpenCollection(ctx, d, src, userID)
	return &Notifications{Collection: c, deps: d}, err
}

func (n *Notifications) UnreadCount() int {
	count := 0
	for _, it := range n.Items() {
		if !it.IsRead {
			count++
		}
	}
	return count
}

func (n *Notifications) MarkRead(ctx context.Context, id string) error {
	viewer, err := n.writable(n.deps)
	if err != nil {
		return err
	}
	return n.deps.Services.Notifications.MarkRead(ctx, viewer, id)
}

func (n *Notifications) MarkAllRead(ctx context.Context) (int, error) {
	viewer, err := n.writable(n.deps)
	if err != nil {
		return 0, err
	}
	return n.deps.Services.Notifications.MarkAllRead(ctx, viewer)
}
