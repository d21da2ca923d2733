package service

import (
	"context"
	"strings"

	"github.com/emilythestrangee/campusnet/backend/internal/apperr"
	"github.com/emilythestrangee/campusnet/backend/internal/backend"
	"github.com/emilythestrangee/campusnet/backend/internal/cache"
	"github.com/emilythestrangee/campusnet/backend/internal/models"
)

type Messages struct{ base }

// Between matches the messages exchanged by a and b in either direction.
func Between(a, b string) backend.Predicate {
	return backend.Or(
		backend.And(backend.Eq("sender_id", a), backend.Eq("receiver_id", b)),
		backend.And(backend.Eq("sender_id", b), backend.Eq("receiver_id", a)),
	)
}

// Conversation returns the messages between viewer and peer, oldest first.
func (s *Messages) Conversation(ctx context.Context, viewer, peer string) ([]models.Message, error) {
	if err := requireViewer(viewer); err != nil {
		return nil, err
	}
	if peer == "" {
		return []models.Message{}, nil
	}
	return cache.Fetch(ctx, s.cache, backend.Messages, []any{"conversation", viewer, peer}, func(ctx context.Context) ([]models.Message, error) {
		return s.list(ctx, backend.Query{
			Kind:  backend.Messages,
			Where: Between(viewer, peer),
			Order: []backend.Order{backend.Asc("created_at")},
		})
	})
}

// Inbox returns the messages received by viewer, newest first.
func (s *Messages) Inbox(ctx context.Context, viewer string) ([]models.Message, error) {
	if err := requireViewer(viewer); err != nil {
		return nil, err
	}
	return cache.Fetch(ctx, s.cache, backend.Messages, []any{"inbox", viewer}, func(ctx context.Context) ([]models.Message, error) {
		return s.list(ctx, backend.Query{
			Kind:  backend.Messages,
			Where: backend.Eq("receiver_id", viewer),
			Order: []backend.Order{backend.Desc("created_at")},
		})
	})
}

func (s *Messages) list(ctx context.Context, q backend.Query) ([]models.Message, error) {
	rows, err := s.selectRows(ctx, q, "Failed to fetch messages")
	if err != nil {
		return nil, err
	}
	msgs, err := decodeAll[models.Message](rows, "Failed to fetch messages")
	if err != nil {
		return nil, err
	}
	return msgs, s.Hydrate(ctx, msgs)
}

// Hydrate attaches sender summaries. Anonymous messages keep no sender block.
func (s *Messages) Hydrate(ctx context.Context, msgs []models.Message) error {
	var ids []string
	for _, m := range msgs {
		if m.MessageType != models.MessageAnonymous {
			ids = append(ids, m.SenderID)
		}
	}
	senders, err := s.summaries(ctx, ids)
	if err != nil {
		return err
	}
	for i := range msgs {
		if msgs[i].MessageType != models.MessageAnonymous {
			msgs[i].Sender = senders[msgs[i].SenderID]
		}
	}
	return nil
}

// Send delivers a message from viewer and notifies the receiver.
func (s *Messages) Send(ctx context.Context, viewer string, req models.SendMessageRequest) (*models.Message, error) {
	if err := requireViewer(viewer); err != nil {
		return nil, err
	}
	if err := apperr.Validate(req); err != nil {
		return nil, err
	}
	if req.ReceiverID == viewer {
		return nil, apperr.Validation("receiver_id", "cannot be yourself")
	}
	if req.MessageType == "" {
		req.MessageType = models.MessageDirect
	}
	if _, err := s.one(ctx, backend.Profiles, backend.Eq("id", req.ReceiverID), "Receiver"); err != nil {
		return nil, err
	}

	values := backend.Row{
		"sender_id":    viewer,
		"receiver_id":  req.ReceiverID,
		"content":      strings.TrimSpace(req.Content),
		"message_type": string(req.MessageType),
	}
	if len(req.Images) > 0 {
		values["images"] = req.Images
	}
	rows, err := s.write(ctx, backend.Mutation{Kind: backend.Messages, Op: backend.Insert, Values: values}, "Failed to send message")
	if err != nil {
		return nil, err
	}
	msg, err := decodeOne[models.Message](rows[0], "Failed to send message")
	if err != nil {
		return nil, err
	}

	title := "New message"
	if msg.MessageType == models.MessageAnonymous {
		title = "New anonymous message"
	}
	s.notify(ctx, models.Notification{
		UserID: req.ReceiverID,
		Type:   models.NotificationMessage,
		Title:  title,
		Data:   jsonData(map[string]any{"message_id": msg.ID}),
	})
	return msg, nil
}

// MarkRead marks a message received by viewer as read.
func (s *Messages) MarkRead(ctx context.Context, viewer, id string) error {
	if err := requireViewer(viewer); err != nil {
		return err
	}
	rows, err := s.write(ctx, backend.Mutation{
		Kind:   backend.Messages,
		Op:     backend.Update,
		Values: backend.Row{"is_read": true},
		Where:  backend.And(backend.Eq("id", id), backend.Eq("receiver_id", viewer)),
	}, "Failed to update message")
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return apperr.NotFound("Message")
	}
	return nil
}
