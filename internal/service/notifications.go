package service

import (
	"context"
	"encoding/json"

	"gorm.io/datatypes"

	"github.com/emilythestrangee/campusnet/backend/internal/apperr"
	"github.com/emilythestrangee/campusnet/backend/internal/backend"
	"github.com/emilythestrangee/campusnet/backend/internal/cache"
	"github.com/emilythestrangee/campusnet/backend/internal/models"
)

// NotificationLimit caps how many notifications a listing returns.
const NotificationLimit = 50

type Notifications struct{ base }

func jsonData(v map[string]any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// List returns the viewer's newest notifications.
func (s *Notifications) List(ctx context.Context, viewer string) ([]models.Notification, error) {
	if err := requireViewer(viewer); err != nil {
		return nil, err
	}
	return cache.Fetch(ctx, s.cache, backend.Notifications, []any{viewer}, func(ctx context.Context) ([]models.Notification, error) {
		rows, err := s.selectRows(ctx, backend.Query{
			Kind:  backend.Notifications,
			Where: backend.Eq("user_id", viewer),
			Order: []backend.Order{backend.Desc("created_at")},
			Limit: NotificationLimit,
		}, "Failed to fetch notifications")
		if err != nil {
			return nil, err
		}
		return decodeAll[models.Notification](rows, "Failed to fetch notifications")
	})
}

// Create stores a notification for n.UserID.
func (s *Notifications) Create(ctx context.Context, n models.Notification) (*models.Notification, error) {
	if n.UserID == "" {
		return nil, apperr.Validation("user_id", "is required")
	}
	if n.Title == "" {
		return nil, apperr.Validation("title", "is required")
	}
	if n.Type == "" {
		n.Type = models.NotificationSystem
	}
	values := backend.Row{
		"user_id": n.UserID,
		"type":    string(n.Type),
		"title":   n.Title,
		"content": optionalPtr(n.Content),
	}
	if len(n.Data) > 0 {
		values["data"] = json.RawMessage(n.Data)
	}
	rows, err := s.write(ctx, backend.Mutation{Kind: backend.Notifications, Op: backend.Insert, Values: values}, "Failed to create notification")
	if err != nil {
		return nil, err
	}
	return decodeOne[models.Notification](rows[0], "Failed to create notification")
}

func (s *Notifications) MarkRead(ctx context.Context, viewer, id string) error {
	if err := requireViewer(viewer); err != nil {
		return err
	}
	rows, err := s.write(ctx, backend.Mutation{
		Kind:   backend.Notifications,
		Op:     backend.Update,
		Values: backend.Row{"is_read": true},
		Where:  backend.And(backend.Eq("id", id), backend.Eq("user_id", viewer)),
	}, "Failed to update notification")
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return apperr.NotFound("Notification")
	}
	return nil
}

// MarkAllRead marks every unread notification of the viewer as read and
// reports how many changed.
func (s *Notifications) MarkAllRead(ctx context.Context, viewer string) (int, error) {
	if err := requireViewer(viewer); err != nil {
		return 0, err
	}
	rows, err := s.write(ctx, backend.Mutation{
		Kind:   backend.Notifications,
		Op:     backend.Update,
		Values: backend.Row{"is_read": true},
		Where:  backend.And(backend.Eq("user_id", viewer), backend.Eq("is_read", false)),
	}, "Failed to update notifications")
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}
