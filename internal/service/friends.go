package service

import (
	"context"

	"github.com/emilythestrangee/campusnet/backend/internal/apperr"
	"github.com/emilythestrangee/campusnet/backend/internal/backend"
	"github.com/emilythestrangee/campusnet/backend/internal/cache"
	"github.com/emilythestrangee/campusnet/backend/internal/models"
)

type Friends struct{ base }

func involving(viewer string) backend.Predicate {
	return backend.Or(backend.Eq("requester_id", viewer), backend.Eq("addressee_id", viewer))
}

// List returns every friendship the viewer takes part in, newest first.
func (s *Friends) List(ctx context.Context, viewer string) ([]models.Friendship, error) {
	if err := requireViewer(viewer); err != nil {
		return nil, err
	}
	return cache.Fetch(ctx, s.cache, backend.Friendships, []any{viewer}, func(ctx context.Context) ([]models.Friendship, error) {
		rows, err := s.selectRows(ctx, backend.Query{
			Kind:  backend.Friendships,
			Where: involving(viewer),
			Order: []backend.Order{backend.Desc("created_at")},
		}, "Failed to fetch friends")
		if err != nil {
			return nil, err
		}
		return decodeAll[models.Friendship](rows, "Failed to fetch friends")
	})
}

// Request sends a pending friend request from viewer. A request in either
// direction between the same two users is rejected.
func (s *Friends) Request(ctx context.Context, viewer string, req models.FriendRequest) (*models.Friendship, error) {
	if err := requireViewer(viewer); err != nil {
		return nil, err
	}
	if err := apperr.Validate(req); err != nil {
		return nil, err
	}
	if req.AddresseeID == viewer {
		return nil, apperr.Validation("addressee_id", "cannot be yourself")
	}
	if _, err := s.one(ctx, backend.Profiles, backend.Eq("id", req.AddresseeID), "User"); err != nil {
		return nil, err
	}
	existing, err := s.selectRows(ctx, backend.Query{
		Kind: backend.Friendships,
		Where: backend.Or(
			backend.And(backend.Eq("requester_id", viewer), backend.Eq("addressee_id", req.AddresseeID)),
			backend.And(backend.Eq("requester_id", req.AddresseeID), backend.Eq("addressee_id", viewer)),
		),
		Limit: 1,
	}, "Failed to send friend request")
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, apperr.Validation("addressee_id", "a friendship already exists")
	}

	rows, err := s.write(ctx, backend.Mutation{Kind: backend.Friendships, Op: backend.Insert, Values: backend.Row{
		"requester_id": viewer,
		"addressee_id": req.AddresseeID,
		"status":       string(models.FriendPending),
	}}, "Failed to send friend request")
	if err != nil {
		return nil, err
	}
	f, err := decodeOne[models.Friendship](rows[0], "Failed to send friend request")
	if err != nil {
		return nil, err
	}
	s.notify(ctx, models.Notification{
		UserID: req.AddresseeID,
		Type:   models.NotificationFriendRequest,
		Title:  "New friend request",
		Data:   jsonData(map[string]any{"friendship_id": f.ID, "requester_id": viewer}),
	})
	return f, nil
}

// Respond accepts, rejects or blocks a pending request addressed to viewer.
func (s *Friends) Respond(ctx context.Context, viewer, id string, resp models.FriendResponse) (*models.Friendship, error) {
	if err := requireViewer(viewer); err != nil {
		return nil, err
	}
	if err := apperr.Validate(resp); err != nil {
		return nil, err
	}
	where := backend.And(
		backend.Eq("id", id),
		backend.Eq("addressee_id", viewer),
		backend.Eq("status", string(models.FriendPending)),
	)
	rows, err := s.write(ctx, backend.Mutation{
		Kind:   backend.Friendships,
		Op:     backend.Update,
		Values: backend.Row{"status": string(resp.Status)},
		Where:  where,
	}, "Failed to respond to friend request")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperr.NotFound("Friend request")
	}
	return decodeOne[models.Friendship](rows[0], "Failed to respond to friend request")
}

// Star marks or unmarks a friendship of the viewer as a favourite.
func (s *Friends) Star(ctx context.Context, viewer, id string, starred bool) (*models.Friendship, error) {
	if err := requireViewer(viewer); err != nil {
		return nil, err
	}
	rows, err := s.write(ctx, backend.Mutation{
		Kind:   backend.Friendships,
		Op:     backend.Update,
		Values: backend.Row{"is_starred": starred},
		Where:  backend.And(backend.Eq("id", id), involving(viewer)),
	}, "Failed to update friend")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperr.NotFound("Friend")
	}
	return decodeOne[models.Friendship](rows[0], "Failed to update friend")
}
