// Package service holds the read and write operations behind the HTTP API and
// the realtime gateway. Reads go through the query cache; every successful
// write invalidates the kinds it touched.
package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/emilythestrangee/campusnet/backend/internal/apperr"
	"github.com/emilythestrangee/campusnet/backend/internal/backend"
	"github.com/emilythestrangee/campusnet/backend/internal/cache"
	"github.com/emilythestrangee/campusnet/backend/internal/models"
)

// Services groups one service per entity kind.
type Services struct {
	Posts         *Posts
	Reactions     *Reactions
	Comments      *Comments
	Messages      *Messages
	Profiles      *Profiles
	Schedules     *Schedules
	Notifications *Notifications
	Friends       *Friends
	Groups        *Groups
}

func New(client backend.Client, c *cache.Cache, logger *slog.Logger) *Services {
	if logger == nil {
		logger = slog.Default()
	}
	b := base{client: client, cache: c, log: logger}
	notifications := &Notifications{base: b}
	b.notifications = notifications
	return &Services{
		Posts:         &Posts{base: b},
		Reactions:     &Reactions{base: b},
		Comments:      &Comments{base: b},
		Messages:      &Messages{base: b},
		Profiles:      &Profiles{base: b},
		Schedules:     &Schedules{base: b},
		Notifications: notifications,
		Friends:       &Friends{base: b},
		Groups:        &Groups{base: b},
	}
}

type base struct {
	client        backend.Client
	cache         *cache.Cache
	log           *slog.Logger
	notifications *Notifications
}

func (b base) selectRows(ctx context.Context, q backend.Query, msg string) ([]backend.Row, error) {
	rows, err := b.client.Select(ctx, q)
	if err != nil {
		return nil, apperr.Backend(msg, err)
	}
	return rows, nil
}

// write runs m and invalidates m.Kind plus also on success.
func (b base) write(ctx context.Context, m backend.Mutation, msg string, also ...backend.Kind) ([]backend.Row, error) {
	rows, err := b.client.Write(ctx, m)
	if err != nil {
		return nil, apperr.Backend(msg, err)
	}
	b.cache.Invalidate(append([]backend.Kind{m.Kind}, also...)...)
	return rows, nil
}

// one loads a single row by predicate, or NotFound(what).
func (b base) one(ctx context.Context, kind backend.Kind, where backend.Predicate, what string) (backend.Row, error) {
	rows, err := b.selectRows(ctx, backend.Query{Kind: kind, Where: where, Limit: 1}, "Failed to load "+strings.ToLower(what))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperr.NotFound(what)
	}
	return rows[0], nil
}

// summaries loads username and display name for the given profile ids.
func (b base) summaries(ctx context.Context, ids []string) (map[string]*models.ProfileSummary, error) {
	out := make(map[string]*models.ProfileSummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	vals := make([]any, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id != "" && !seen[id] {
			seen[id] = true
			vals = append(vals, id)
		}
	}
	rows, err := b.selectRows(ctx, backend.Query{Kind: backend.Profiles, Where: backend.In("id", vals...)}, "Failed to load profiles")
	if err != nil {
		return nil, err
	}
	profiles, err := backend.DecodeRows[models.Profile](rows)
	if err != nil {
		return nil, apperr.Backend("Failed to load profiles", err)
	}
	for _, p := range profiles {
		out[p.ID] = p.Summary()
	}
	return out, nil
}

// notify records a notification for userID. Failures are logged; the write
// that caused the notification has already succeeded.
func (b base) notify(ctx context.Context, n models.Notification) {
	if b.notifications == nil || n.UserID == "" {
		return
	}
	if _, err := b.notifications.Create(ctx, n); err != nil {
		b.log.Warn("create notification failed", "user_id", n.UserID, "type", n.Type, "error", err)
	}
}

func requireViewer(viewer string) error {
	if viewer == "" {
		return apperr.Unauthenticated()
	}
	return nil
}

func decodeOne[T any](row backend.Row, msg string) (*T, error) {
	var v T
	if err := row.Decode(&v); err != nil {
		return nil, apperr.Backend(msg, err)
	}
	return &v, nil
}

func decodeAll[T any](rows []backend.Row, msg string) ([]T, error) {
	out, err := backend.DecodeRows[T](rows)
	if err != nil {
		return nil, apperr.Backend(msg, err)
	}
	return out, nil
}

func optional(s string) any {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return nil
}

func optionalPtr(s *string) any {
	if s == nil {
		return nil
	}
	return optional(*s)
}
