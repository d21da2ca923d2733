package service

import (
	"context"
	"strings"

	"github.com/emilythestrangee/campusnet/backend/internal/apperr"
	"github.com/emilythestrangee/campusnet/backend/internal/backend"
	"github.com/emilythestrangee/campusnet/backend/internal/cache"
	"github.com/emilythestrangee/campusnet/backend/internal/models"
)

type Comments struct{ base }

// List returns the comments of a post, oldest first.
func (s *Comments) List(ctx context.Context, postID string) ([]models.Comment, error) {
	if postID == "" {
		return []models.Comment{}, nil
	}
	return cache.Fetch(ctx, s.cache, backend.Comments, []any{postID}, func(ctx context.Context) ([]models.Comment, error) {
		rows, err := s.selectRows(ctx, backend.Query{
			Kind:  backend.Comments,
			Where: backend.Eq("post_id", postID),
			Order: []backend.Order{backend.Asc("created_at")},
		}, "Failed to fetch comments")
		if err != nil {
			return nil, err
		}
		comments, err := decodeAll[models.Comment](rows, "Failed to fetch comments")
		if err != nil {
			return nil, err
		}
		return comments, s.Hydrate(ctx, comments)
	})
}

// Hydrate attaches author summaries to non-anonymous comments.
func (s *Comments) Hydrate(ctx context.Context, comments []models.Comment) error {
	var ids []string
	for _, c := range comments {
		if !c.IsAnonymous && c.AuthorID != nil {
			ids = append(ids, *c.AuthorID)
		}
	}
	authors, err := s.summaries(ctx, ids)
	if err != nil {
		return err
	}
	for i := range comments {
		if !comments[i].IsAnonymous && comments[i].AuthorID != nil {
			comments[i].Author = authors[*comments[i].AuthorID]
		}
	}
	return nil
}

// Create adds a comment to a post and notifies the post's author.
func (s *Comments) Create(ctx context.Context, viewer, postID string, req models.CreateCommentRequest) (*models.Comment, error) {
	if err := requireViewer(viewer); err != nil {
		return nil, err
	}
	if postID == "" {
		return nil, apperr.Validation("post_id", "is required")
	}
	if err := apperr.Validate(req); err != nil {
		return nil, err
	}
	postRow, err := s.one(ctx, backend.Posts, backend.Eq("id", postID), "Post")
	if err != nil {
		return nil, err
	}
	anonymous := req.IsAnonymous != nil && *req.IsAnonymous

	rows, err := s.write(ctx, backend.Mutation{Kind: backend.Comments, Op: backend.Insert, Values: backend.Row{
		"post_id":      postID,
		"author_id":    viewer,
		"content":      strings.TrimSpace(req.Content),
		"is_anonymous": anonymous,
	}}, "Failed to add comment", backend.Posts)
	if err != nil {
		return nil, err
	}
	comment, err := decodeOne[models.Comment](rows[0], "Failed to add comment")
	if err != nil {
		return nil, err
	}

	if author := postRow.String("author_id"); author != "" && author != viewer {
		s.notify(ctx, models.Notification{
			UserID: author,
			Type:   models.NotificationComment,
			Title:  "New comment on your post",
			Data:   jsonData(map[string]any{"post_id": postID, "comment_id": comment.ID}),
		})
	}
	return comment, nil
}
