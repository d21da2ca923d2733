package service

import (
	"context"
	"strings"

	"github.com/emilythestrangee/campusnet/backend/internal/apperr"
	"github.com/emilythestrangee/campusnet/backend/internal/backend"
	"github.com/emilythestrangee/campusnet/backend/internal/cache"
	"github.com/emilythestrangee/campusnet/backend/internal/models"
)

type Posts struct{ base }

// PostFilter narrows a board listing. Board is ignored unless it is one of the
// known board types; empty university and department match everything.
type PostFilter struct {
	Board      models.BoardType
	University string
	Department string
}

func (f PostFilter) predicate() backend.Predicate {
	var parts []backend.Predicate
	if f.Board.Valid() {
		parts = append(parts, backend.Eq("board_type", string(f.Board)))
	}
	if f.University != "" {
		parts = append(parts, backend.Eq("university", f.University))
	}
	if f.Department != "" {
		parts = append(parts, backend.Eq("department", f.Department))
	}
	if len(parts) == 0 {
		return nil
	}
	return backend.And(parts...)
}

// List returns posts newest first with author summaries attached to
// non-anonymous posts.
func (s *Posts) List(ctx context.Context, f PostFilter) ([]models.Post, error) {
	return cache.Fetch(ctx, s.cache, backend.Posts, []any{"list", f.Board, f.University, f.Department}, func(ctx context.Context) ([]models.Post, error) {
		rows, err := s.selectRows(ctx, backend.Query{
			Kind:  backend.Posts,
			Where: f.predicate(),
			Order: []backend.Order{backend.Desc("created_at")},
		}, "Failed to fetch posts")
		if err != nil {
			return nil, err
		}
		posts, err := decodeAll[models.Post](rows, "Failed to fetch posts")
		if err != nil {
			return nil, err
		}
		return posts, s.attachAuthors(ctx, posts)
	})
}

func (s *Posts) Get(ctx context.Context, id string) (*models.Post, error) {
	return cache.Fetch(ctx, s.cache, backend.Posts, []any{"get", id}, func(ctx context.Context) (*models.Post, error) {
		row, err := s.one(ctx, backend.Posts, backend.Eq("id", id), "Post")
		if err != nil {
			return nil, err
		}
		post, err := decodeOne[models.Post](row, "Failed to fetch post")
		if err != nil {
			return nil, err
		}
		posts := []models.Post{*post}
		if err := s.attachAuthors(ctx, posts); err != nil {
			return nil, err
		}
		return &posts[0], nil
	})
}

func (s *Posts) attachAuthors(ctx context.Context, posts []models.Post) error {
	var ids []string
	for _, p := range posts {
		if !p.IsAnonymous && p.AuthorID != nil {
			ids = append(ids, *p.AuthorID)
		}
	}
	authors, err := s.summaries(ctx, ids)
	if err != nil {
		return err
	}
	for i := range posts {
		if !posts[i].IsAnonymous && posts[i].AuthorID != nil {
			posts[i].Profiles = authors[*posts[i].AuthorID]
		}
	}
	return nil
}

// Create publishes a post. Anonymous posts carry no author reference.
func (s *Posts) Create(ctx context.Context, viewer string, req models.CreatePostRequest) (*models.Post, error) {
	if err := requireViewer(viewer); err != nil {
		return nil, err
	}
	if err := apperr.Validate(req); err != nil {
		return nil, err
	}
	if !req.BoardType.Valid() {
		return nil, apperr.Validation("board_type", "must be one of international, campus or department")
	}
	anonymous := req.IsAnonymous != nil && *req.IsAnonymous

	values := backend.Row{
		"title":        strings.TrimSpace(req.Title),
		"content":      strings.TrimSpace(req.Content),
		"board_type":   string(req.BoardType),
		"university":   optional(req.University),
		"department":   optional(req.Department),
		"is_anonymous": anonymous,
		"author_id":    viewer,
	}
	if anonymous {
		values["author_id"] = nil
	}
	if len(req.Images) > 0 {
		values["images"] = req.Images
	}

	rows, err := s.write(ctx, backend.Mutation{Kind: backend.Posts, Op: backend.Insert, Values: values}, "Failed to create post")
	if err != nil {
		return nil, err
	}
	post, err := decodeOne[models.Post](rows[0], "Failed to create post")
	if err != nil {
		return nil, err
	}
	if !anonymous {
		posts := []models.Post{*post}
		if err := s.attachAuthors(ctx, posts); err == nil {
			post = &posts[0]
		}
	}
	return post, nil
}
