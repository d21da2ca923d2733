package service

import (
	"context"

	"github.com/emilythestrangee/campusnet/backend/internal/apperr"
	"github.com/emilythestrangee/campusnet/backend/internal/backend"
	"github.com/emilythestrangee/campusnet/backend/internal/models"
)

type Reactions struct{ base }

// Counts are the like/dislike totals stored on a post.
type Counts struct {
	Likes    int `json:"likes_count"`
	Dislikes int `json:"dislikes_count"`
}

func reactionWhere(viewer, postID string) backend.Predicate {
	return backend.And(backend.Eq("post_id", postID), backend.Eq("user_id", viewer))
}

// Mine returns the viewer's reaction to a post, or ReactionNone.
func (s *Reactions) Mine(ctx context.Context, viewer, postID string) (models.ReactionKind, error) {
	if viewer == "" || postID == "" {
		return models.ReactionNone, nil
	}
	rows, err := s.selectRows(ctx, backend.Query{Kind: backend.PostReactions, Where: reactionWhere(viewer, postID), Limit: 1}, "Failed to load reaction")
	if err != nil {
		return models.ReactionNone, err
	}
	if len(rows) == 0 {
		return models.ReactionNone, nil
	}
	return models.ReactionKind(rows[0].String("reaction_type")), nil
}

// Counts reads the authoritative counters from the post row. It bypasses the
// cache.
func (s *Reactions) Counts(ctx context.Context, postID string) (Counts, error) {
	row, err := s.one(ctx, backend.Posts, backend.Eq("id", postID), "Post")
	if err != nil {
		return Counts{}, err
	}
	var c Counts
	if err := row.Decode(&c); err != nil {
		return Counts{}, apperr.Backend("Failed to load reactions", err)
	}
	return c, nil
}

// Toggle applies kind to the viewer's reaction on a post: reacting with the
// current kind removes it, a different kind replaces it, and no reaction
// inserts one. It returns the resulting reaction.
func (s *Reactions) Toggle(ctx context.Context, viewer, postID string, kind models.ReactionKind) (models.ReactionKind, error) {
	if err := requireViewer(viewer); err != nil {
		return models.ReactionNone, err
	}
	if postID == "" {
		return models.ReactionNone, apperr.Validation("post_id", "is required")
	}
	if !kind.Valid() {
		return models.ReactionNone, apperr.Validation("reaction_type", "must be like or dislike")
	}

	current, err := s.Mine(ctx, viewer, postID)
	if err != nil {
		return models.ReactionNone, err
	}

	switch current {
	case kind:
		_, err = s.write(ctx, backend.Mutation{
			Kind:  backend.PostReactions,
			Op:    backend.Delete,
			Where: reactionWhere(viewer, postID),
		}, "Failed to remove reaction", backend.Posts)
		if err != nil {
			return current, err
		}
		return models.ReactionNone, nil
	case models.ReactionNone:
		_, err = s.write(ctx, backend.Mutation{
			Kind:       backend.PostReactions,
			Op:         backend.Upsert,
			Values:     backend.Row{"post_id": postID, "user_id": viewer, "reaction_type": string(kind)},
			ConflictOn: []string{"post_id", "user_id"},
		}, "Failed to react", backend.Posts)
	default:
		_, err = s.write(ctx, backend.Mutation{
			Kind:   backend.PostReactions,
			Op:     backend.Update,
			Values: backend.Row{"reaction_type": string(kind)},
			Where:  reactionWhere(viewer, postID),
		}, "Failed to react", backend.Posts)
	}
	if err != nil {
		return current, err
	}
	return kind, nil
}
