package models

import "time"

type ReactionKind string

const (
	ReactionNone    ReactionKind = ""
	ReactionLike    ReactionKind = "like"
	ReactionDislike ReactionKind = "dislike"
)

func (k ReactionKind) Valid() bool {
	return k == ReactionLike || k == ReactionDislike
}

// Reaction is a user's like/dislike on a post. There is at most one row per
// (post, user); the unique index lives in the schema.
type Reaction struct {
	ID           string       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	PostID       string       `gorm:"type:uuid;uniqueIndex:idx_post_user" json:"post_id"`
	UserID       string       `gorm:"type:uuid;uniqueIndex:idx_post_user" json:"user_id"`
	ReactionType ReactionKind `json:"reaction_type"`
	CreatedAt    time.Time    `json:"created_at"`
}

func (Reaction) TableName() string { return "post_reactions" }

func (r Reaction) EntityID() string { return r.ID }

type ReactRequest struct {
	ReactionType ReactionKind `json:"reaction_type" validate:"required,oneof=like dislike"`
}
