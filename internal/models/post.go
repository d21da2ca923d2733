package models

import (
	"time"

	"github.com/lib/pq"
)

// BoardType partitions posts. The wire values match the board_type enum of
// the existing schema, where the general board is called "international".
type BoardType string

const (
	BoardGeneral    BoardType = "international"
	BoardCampus     BoardType = "campus"
	BoardDepartment BoardType = "department"
)

func (b BoardType) Valid() bool {
	switch b {
	case BoardGeneral, BoardCampus, BoardDepartment:
		return true
	}
	return false
}

// ProfileSummary is the denormalized author/sender block attached to posts,
// comments and messages.
type ProfileSummary struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// Post model - likes/dislikes/comments counters are maintained by the database
type Post struct {
	ID            string          `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Title         string          `gorm:"not null" json:"title"`
	Content       string          `gorm:"not null" json:"content"`
	BoardType     BoardType       `gorm:"type:board_type;not null" json:"board_type"`
	University    *string         `json:"university,omitempty"`
	Department    *string         `json:"department,omitempty"`
	AuthorID      *string         `gorm:"type:uuid" json:"author_id"`
	IsAnonymous   bool            `json:"is_anonymous"`
	LikesCount    int             `gorm:"default:0" json:"likes_count"`
	DislikesCount int             `gorm:"default:0" json:"dislikes_count"`
	CommentsCount int             `gorm:"default:0" json:"comments_count"`
	Images        pq.StringArray  `gorm:"type:text[]" json:"images,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Profiles      *ProfileSummary `gorm:"-" json:"profiles,omitempty"`
}

func (Post) TableName() string { return "posts" }

func (p Post) EntityID() string { return p.ID }

type CreatePostRequest struct {
	Title       string    `json:"title" validate:"notblank,max=300"`
	Content     string    `json:"content" validate:"notblank"`
	BoardType   BoardType `json:"board_type" validate:"required"`
	University  string    `json:"university"`
	Department  string    `json:"department"`
	IsAnonymous *bool     `json:"is_anonymous"`
	Images      []string  `json:"images" validate:"max=10,dive,url"`
}
