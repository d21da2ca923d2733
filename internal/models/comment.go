package models

import "time"

type Comment struct {
	ID          string          `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	PostID      string          `gorm:"type:uuid;index" json:"post_id"`
	AuthorID    *string         `gorm:"type:uuid" json:"author_id"`
	Content     string          `gorm:"not null" json:"content"`
	IsAnonymous bool            `json:"is_anonymous"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Author      *ProfileSummary `gorm:"-" json:"author,omitempty"`
}

func (Comment) TableName() string { return "comments" }

func (c Comment) EntityID() string { return c.ID }

type CreateCommentRequest struct {
	Content     string `json:"content" validate:"notblank"`
	IsAnonymous *bool  `json:"is_anonymous"`
}
