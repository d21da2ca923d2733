package models

import (
	"time"

	"gorm.io/datatypes"
)

type NotificationType string

const (
	NotificationComment       NotificationType = "comment"
	NotificationMessage       NotificationType = "message"
	NotificationFriendRequest NotificationType = "friend_request"
	NotificationGroupJoin     NotificationType = "group_join"
	NotificationSystem        NotificationType = "system"
)

type Notification struct {
	ID        string           `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	UserID    string           `gorm:"type:uuid;index" json:"user_id"` // receiver
	Type      NotificationType `gorm:"not null" json:"type"`
	Title     string           `gorm:"not null" json:"title"`
	Content   *string          `json:"content,omitempty"`
	Data      datatypes.JSON   `gorm:"type:jsonb" json:"data,omitempty"`
	IsRead    bool             `gorm:"default:false;index" json:"is_read"`
	CreatedAt time.Time        `json:"created_at"`
}

func (Notification) TableName() string { return "notifications" }

func (n Notification) EntityID() string { return n.ID }
