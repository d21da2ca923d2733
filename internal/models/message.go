package models

import (
	"time"

	"github.com/lib/pq"
)

// MessageType is "dm" for direct messages and "anonymous" for anonymous ones.
type MessageType string

const (
	MessageDirect    MessageType = "dm"
	MessageAnonymous MessageType = "anonymous"
)

func (t MessageType) Valid() bool {
	return t == MessageDirect || t == MessageAnonymous
}

type Message struct {
	ID          string          `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	SenderID    string          `gorm:"type:uuid;index" json:"sender_id"`
	ReceiverID  string          `gorm:"type:uuid;index" json:"receiver_id"`
	Content     string          `gorm:"not null" json:"content"`
	MessageType MessageType     `gorm:"type:message_type;not null" json:"message_type"`
	Images      pq.StringArray  `gorm:"type:text[]" json:"images,omitempty"`
	IsRead      bool            `json:"is_read"`
	CreatedAt   time.Time       `json:"created_at"`
	Sender      *ProfileSummary `gorm:"-" json:"sender,omitempty"`
}

func (Message) TableName() string { return "messages" }

func (m Message) EntityID() string { return m.ID }

type SendMessageRequest struct {
	ReceiverID  string      `json:"receiver_id" validate:"required,uuid"`
	Content     string      `json:"content" validate:"notblank"`
	MessageType MessageType `json:"message_type" validate:"omitempty,oneof=dm anonymous"`
	Images      []string    `json:"images" validate:"max=10,dive,url"`
}
