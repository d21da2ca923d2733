package models

import "time"

type FriendshipStatus string

const (
	FriendPending  FriendshipStatus = "pending"
	FriendAccepted FriendshipStatus = "accepted"
	FriendRejected FriendshipStatus = "rejected"
	FriendBlocked  FriendshipStatus = "blocked"
)

func (s FriendshipStatus) Valid() bool {
	switch s {
	case FriendPending, FriendAccepted, FriendRejected, FriendBlocked:
		return true
	}
	return false
}

// Friendship model - a request from RequesterID to AddresseeID
type Friendship struct {
	ID          string           `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	RequesterID string           `gorm:"type:uuid" json:"requester_id"`
	AddresseeID string           `gorm:"type:uuid" json:"addressee_id"`
	Status      FriendshipStatus `gorm:"type:friendship_status" json:"status"`
	IsStarred   bool             `json:"is_starred"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

func (Friendship) TableName() string { return "friendships" }

func (f Friendship) EntityID() string { return f.ID }

// Other returns the participant that is not viewer.
func (f Friendship) Other(viewer string) string {
	if f.RequesterID == viewer {
		return f.AddresseeID
	}
	return f.RequesterID
}

type FriendRequest struct {
	AddresseeID string `json:"addressee_id" validate:"required,uuid"`
}

type FriendResponse struct {
	Status FriendshipStatus `json:"status" validate:"required,oneof=accepted rejected blocked"`
}
