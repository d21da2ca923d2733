package models

import "time"

// GroupType is the visibility of a group: open groups ("public" on the wire)
// accept anyone, conditional groups only members of their university/department.
type GroupType string

const (
	GroupOpen        GroupType = "public"
	GroupConditional GroupType = "conditional"
)

func (t GroupType) Valid() bool {
	return t == GroupOpen || t == GroupConditional
}

type MemberRole string

const (
	RoleAdmin     MemberRole = "admin"
	RoleModerator MemberRole = "moderator"
	RoleMember    MemberRole = "member"
)

func (r MemberRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleModerator, RoleMember:
		return true
	}
	return false
}

type Group struct {
	ID             string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Name           string    `gorm:"not null" json:"name"`
	Description    *string   `json:"description,omitempty"`
	GroupType      GroupType `gorm:"type:group_type;not null" json:"group_type"`
	Conditions     *string   `json:"conditions,omitempty"`
	University     *string   `json:"university,omitempty"`
	Department     *string   `json:"department,omitempty"`
	CreatorID      string    `gorm:"type:uuid" json:"creator_id"`
	MaxMembers     *int      `json:"max_members,omitempty"`
	CurrentMembers int       `gorm:"default:0" json:"current_members"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (Group) TableName() string { return "groups" }

func (g Group) EntityID() string { return g.ID }

// Full reports whether the group reached its member cap.
func (g Group) Full() bool {
	return g.MaxMembers != nil && g.CurrentMembers >= *g.MaxMembers
}

type GroupMember struct {
	ID       string     `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	GroupID  string     `gorm:"type:uuid;uniqueIndex:idx_group_user" json:"group_id"`
	UserID   string     `gorm:"type:uuid;uniqueIndex:idx_group_user" json:"user_id"`
	Role     MemberRole `gorm:"type:member_role" json:"role"`
	JoinedAt time.Time  `json:"joined_at"`
}

func (GroupMember) TableName() string { return "group_members" }

func (m GroupMember) EntityID() string { return m.ID }

type CreateGroupRequest struct {
	Name        string    `json:"name" validate:"notblank,max=100"`
	Description *string   `json:"description"`
	GroupType   GroupType `json:"group_type" validate:"required,oneof=public conditional"`
	Conditions  *string   `json:"conditions"`
	University  *string   `json:"university"`
	Department  *string   `json:"department"`
	MaxMembers  *int      `json:"max_members" validate:"omitempty,min=2,max=10000"`
}
