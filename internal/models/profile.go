package models

import "time"

// Profile shares its id with the Account it belongs to.
type Profile struct {
	ID              string    `gorm:"type:uuid;primaryKey" json:"id"`
	Username        string    `gorm:"unique;not null" json:"username"`
	DisplayName     string    `gorm:"not null" json:"display_name"`
	University      string    `gorm:"not null" json:"university"`
	Department      string    `gorm:"not null" json:"department"`
	Bio             *string   `json:"bio,omitempty"`
	ProfileImageURL *string   `json:"profile_image_url,omitempty"`
	StudentID       *string   `json:"student_id,omitempty"`
	Phone           *string   `json:"phone,omitempty"` // E.164, used for SMS notifications
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (Profile) TableName() string { return "profiles" }

func (p Profile) EntityID() string { return p.ID }

func (p Profile) Summary() *ProfileSummary {
	return &ProfileSummary{Username: p.Username, DisplayName: p.DisplayName}
}

// UpdateProfileRequest is a partial update; nil fields are left untouched.
type UpdateProfileRequest struct {
	Username        *string `json:"username" validate:"omitempty,notblank,max=50"`
	DisplayName     *string `json:"display_name" validate:"omitempty,notblank,max=100"`
	University      *string `json:"university" validate:"omitempty,notblank"`
	Department      *string `json:"department" validate:"omitempty,notblank"`
	Bio             *string `json:"bio" validate:"omitempty,max=500"`
	ProfileImageURL *string `json:"profile_image_url" validate:"omitempty,url"`
	StudentID       *string `json:"student_id"`
	Phone           *string `json:"phone" validate:"omitempty,e164"`
}
