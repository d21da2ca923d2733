package models

import "time"

// Account holds sign-in credentials. It is never published on the change feed.
type Account struct {
	ID           string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Email        string    `gorm:"unique;not null" json:"email"`
	PasswordHash string    `gorm:"not null" json:"password_hash,omitempty"`
	AuthProvider string    `json:"auth_provider"` // "email"
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Account) TableName() string { return "accounts" }

type RegisterRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=6"`
	Username    string `json:"username" validate:"omitempty,max=50"`
	DisplayName string `json:"display_name" validate:"omitempty,max=100"`
	University  string `json:"university"`
	Department  string `json:"department"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type AuthResponse struct {
	Token   string   `json:"token"`
	User    *Profile `json:"user"`
	Message string   `json:"message"`
}
