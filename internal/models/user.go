package models

import "time"

// User roles recognised by the API.
const (
	UserRoleStudent = "student"
	UserRoleAdmin   = "admin"
)

// User is a learner account created through OAuth sign-in.
type User struct {
	ID              uint                 `gorm:"primaryKey" json:"id"`
	Nickname        string               `gorm:"size:255;not null;uniqueIndex" json:"nickname"`
	ProfileImage    string               `gorm:"size:255" json:"profile_image"`
	Role            string               `gorm:"size:32;not null;default:student" json:"role"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
	Authentications []UserAuthentication `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// UserAuthentication links a user to an external identity provider.
type UserAuthentication struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       uint      `gorm:"not null;index" json:"user_id"`
	Provider     string    `gorm:"size:32;not null;uniqueIndex:idx_provider_identity" json:"provider"`
	ProviderID   string    `gorm:"size:255;not null;uniqueIndex:idx_provider_identity" json:"provider_id"`
	Email        string    `gorm:"size:255" json:"email"`
	RefreshToken *string   `gorm:"type:text" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	User         User      `json:"user"`
}

// ProviderGoogle identifies Google OAuth identities.
const ProviderGoogle = "google"
