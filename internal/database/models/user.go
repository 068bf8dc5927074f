package models

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is the account record. Deactivation is the IsActive flag, not a
// delete: deactivated rows keep holding their email's uniqueness slot.
// Permanent deletion is a hard DELETE.
type User struct {
	Base
	Name         string `gorm:"not null" json:"name"`
	Email        string `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string `gorm:"not null" json:"-"`
	Role         string `gorm:"default:'user'" json:"role"`

	IsEmailVerified     bool       `gorm:"default:false" json:"is_email_verified"`
	EmailVerifyHash     string     `gorm:"index" json:"-"`
	EmailVerifyExpires  *time.Time `json:"-"`
	ResetTokenHash      string     `gorm:"index" json:"-"`
	ResetTokenExpires   *time.Time `json:"-"`
	RefreshTokenCurrent string     `json:"-"`

	IsActive      bool       `gorm:"default:true" json:"is_active"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
