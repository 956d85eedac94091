package domain

import (
	"strings"
	"time"
)

// User is the identity record. Secrets never serialize.
type User struct {
	ID               string
	FullName         string
	UserName         string
	Email            string
	PasswordHash     string `json:"-"` // argon2id PHC string
	Role             Role
	AvatarURL        string
	TwoFactorEnabled bool
	OTPSecret        *string    `json:"-"` // TOTP secret behind the pending emailed code
	OTPExpiresAt     *time.Time `json:"-"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PublicUser is what handlers render.
type PublicUser struct {
	ID               string    `json:"id"`
	UserName         string    `json:"userName"`
	FullName         string    `json:"fullName"`
	Email            string    `json:"email"`
	Role             Role      `json:"role"`
	Avatar           string    `json:"avatar,omitempty"`
	TwoFactorEnabled bool      `json:"twoFactorEnabled"`
	CreatedAt        time.Time `json:"createdAt"`
}

func (u User) Public() PublicUser {
	return PublicUser{
		ID:               u.ID,
		UserName:         u.UserName,
		FullName:         u.FullName,
		Email:            u.Email,
		Role:             u.Role,
		Avatar:           u.AvatarURL,
		TwoFactorEnabled: u.TwoFactorEnabled,
		CreatedAt:        u.CreatedAt,
	}
}

// PendingOTP reports whether a one-time code is stored and still valid at now.
func (u User) PendingOTP(now time.Time) bool {
	return u.OTPSecret != nil && *u.OTPSecret != "" && u.OTPExpiresAt != nil && now.Before(*u.OTPExpiresAt)
}

// NewUser carries registration input into the store. Password is plain text;
// the store hashes it on write.
type NewUser struct {
	FullName  string
	UserName  string
	Email     string
	Password  string
	Role      Role
	AvatarURL string
}

// UserPatch is a partial update. Nil fields are left untouched. ClearOTP
// wins over OTPSecret/OTPExpiresAt.
type UserPatch struct {
	FullName         *string
	Password         *string // plain text, hashed by the store
	AvatarURL        *string
	Role             *Role
	TwoFactorEnabled *bool
	OTPSecret        *string
	OTPExpiresAt     *time.Time
	ClearOTP         bool
}

// NormalizeEmail trims and lower-cases an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
