package http

import "github.com/pressroom/cms/internal/auth/domain"

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is shared by login and verify-2fa. Exactly one of User or
// (UserID, TwoFactorRequired) is set.
type LoginResponse struct {
	Message           string             `json:"message"`
	User              *domain.PublicUser `json:"user,omitempty"`
	UserID            string             `json:"userId,omitempty"`
	TwoFactorRequired bool               `json:"twoFactorRequired,omitempty"`
}

type VerifyTwoFactorRequest struct {
	UserID string `json:"userId"`
	Code   string `json:"code"`
}

type TwoFactorRequest struct {
	Enabled *bool `json:"enabled"`
}

type UserResponse struct {
	Message string            `json:"message"`
	User    domain.PublicUser `json:"user"`
}
