package authsdk

import (
	"time"

	"github.com/pressroom/cms/pkg/httpx"
)

// Cookie names set by the server.
const (
	AccessCookie  = httpx.AccessCookie
	RefreshCookie = httpx.RefreshCookie
)

// User is the public view of an account.
type User struct {
	ID               string    `json:"id"`
	UserName         string    `json:"userName"`
	FullName         string    `json:"fullName"`
	Email            string    `json:"email"`
	Role             string    `json:"role"`
	Avatar           string    `json:"avatar,omitempty"`
	TwoFactorEnabled bool      `json:"twoFactorEnabled"`
	CreatedAt        time.Time `json:"createdAt"`
}

type RegisterRequest struct {
	UserName string `json:"userName"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
	// Avatar is a remote image URL the server fetches and stores.
	Avatar string `json:"avatar,omitempty"`
}

type RegisterResponse struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

// LoginResponse is returned by Login and VerifyTwoFactor. When
// TwoFactorRequired is set, User is nil and no cookies were issued.
type LoginResponse struct {
	Message           string `json:"message"`
	User              *User  `json:"user,omitempty"`
	UserID            string `json:"userId,omitempty"`
	TwoFactorRequired bool   `json:"twoFactorRequired,omitempty"`
}

type UserResponse struct {
	Message string `json:"message"`
	User    User   `json:"user"`
}

type HealthChecks struct {
	Database string `json:"database"`
	Cache    string `json:"cache"`
}

type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime"`
	Version string        `json:"version"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}
