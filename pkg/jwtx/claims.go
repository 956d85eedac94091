package jwtx

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Default lifetimes. The refresh window is also the Session Cache TTL.
const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = time.Hour
)

// Kind separates access tokens from refresh tokens. It is carried in the
// "typ" claim so one can never be replayed as the other.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

func (k Kind) valid() bool { return k == KindAccess || k == KindRefresh }

// Identity is the trusted projection of verified claims. It is the only
// thing handlers ever see about the caller.
type Identity struct {
	ID    string `json:"id"`
	Role  string `json:"role"`
	Email string `json:"email"`
}

func (i Identity) complete() bool {
	return strings.TrimSpace(i.ID) != "" && strings.TrimSpace(i.Role) != "" && strings.TrimSpace(i.Email) != ""
}

// Claims is the signed payload of both token kinds.
type Claims struct {
	jwt.RegisteredClaims

	UserID string `json:"id"`
	Role   string `json:"role"`
	Email  string `json:"email"`
	Kind   Kind   `json:"typ"`
}

func newClaims(kind Kind, id Identity, issuer string, now time.Time, ttl time.Duration) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		UserID: id.ID,
		Role:   id.Role,
		Email:  id.Email,
		Kind:   kind,
	}
}

// Identity copies the allow-listed fields, one by one, into a fresh value.
func (c *Claims) Identity() Identity {
	return Identity{
		ID:    c.UserID,
		Role:  c.Role,
		Email: c.Email,
	}
}

// NewJTI returns a random identifier for the "jti" claim. Two tokens minted
// for the same subject within the same second still differ.
func NewJTI() string {
	return uuid.NewString()
}
