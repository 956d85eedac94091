package store

import (
	"context"
	"errors"
	"time"

	"github.com/pressroom/cms/internal/auth/domain"
	"github.com/pressroom/cms/pkg/cryptox"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// ConflictError names the unique field that collided. It matches
// ErrAlreadyExists under errors.Is.
type ConflictError struct {
	Field string // "email" or "userName"
}

func (e *ConflictError) Error() string { return "store: " + e.Field + " already exists" }

func (e *ConflictError) Is(target error) bool { return target == ErrAlreadyExists }

// Store is the root data access interface. Concrete drivers (sqlite, postgres)
// implement this.
type Store interface {
	Users() Users

	ApplyMigrations() error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Users persists identity records. Emails are normalized on every read and
// write path, and plain-text passwords are hashed here, never by callers.
type Users interface {
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	GetUserByEmail(ctx context.Context, email string) (domain.User, error)

	// CreateUser hashes nu.Password, assigns a ULID and timestamps, and
	// inserts the record. Duplicate email or userName yields a *ConflictError.
	CreateUser(ctx context.Context, nu domain.NewUser) (domain.User, error)

	// UpdateUser applies the non-nil fields of patch and returns the
	// updated record. A set Password is hashed before it is written.
	UpdateUser(ctx context.Context, id string, patch domain.UserPatch) (domain.User, error)

	// ClearExpiredOTPs drops one-time codes whose expiry is at or before now.
	ClearExpiredOTPs(ctx context.Context, now time.Time) (int64, error)
}

// VerifyPassword checks plain against the user's stored hash in constant time.
func VerifyPassword(u domain.User, plain string) error {
	return cryptox.VerifyPassword(plain, u.PasswordHash)
}
