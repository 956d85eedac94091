// Package sqlstore holds the database/sql repository shared by the sqlite
// and postgres drivers. Drivers supply a Dialect for the few places the two
// engines differ.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pressroom/cms/internal/auth/domain"
	"github.com/pressroom/cms/internal/auth/store"
	"github.com/pressroom/cms/pkg/cryptox"
	"github.com/pressroom/cms/pkg/idx"
)

// Dialect describes engine specific behaviour.
type Dialect struct {
	// Rebind rewrites '?' placeholders, nil keeps them as-is.
	Rebind func(query string) string

	// UniqueViolation returns the conflicting field ("email" or "userName")
	// when err is a unique constraint violation.
	UniqueViolation func(err error) (field string, ok bool)
}

// Users implements store.Users over a *sql.DB.
type Users struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func NewUsers(db *sql.DB, d Dialect) *Users {
	return &Users{db: db, dialect: d, now: time.Now}
}

const userColumns = `id, full_name, user_name, email, password_hash, role, avatar_url,
	two_factor_enabled, otp_secret, otp_expires_at, created_at, updated_at`

func (r *Users) q(query string) string {
	if r.dialect.Rebind == nil {
		return query
	}
	return r.dialect.Rebind(query)
}

func (r *Users) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	return scanUser(row)
}

func (r *Users) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+userColumns+` FROM users WHERE email = ?`), domain.NormalizeEmail(email))
	return scanUser(row)
}

func (r *Users) CreateUser(ctx context.Context, nu domain.NewUser) (domain.User, error) {
	hash, err := cryptox.HashPassword(nu.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	now := r.now().UTC()
	u := domain.User{
		ID:           idx.New().String(),
		FullName:     strings.TrimSpace(nu.FullName),
		UserName:     strings.TrimSpace(nu.UserName),
		Email:        domain.NormalizeEmail(nu.Email),
		PasswordHash: hash,
		Role:         domain.ParseRole(string(nu.Role)),
		AvatarURL:    nu.AvatarURL,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err = r.db.ExecContext(ctx, r.q(`INSERT INTO users
		(id, full_name, user_name, email, password_hash, role, avatar_url, two_factor_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		u.ID, u.FullName, u.UserName, u.Email, u.PasswordHash, string(u.Role), u.AvatarURL, false, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, r.mapWriteError(err)
	}
	return u, nil
}

func (r *Users) UpdateUser(ctx context.Context, id string, patch domain.UserPatch) (domain.User, error) {
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if patch.FullName != nil {
		set("full_name", strings.TrimSpace(*patch.FullName))
	}
	if patch.Password != nil {
		hash, err := cryptox.HashPassword(*patch.Password)
		if err != nil {
			return domain.User{}, fmt.Errorf("hash password: %w", err)
		}
		set("password_hash", hash)
	}
	if patch.AvatarURL != nil {
		set("avatar_url", *patch.AvatarURL)
	}
	if patch.Role != nil {
		if !patch.Role.Valid() {
			return domain.User{}, fmt.Errorf("store: invalid role %q", *patch.Role)
		}
		set("role", string(*patch.Role))
	}
	if patch.TwoFactorEnabled != nil {
		set("two_factor_enabled", *patch.TwoFactorEnabled)
	}
	switch {
	case patch.ClearOTP:
		set("otp_secret", nil)
		set("otp_expires_at", nil)
	default:
		if patch.OTPSecret != nil {
			set("otp_secret", *patch.OTPSecret)
		}
		if patch.OTPExpiresAt != nil {
			set("otp_expires_at", patch.OTPExpiresAt.UTC())
		}
	}

	if len(sets) == 0 {
		return r.GetUserByID(ctx, id)
	}
	set("updated_at", r.now().UTC())
	args = append(args, id)

	res, err := r.db.ExecContext(ctx, r.q(`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`), args...)
	if err != nil {
		return domain.User{}, r.mapWriteError(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.User{}, store.ErrNotFound
	}
	return r.GetUserByID(ctx, id)
}

func (r *Users) ClearExpiredOTPs(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.q(`UPDATE users SET otp_secret = NULL, otp_expires_at = NULL
		WHERE otp_expires_at IS NOT NULL AND otp_expires_at <= ?`), now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *Users) mapWriteError(err error) error {
	if r.dialect.UniqueViolation != nil {
		if field, ok := r.dialect.UniqueViolation(err); ok {
			return &store.ConflictError{Field: field}
		}
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (domain.User, error) {
	var (
		u         domain.User
		role      string
		otpSecret   sql.NullString
		otpExpiry sql.NullTime
	)
	err := row.Scan(
		&u.ID, &u.FullName, &u.UserName, &u.Email, &u.PasswordHash, &role, &u.AvatarURL,
		&u.TwoFactorEnabled, &otpSecret, &otpExpiry, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}

	u.Role = domain.ParseRole(role)
	if otpSecret.Valid {
		u.OTPSecret = &otpSecret.String
	}
	if otpExpiry.Valid {
		t := otpExpiry.Time.UTC()
		u.OTPExpiresAt = &t
	}
	return u, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

// FieldFromConstraint maps a constraint name or driver message onto the
// public field name.
func FieldFromConstraint(s string) string {
	s = strings.ToLower(s)
	switch {
	case strings.Contains(s, "email"):
		return "email"
	case strings.Contains(s, "user_name"):
		return "userName"
	default:
		return "record"
	}
}

// RebindDollar rewrites '?' placeholders to $1, $2, ...
func RebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}
