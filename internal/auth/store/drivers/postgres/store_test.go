package postgres_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pressroom/cms/internal/auth/domain"
	"github.com/pressroom/cms/internal/auth/store"
	"github.com/pressroom/cms/internal/auth/store/drivers/postgres"
	"github.com/pressroom/cms/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	cryptox.SetPepper("postgres-test-pepper")
	os.Exit(m.Run())
}

var columns = []string{
	"id", "full_name", "user_name", "email", "password_hash", "role", "avatar_url",
	"two_factor_enabled", "otp_secret", "otp_expires_at", "created_at", "updated_at",
}

func newMock(t *testing.T) (*postgres.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return postgres.NewFromDB(db), mock
}

func TestGetUserByEmailNormalizesAndBindsDollar(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE email = $1")).
		WithArgs("alice@x.com").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("u1", "Alice", "alice", "alice@x.com", "$argon2id$...", "admin", "", true, nil, nil, now, now))

	u, err := s.Users().GetUserByEmail(context.Background(), " Alice@X.com ")
	require.NoError(t, err)
	require.Equal(t, "u1", u.ID)
	require.Equal(t, domain.RoleAdmin, u.Role)
	require.True(t, u.TwoFactorEnabled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserByIDNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := s.Users().GetUserByID(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUserMapsUniqueViolation(t *testing.T) {
	tests := map[string]string{
		"users_email_key":     "email",
		"users_user_name_key": "userName",
	}
	for constraint, field := range tests {
		t.Run(constraint, func(t *testing.T) {
			s, mock := newMock(t)
			mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).
				WithArgs(sqlmock.AnyArg(), "Alice", "alice", "alice@x.com", sqlmock.AnyArg(), "user", "", false, sqlmock.AnyArg(), sqlmock.AnyArg()).
				WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: constraint})

			_, err := s.Users().CreateUser(context.Background(), domain.NewUser{
				FullName: "Alice", UserName: "alice", Email: "ALICE@x.com", Password: "Abcd1234!", Role: "bogus",
			})
			require.ErrorIs(t, err, store.ErrAlreadyExists)

			var ce *store.ConflictError
			require.True(t, errors.As(err, &ce))
			require.Equal(t, field, ce.Field)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUpdateUserClearsOTP(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET otp_secret = $1, otp_expires_at = $2, updated_at = $3 WHERE id = $4")).
		WithArgs(nil, nil, sqlmock.AnyArg(), "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("u1", "Alice", "alice", "alice@x.com", "hash", "user", "", true, nil, nil, now, now))

	u, err := s.Users().UpdateUser(context.Background(), "u1", domain.UserPatch{ClearOTP: true})
	require.NoError(t, err)
	require.Nil(t, u.OTPSecret)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateUserMissingRow(t *testing.T) {
	s, mock := newMock(t)
	name := "Ghost"

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET full_name = $1, updated_at = $2 WHERE id = $3")).
		WithArgs("Ghost", sqlmock.AnyArg(), "nope").
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := s.Users().UpdateUser(context.Background(), "nope", domain.UserPatch{FullName: &name})
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClearExpiredOTPs(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("otp_expires_at <= $1")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.Users().ClearExpiredOTPs(context.Background(), time.Now())
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
