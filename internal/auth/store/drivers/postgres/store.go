package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/pressroom/cms/internal/auth/store"
	"github.com/pressroom/cms/internal/auth/store/sqlstore"
)

const uniqueViolationCode = "23505"

type Store struct {
	db    *sql.DB
	users *sqlstore.Users
}

var _ store.Store = (*Store)(nil)

// NewStore connects to the server at url and verifies the connection.
func NewStore(ctx context.Context, url string) (*Store, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return NewFromDB(db), nil
}

// NewFromDB wraps an existing handle. Tests pass a sqlmock connection here.
func NewFromDB(db *sql.DB) *Store {
	return &Store{
		db: db,
		users: sqlstore.NewUsers(db, sqlstore.Dialect{
			Rebind:          sqlstore.RebindDollar,
			UniqueViolation: uniqueViolation,
		}),
	}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Users() store.Users { return s.users }

func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolationCode {
		return "", false
	}
	return sqlstore.FieldFromConstraint(pgErr.ConstraintName), true
}
