package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/pressroom/cms/internal/auth/store"
	"github.com/pressroom/cms/internal/auth/store/sqlstore"
	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type Store struct {
	db    *sql.DB
	users *sqlstore.Users
	dsn   string
}

var _ store.Store = (*Store)(nil)

// NewStore opens the database at dsn. ":memory:" is supported and pinned to
// a single connection so every query sees the same database.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	for _, pragma := range []string{
		`PRAGMA foreign_keys = ON;`,
		`PRAGMA busy_timeout = 5000;`,
	} {
		if _, err := db.ExecContext(context.Background(), pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	return &Store{
		db:    db,
		users: sqlstore.NewUsers(db, sqlstore.Dialect{UniqueViolation: uniqueViolation}),
		dsn:   dsn,
	}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Users() store.Users { return s.users }

// uniqueViolation recognises SQLITE_CONSTRAINT_UNIQUE. The message names the
// column, e.g. "UNIQUE constraint failed: users.email".
func uniqueViolation(err error) (string, bool) {
	var se *sqlitedrv.Error
	if !errors.As(err, &se) {
		return "", false
	}
	switch {
	case se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE,
		se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY,
		strings.Contains(se.Error(), "UNIQUE constraint failed"):
		return sqlstore.FieldFromConstraint(se.Error()), true
	default:
		return "", false
	}
}
