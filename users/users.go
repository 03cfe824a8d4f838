// Package users owns the local user records synced from the identity
// provider. The external auth id is the stable join key; sync is an
// idempotent upsert on it.
package users

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	ErrUserNotFound = errors.New("user not found")
)

// ValidationError means the sync input was rejected before touching the store.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// User is a local record of a signed-in identity.
type User struct {
	ID        int64  `json:"id"`
	AuthID    string `json:"auth_id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// Store provides user persistence over a sql database.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate() error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting migration dialect: %w", err)
	}
	if err := goose.Up(s.db, "migrations"); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// Sync upserts the user record for an external auth id and returns the row id.
//
// Email is always overwritten with the supplied value. Name fields are
// preserve-on-omit: an empty first or last name keeps whatever is stored.
// Absence of a record means insert; there is no separate create/update API.
// Concurrent syncs for the same auth id are serialized by the store's unique
// index, not by application locking.
func (s *Store) Sync(ctx context.Context, authID, email, firstName, lastName string) (int64, error) {
	if strings.TrimSpace(authID) == "" {
		return 0, &ValidationError{Reason: "auth id is required"}
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return 0, &ValidationError{Reason: "email is required"}
	}

	var existing User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, first_name, last_name FROM users WHERE auth_id = ?`, authID).
		Scan(&existing.ID, &existing.FirstName, &existing.LastName)

	if err == sql.ErrNoRows {
		now := time.Now().Unix()
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO users (auth_id, email, first_name, last_name, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			authID, email, firstName, lastName, now, now)
		if err != nil {
			return 0, fmt.Errorf("inserting user: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("reading inserted id: %w", err)
		}
		return id, nil
	} else if err != nil {
		return 0, fmt.Errorf("looking up user: %w", err)
	}

	if firstName == "" {
		firstName = existing.FirstName
	}
	if lastName == "" {
		lastName = existing.LastName
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE users SET email = ?, first_name = ?, last_name = ?, updated_at = ? WHERE auth_id = ?`,
		email, firstName, lastName, time.Now().Unix(), authID)
	if err != nil {
		return 0, fmt.Errorf("updating user: %w", err)
	}
	return existing.ID, nil
}

// GetByAuthID returns the user record for an external auth id.
func (s *Store) GetByAuthID(ctx context.Context, authID string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, auth_id, email, first_name, last_name, created_at, updated_at
		 FROM users WHERE auth_id = ?`, authID).
		Scan(&u.ID, &u.AuthID, &u.Email, &u.FirstName, &u.LastName, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	} else if err != nil {
		return nil, err
	}
	return &u, nil
}

// Count returns the number of synced users.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Health runs a trivial query and reports how long the database took to
// answer. Used by the health endpoint.
func (s *Store) Health(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}
