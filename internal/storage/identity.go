package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// User represents a row in the users table.
type User struct {
	ID           int64
	Username     string
	PasswordHash []byte
	CreatedAt    time.Time
}

// CreateUser inserts a new user. ErrUserExists is returned on conflicts.
func (s *Store) CreateUser(ctx context.Context, username string, passwordHash []byte) (int64, error) {
	result, err := s.db.ExecContext(ctx, `INSERT INTO users(username, password_hash, created_at) VALUES(?, ?, ?)`, username, passwordHash, s.nowMicro())
	if err != nil {
		if isConstraintError(err) {
			return 0, ErrUserExists
		}
		return 0, err
	}
	return result.LastInsertId()
}

// GetUserByUsername fetches a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, username, password_hash, created_at FROM users WHERE username = ?`, username)
	return scanUser(row)
}

// GetUserByID fetches a user by primary key.
func (s *Store) GetUserByID(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, username, password_hash, created_at FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var (
		user    User
		created int64
	)
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	user.CreatedAt = fromMicro(created)
	return &user, nil
}

// IssueToken stores a new bearer token for a user. A zero ttl issues a token
// that never expires.
func (s *Store) IssueToken(ctx context.Context, userID int64, ttl time.Duration) (string, time.Time, error) {
	token := uuid.NewString()
	now := s.now().UTC()
	var (
		expiresAt time.Time
		expiresUs int64
	)
	if ttl > 0 {
		expiresAt = now.Add(ttl)
		expiresUs = expiresAt.UnixMicro()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO auth_tokens(token, user_id, created_at, expires_at) VALUES(?, ?, ?, ?)`, token, userID, now.UnixMicro(), expiresUs)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// ResolveToken returns the user owning an unexpired token, or nil when the
// token is unknown, expired or revoked.
func (s *Store) ResolveToken(ctx context.Context, token string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.password_hash, u.created_at
		FROM auth_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.token = ? AND (t.expires_at = 0 OR t.expires_at > ?)
	`, token, s.nowMicro())
	return scanUser(row)
}

// RevokeToken removes a token (used for logout).
func (s *Store) RevokeToken(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM auth_tokens WHERE token = ?`, token)
	return err
}
