package postgres

import (
	"context"
	"fmt"

	"github.com/dvloznov/community-sacco/internal/domain"
)

// CreateUser stores a new account. A duplicate username is reported as a
// validation error.
func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, username, password_hash, is_staff)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, user.ID, user.Username, user.PasswordHash, user.IsStaff).Scan(&user.CreatedAt)
	if isUniqueViolation(err) {
		return domain.NewValidationError("username", "is already taken")
	}
	if err != nil {
		return fmt.Errorf("CreateUser: %w", err)
	}
	return nil
}

// GetUserByUsername returns the account with username or a NotFoundError.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	var u domain.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, is_staff, created_at FROM users WHERE username = $1
	`, username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsStaff, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("GetUserByUsername: %w", notFound(err, "user", username))
	}
	return &u, nil
}

// ListUsers returns the accounts with the given ids ordered by username.
func (s *Store) ListUsers(ctx context.Context, ids []string) ([]*domain.User, error) {
	out := []*domain.User{}
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, username, password_hash, is_staff, created_at
		FROM users WHERE id = ANY($1) ORDER BY username
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("ListUsers: query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsStaff, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("ListUsers: scan: %w", err)
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}
