package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"voice-tutor/internal/domain"
)

// CreateUser inserts a user. An empty role falls back to "user"; a duplicate
// email yields a *DuplicateKeyError.
func (s *Store) CreateUser(ctx context.Context, name, email *string, role string) (domain.User, error) {
	role = strings.TrimSpace(role)
	if role == "" {
		role = domain.DefaultUserRole
	}

	createdAt := s.timestamp()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (name, email, role, created_at)
		VALUES (?, ?, ?, ?)
	`, nullString(name), nullString(email), role, createdAt)
	if err != nil {
		if isUniqueViolation(err) {
			key := ""
			if email != nil {
				key = *email
			}
			return domain.User{}, &DuplicateKeyError{Table: "users", Key: key, Err: err}
		}
		return domain.User{}, fmt.Errorf("repository: CreateUser: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.User{}, fmt.Errorf("repository: CreateUser last insert id: %w", err)
	}

	return domain.User{
		ID:        id,
		Name:      name,
		Email:     email,
		Role:      role,
		CreatedAt: timeFromUnix(createdAt),
	}, nil
}

// GetUser returns ErrNotFound for unknown ids.
func (s *Store) GetUser(ctx context.Context, id int64) (domain.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, role, created_at
		FROM users
		WHERE id = ?
	`, id)

	var u domain.User
	var name, email sql.NullString
	var createdAt float64
	if err := row.Scan(&u.ID, &name, &email, &u.Role, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, fmt.Errorf("repository: GetUser %d: %w", id, ErrNotFound)
		}
		return domain.User{}, fmt.Errorf("repository: GetUser: %w", err)
	}
	u.Name = stringPtr(name)
	u.Email = stringPtr(email)
	u.CreatedAt = timeFromUnix(createdAt)
	return u, nil
}

// DeleteUser removes a user. Owned sessions survive with their owner cleared.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("repository: DeleteUser: %w", err)
	}
	return requireAffected(res, "DeleteUser", strconv.FormatInt(id, 10))
}
