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

// CreateSession inserts a session with a caller-chosen id and the default
// "active" status. There is no upsert: an existing id yields a
// *DuplicateKeyError and the stored row is not modified.
func (s *Store) CreateSession(ctx context.Context, sessionID string, userID *int64) (domain.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.Session{}, errors.New("repository: CreateSession: session id must not be empty")
	}

	createdAt := s.timestamp()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, status, created_at)
		VALUES (?, ?, ?, ?)
	`, sessionID, nullInt64(userID), domain.SessionStatusActive, createdAt)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return domain.Session{}, &DuplicateKeyError{Table: "sessions", Key: sessionID, Err: err}
		case isForeignKeyViolation(err):
			return domain.Session{}, &ForeignKeyError{Table: "sessions", Ref: "users", Key: formatID(userID), Err: err}
		}
		return domain.Session{}, fmt.Errorf("repository: CreateSession: %w", err)
	}

	return domain.Session{
		ID:        sessionID,
		UserID:    userID,
		Status:    domain.SessionStatusActive,
		CreatedAt: timeFromUnix(createdAt),
	}, nil
}

// GetSession returns ErrNotFound for unknown ids.
func (s *Store) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, status, created_at
		FROM sessions
		WHERE id = ?
	`, sessionID)

	var sess domain.Session
	var userID sql.NullInt64
	var createdAt float64
	if err := row.Scan(&sess.ID, &userID, &sess.Status, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Session{}, fmt.Errorf("repository: GetSession %q: %w", sessionID, ErrNotFound)
		}
		return domain.Session{}, fmt.Errorf("repository: GetSession: %w", err)
	}
	sess.UserID = int64Ptr(userID)
	sess.CreatedAt = timeFromUnix(createdAt)
	return sess, nil
}

// UpdateSessionStatus changes the lifecycle status of a session.
func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID, status string) error {
	status = strings.TrimSpace(status)
	if status == "" {
		return errors.New("repository: UpdateSessionStatus: status must not be empty")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET status = ? WHERE id = ?`, status, sessionID)
	if err != nil {
		return fmt.Errorf("repository: UpdateSessionStatus: %w", err)
	}
	return requireAffected(res, "UpdateSessionStatus", sessionID)
}

// DeleteSession removes a session and, through ON DELETE CASCADE, its turns.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("repository: DeleteSession: %w", err)
	}
	return requireAffected(res, "DeleteSession", sessionID)
}

// SessionsForUser lists the sessions owned by a user, oldest first.
func (s *Store) SessionsForUser(ctx context.Context, userID int64) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, status, created_at
		FROM sessions
		WHERE user_id = ?
		ORDER BY created_at ASC, id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("repository: SessionsForUser query: %w", err)
	}
	defer rows.Close()

	sessions := make([]domain.Session, 0)
	for rows.Next() {
		var sess domain.Session
		var uid sql.NullInt64
		var createdAt float64
		if err := rows.Scan(&sess.ID, &uid, &sess.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("repository: SessionsForUser scan: %w", err)
		}
		sess.UserID = int64Ptr(uid)
		sess.CreatedAt = timeFromUnix(createdAt)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func formatID(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}

func requireAffected(res sql.Result, op, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository: %s rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("repository: %s %q: %w", op, key, ErrNotFound)
	}
	return nil
}
