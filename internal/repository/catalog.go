package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"voice-tutor/internal/domain"
)

const defaultAuditLimit = 100

// CreateVoice registers a synthesis voice profile under a unique name.
func (s *Store) CreateVoice(ctx context.Context, name string, description *string, ref string) (domain.Voice, error) {
	name = strings.TrimSpace(name)
	ref = strings.TrimSpace(ref)
	if name == "" || ref == "" {
		return domain.Voice{}, errors.New("repository: CreateVoice: name and ref are required")
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO voices (name, description, ref)
		VALUES (?, ?, ?)
	`, name, nullString(description), ref)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Voice{}, &DuplicateKeyError{Table: "voices", Key: name, Err: err}
		}
		return domain.Voice{}, fmt.Errorf("repository: CreateVoice: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Voice{}, fmt.Errorf("repository: CreateVoice last insert id: %w", err)
	}
	return domain.Voice{ID: id, Name: name, Description: description, Ref: ref}, nil
}

// GetVoiceByName returns ErrNotFound for unknown names.
func (s *Store) GetVoiceByName(ctx context.Context, name string) (domain.Voice, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, ref
		FROM voices
		WHERE name = ?
	`, name)

	var v domain.Voice
	var description sql.NullString
	if err := row.Scan(&v.ID, &v.Name, &description, &v.Ref); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Voice{}, fmt.Errorf("repository: GetVoiceByName %q: %w", name, ErrNotFound)
		}
		return domain.Voice{}, fmt.Errorf("repository: GetVoiceByName: %w", err)
	}
	v.Description = stringPtr(description)
	return v, nil
}

// ListVoices returns all voices ordered by name.
func (s *Store) ListVoices(ctx context.Context) ([]domain.Voice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, ref
		FROM voices
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("repository: ListVoices query: %w", err)
	}
	defer rows.Close()

	voices := make([]domain.Voice, 0)
	for rows.Next() {
		var v domain.Voice
		var description sql.NullString
		if err := rows.Scan(&v.ID, &v.Name, &description, &v.Ref); err != nil {
			return nil, fmt.Errorf("repository: ListVoices scan: %w", err)
		}
		v.Description = stringPtr(description)
		voices = append(voices, v)
	}
	return voices, rows.Err()
}

// RecordAudit appends an audit record. details, when non-nil, is stored as
// JSON. Audit rows are never updated or deleted.
func (s *Store) RecordAudit(ctx context.Context, actor *string, action string, details any) (domain.Audit, error) {
	action = strings.TrimSpace(action)
	if action == "" {
		return domain.Audit{}, errors.New("repository: RecordAudit: action must not be empty")
	}

	var detailsJSON *string
	if details != nil {
		encoded, err := sonic.MarshalString(details)
		if err != nil {
			return domain.Audit{}, fmt.Errorf("repository: RecordAudit encode details: %w", err)
		}
		detailsJSON = &encoded
	}

	createdAt := s.timestamp()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO audit (actor, action, details_json, created_at)
		VALUES (?, ?, ?, ?)
	`, nullString(actor), action, nullString(detailsJSON), createdAt)
	if err != nil {
		return domain.Audit{}, fmt.Errorf("repository: RecordAudit: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Audit{}, fmt.Errorf("repository: RecordAudit last insert id: %w", err)
	}
	return domain.Audit{
		ID:          id,
		Actor:       actor,
		Action:      action,
		DetailsJSON: detailsJSON,
		CreatedAt:   timeFromUnix(createdAt),
	}, nil
}

// ListAudit returns the newest audit records first.
func (s *Store) ListAudit(ctx context.Context, limit int) ([]domain.Audit, error) {
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor, action, details_json, created_at
		FROM audit
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: ListAudit query: %w", err)
	}
	defer rows.Close()

	records := make([]domain.Audit, 0)
	for rows.Next() {
		var a domain.Audit
		var actor, details sql.NullString
		var createdAt float64
		if err := rows.Scan(&a.ID, &actor, &a.Action, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("repository: ListAudit scan: %w", err)
		}
		a.Actor = stringPtr(actor)
		a.DetailsJSON = stringPtr(details)
		a.CreatedAt = timeFromUnix(createdAt)
		records = append(records, a)
	}
	return records, rows.Err()
}
