package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"voice-tutor/internal/domain"
)

// AppendTurn inserts one turn. A missing session yields a *ForeignKeyError.
// Role is stored as given; keeping it to user/assistant is the caller's job.
func (s *Store) AppendTurn(ctx context.Context, turn domain.NewTurn) (domain.Turn, error) {
	out, err := s.AppendTurns(ctx, []domain.NewTurn{turn})
	if err != nil {
		return domain.Turn{}, err
	}
	return out[0], nil
}

// AppendTurns inserts all turns in one transaction. Either every turn is
// committed or none is. created_at never moves backwards within a session,
// so a clock step cannot reorder the conversation.
func (s *Store) AppendTurns(ctx context.Context, turns []domain.NewTurn) ([]domain.Turn, error) {
	if len(turns) == 0 {
		return nil, errors.New("repository: AppendTurns: no turns to append")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("repository: AppendTurns begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	createdAt := s.timestamp()
	out := make([]domain.Turn, 0, len(turns))
	floors := make(map[string]float64, 1)
	for _, t := range turns {
		ts, ok := floors[t.SessionID]
		if !ok {
			ts, err = latestTurnAt(ctx, tx, t.SessionID)
			if err != nil {
				return nil, err
			}
			ts = max(ts, createdAt)
			floors[t.SessionID] = ts
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO turns (session_id, role, text, audio_url, stt_ms, llm_ms, tts_ms, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, t.SessionID, t.Role, t.Text, nullString(t.AudioURL),
			nullInt64(t.STTMs), nullInt64(t.LLMMs), nullInt64(t.TTSMs), ts)
		if err != nil {
			if isForeignKeyViolation(err) {
				return nil, &ForeignKeyError{Table: "turns", Ref: "sessions", Key: t.SessionID, Err: err}
			}
			return nil, fmt.Errorf("repository: AppendTurns insert: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("repository: AppendTurns last insert id: %w", err)
		}
		out = append(out, domain.Turn{
			ID:        id,
			SessionID: t.SessionID,
			Role:      t.Role,
			Text:      t.Text,
			AudioURL:  t.AudioURL,
			STTMs:     t.STTMs,
			LLMMs:     t.LLMMs,
			TTSMs:     t.TTSMs,
			CreatedAt: timeFromUnix(ts),
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("repository: AppendTurns commit: %w", err)
	}
	return out, nil
}

// latestTurnAt returns the newest created_at of a session, or 0 when it has
// no turns.
func latestTurnAt(ctx context.Context, tx *sql.Tx, sessionID string) (float64, error) {
	var ts float64
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(created_at), 0) FROM turns WHERE session_id = ?`, sessionID,
	).Scan(&ts)
	if err != nil {
		return 0, fmt.Errorf("repository: AppendTurns latest turn: %w", err)
	}
	return ts, nil
}

// ListTurns returns the turns of a session in conversational order: ascending
// created_at, ties broken by id. An unknown session yields an empty slice and
// no error.
func (s *Store) ListTurns(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, text, audio_url, stt_ms, llm_ms, tts_ms, created_at
		FROM turns
		WHERE session_id = ?
		ORDER BY created_at ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("repository: ListTurns query: %w", err)
	}
	defer rows.Close()

	turns := make([]domain.Turn, 0)
	for rows.Next() {
		var t domain.Turn
		var audioURL sql.NullString
		var sttMs, llmMs, ttsMs sql.NullInt64
		var createdAt float64
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Role, &t.Text, &audioURL,
			&sttMs, &llmMs, &ttsMs, &createdAt); err != nil {
			return nil, fmt.Errorf("repository: ListTurns scan: %w", err)
		}
		t.AudioURL = stringPtr(audioURL)
		t.STTMs = int64Ptr(sttMs)
		t.LLMMs = int64Ptr(llmMs)
		t.TTSMs = int64Ptr(ttsMs)
		t.CreatedAt = timeFromUnix(createdAt)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: ListTurns rows: %w", err)
	}
	return turns, nil
}
