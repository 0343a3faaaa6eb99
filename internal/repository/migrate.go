package repository

import (
	"context"
	"fmt"
)

type migration struct {
	table string
	up    string
	down  string
}

// migrations are listed in foreign-key dependency order. Teardown walks them
// backwards.
var migrations = []migration{
	{
		table: "users",
		up: `
			CREATE TABLE IF NOT EXISTS users (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT,
				email TEXT,
				role TEXT NOT NULL DEFAULT 'user',
				created_at REAL NOT NULL
			);
			CREATE UNIQUE INDEX IF NOT EXISTS ix_users_email ON users(email);
		`,
		down: `
			DROP INDEX IF EXISTS ix_users_email;
			DROP TABLE IF EXISTS users;
		`,
	},
	{
		table: "sessions",
		up: `
			CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				user_id INTEGER REFERENCES users(id) ON DELETE SET NULL,
				status TEXT NOT NULL DEFAULT 'active',
				created_at REAL NOT NULL
			);
			CREATE INDEX IF NOT EXISTS ix_sessions_user_id ON sessions(user_id);
		`,
		down: `
			DROP INDEX IF EXISTS ix_sessions_user_id;
			DROP TABLE IF EXISTS sessions;
		`,
	},
	{
		table: "turns",
		up: `
			CREATE TABLE IF NOT EXISTS turns (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				role TEXT NOT NULL,
				text TEXT NOT NULL,
				audio_url TEXT,
				stt_ms INTEGER,
				llm_ms INTEGER,
				tts_ms INTEGER,
				created_at REAL NOT NULL
			);
			CREATE INDEX IF NOT EXISTS ix_turns_session_order ON turns(session_id, created_at, id);
		`,
		down: `
			DROP INDEX IF EXISTS ix_turns_session_order;
			DROP TABLE IF EXISTS turns;
		`,
	},
	{
		table: "voices",
		up: `
			CREATE TABLE IF NOT EXISTS voices (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL UNIQUE,
				description TEXT,
				ref TEXT NOT NULL
			);
		`,
		down: `DROP TABLE IF EXISTS voices;`,
	},
	{
		table: "audit",
		up: `
			CREATE TABLE IF NOT EXISTS audit (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				actor TEXT,
				action TEXT NOT NULL,
				details_json TEXT,
				created_at REAL NOT NULL
			);
		`,
		down: `DROP TABLE IF EXISTS audit;`,
	},
}

// MigrationOrder returns the table names in the order MigrateUp creates them.
func MigrationOrder() []string {
	out := make([]string, 0, len(migrations))
	for _, m := range migrations {
		out = append(out, m.table)
	}
	return out
}

// MigrateUp creates every table that does not exist yet. It is safe to run
// repeatedly.
func (s *Store) MigrateUp(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repository: MigrateUp begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range migrations {
		if _, err := tx.ExecContext(ctx, m.up); err != nil {
			return fmt.Errorf("repository: MigrateUp %s: %w", m.table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("repository: MigrateUp commit: %w", err)
	}
	return nil
}

// MigrateDown drops every table in reverse dependency order.
func (s *Store) MigrateDown(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repository: MigrateDown begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := len(migrations) - 1; i >= 0; i-- {
		m := migrations[i]
		if _, err := tx.ExecContext(ctx, m.down); err != nil {
			return fmt.Errorf("repository: MigrateDown %s: %w", m.table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("repository: MigrateDown commit: %w", err)
	}
	return nil
}
