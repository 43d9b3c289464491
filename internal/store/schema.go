package store

import (
	"database/sql"
	"fmt"
)

// schema is applied in order on startup. Statements are idempotent so a
// restart against an existing database is a no-op.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		username   TEXT PRIMARY KEY,
		role       TEXT NOT NULL DEFAULT 'user',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS teams (
		id   TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS team_members (
		team_id  TEXT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
		username TEXT NOT NULL REFERENCES users(username) ON DELETE CASCADE,
		PRIMARY KEY (team_id, username)
	)`,
	`CREATE TABLE IF NOT EXISTS channels (
		id      TEXT PRIMARY KEY,
		team_id TEXT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
		name    TEXT NOT NULL,
		UNIQUE (team_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS channel_members (
		channel_id TEXT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
		username   TEXT NOT NULL REFERENCES users(username) ON DELETE CASCADE,
		PRIMARY KEY (channel_id, username)
	)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id      TEXT PRIMARY KEY,
		team_id TEXT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
		user_a  TEXT NOT NULL,
		user_b  TEXT NOT NULL,
		UNIQUE (team_id, user_a, user_b)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		channel_id      TEXT REFERENCES channels(id) ON DELETE CASCADE,
		conversation_id TEXT REFERENCES conversations(id) ON DELETE CASCADE,
		from_user       TEXT NOT NULL,
		content         TEXT NOT NULL,
		file_name       TEXT,
		status          TEXT NOT NULL DEFAULT 'sent',
		created_at      TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_status ON messages(status)`,
}

func applySchema(db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
