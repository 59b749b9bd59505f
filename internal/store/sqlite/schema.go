package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema is the collaborator schema used by the realtime server.
// The authoritative schema is owned by the REST services; this copy keeps
// standalone runs and tests self-contained.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	username     TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	last_seen    DATETIME,
	created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS contacts (
	user_id    INTEGER NOT NULL,
	contact_id INTEGER NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (user_id, contact_id),
	FOREIGN KEY (user_id) REFERENCES users(id),
	FOREIGN KEY (contact_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS conversation_participants (
	conversation_id TEXT NOT NULL,
	user_id         INTEGER NOT NULL,
	PRIMARY KEY (conversation_id, user_id),
	FOREIGN KEY (conversation_id) REFERENCES conversations(id),
	FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS messages (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	room_id         TEXT NOT NULL,
	sender_id       INTEGER NOT NULL,
	recipient_id    INTEGER,
	conversation_id TEXT,
	content         TEXT NOT NULL,
	message_type    TEXT NOT NULL DEFAULT 'text',
	created_at      DATETIME NOT NULL,
	FOREIGN KEY (sender_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS read_receipts (
	message_id INTEGER NOT NULL,
	user_id    INTEGER NOT NULL,
	read_at    DATETIME NOT NULL,
	PRIMARY KEY (message_id, user_id),
	FOREIGN KEY (message_id) REFERENCES messages(id)
);

CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, id DESC);
CREATE INDEX IF NOT EXISTS idx_participants_user ON conversation_participants(user_id);
`

// Migrate applies Schema to db.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
