package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/wirechat-realtime/internal/store"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		return Migrate(context.Background(), db)
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema and fixtures.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with single connection; also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func notFound(what string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return fmt.Errorf("query %s: %w", what, err)
}

// ==== UserStore implementation ====

// CreateUser creates a new user.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, displayName string) (*store.User, error) {
	query := `
		INSERT INTO users (username, display_name)
		VALUES (?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, username, displayName)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	query := `
		SELECT id, username, display_name, last_seen, created_at
		FROM users
		WHERE id = ?
	`
	user, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound("user", err)
	}
	return user, nil
}

// TouchLastSeen stores the time the user was last online.
func (s *SQLiteStore) TouchLastSeen(ctx context.Context, id int64, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET last_seen = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("update last seen: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("user %d: %w", id, store.ErrNotFound)
	}
	return nil
}

// AddContact links two users as contacts in both directions.
func (s *SQLiteStore) AddContact(ctx context.Context, userID, contactID int64) error {
	if userID == contactID {
		return fmt.Errorf("user %d cannot be its own contact", userID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	query := `INSERT OR IGNORE INTO contacts (user_id, contact_id) VALUES (?, ?)`
	if _, err := tx.ExecContext(ctx, query, userID, contactID); err != nil {
		return fmt.Errorf("insert contact: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, contactID, userID); err != nil {
		return fmt.Errorf("insert reverse contact: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// AreContacts reports whether two users are contacts.
func (s *SQLiteStore) AreContacts(ctx context.Context, userID, contactID int64) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM contacts
			WHERE (user_id = ? AND contact_id = ?) OR (user_id = ? AND contact_id = ?)
		)
	`
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, userID, contactID, contactID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("query contact: %w", err)
	}
	return exists, nil
}

// ListContacts lists the contacts of a user ordered by username.
func (s *SQLiteStore) ListContacts(ctx context.Context, userID int64) ([]*store.User, error) {
	query := `
		SELECT u.id, u.username, u.display_name, u.last_seen, u.created_at
		FROM contacts c
		JOIN users u ON u.id = c.contact_id
		WHERE c.user_id = ?
		ORDER BY u.username
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close()

	var users []*store.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		users = append(users, user)
	}

	return users, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*store.User, error) {
	var user store.User
	var lastSeen sql.NullTime
	if err := row.Scan(&user.ID, &user.Username, &user.DisplayName, &lastSeen, &user.CreatedAt); err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		user.LastSeen = &lastSeen.Time
	}
	return &user, nil
}

// ==== ConversationStore implementation ====

// CreateConversation creates a conversation with the given participants.
func (s *SQLiteStore) CreateConversation(ctx context.Context, name string, participants []int64) (*store.Conversation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	id := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `INSERT INTO conversations (id, name) VALUES (?, ?)`, id, name); err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	for _, userID := range participants {
		query := `INSERT OR IGNORE INTO conversation_participants (conversation_id, user_id) VALUES (?, ?)`
		if _, err := tx.ExecContext(ctx, query, id, userID); err != nil {
			return nil, fmt.Errorf("add participant %d: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return s.GetConversation(ctx, id)
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	var conv store.Conversation
	err := s.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM conversations WHERE id = ?`, id).Scan(
		&conv.ID,
		&conv.Name,
		&conv.CreatedAt,
	)
	if err != nil {
		return nil, notFound("conversation", err)
	}
	return &conv, nil
}

// IsParticipant checks if user takes part in the conversation.
func (s *SQLiteStore) IsParticipant(ctx context.Context, conversationID string, userID int64) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = ? AND user_id = ?
		)
	`
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, conversationID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("query participant: %w", err)
	}
	return exists, nil
}

// ==== MessageStore implementation ====

// SaveMessage persists a message and fills in its ID and CreatedAt.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.Type == "" {
		msg.Type = "text"
	}
	msg.CreatedAt = msg.CreatedAt.UTC()

	query := `
		INSERT INTO messages (room_id, sender_id, recipient_id, conversation_id, content, message_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		msg.RoomID,
		msg.SenderID,
		msg.RecipientID,
		msg.ConversationID,
		msg.Content,
		msg.Type,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	msg.ID = id

	return nil
}

const messageColumns = `id, room_id, sender_id, recipient_id, conversation_id, content, message_type, created_at`

func scanMessage(row rowScanner) (*store.Message, error) {
	var msg store.Message
	var recipientID sql.NullInt64
	var conversationID sql.NullString
	err := row.Scan(
		&msg.ID,
		&msg.RoomID,
		&msg.SenderID,
		&recipientID,
		&conversationID,
		&msg.Content,
		&msg.Type,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if recipientID.Valid {
		msg.RecipientID = &recipientID.Int64
	}
	if conversationID.Valid {
		msg.ConversationID = &conversationID.String
	}
	return &msg, nil
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*store.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = ?`
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound("message", err)
	}
	return msg, nil
}

// ListMessages retrieves messages from a room, newest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, roomID string, limit int, beforeID *int64) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows *sql.Rows
	var err error
	if beforeID != nil {
		query := `SELECT ` + messageColumns + ` FROM messages WHERE room_id = ? AND id < ? ORDER BY id DESC LIMIT ?`
		rows, err = s.db.QueryContext(ctx, query, roomID, *beforeID, limit)
	} else {
		query := `SELECT ` + messageColumns + ` FROM messages WHERE room_id = ? ORDER BY id DESC LIMIT ?`
		rows, err = s.db.QueryContext(ctx, query, roomID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*store.Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// MarkRead stores a read receipt. Marking twice keeps the first receipt.
func (s *SQLiteStore) MarkRead(ctx context.Context, messageID, userID int64, at time.Time) (*store.ReadReceipt, error) {
	if _, err := s.GetMessage(ctx, messageID); err != nil {
		return nil, err
	}

	query := `INSERT OR IGNORE INTO read_receipts (message_id, user_id, read_at) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, messageID, userID, at.UTC()); err != nil {
		return nil, fmt.Errorf("insert read receipt: %w", err)
	}

	receipt := store.ReadReceipt{MessageID: messageID, UserID: userID}
	err := s.db.QueryRowContext(ctx,
		`SELECT read_at FROM read_receipts WHERE message_id = ? AND user_id = ?`,
		messageID, userID,
	).Scan(&receipt.ReadAt)
	if err != nil {
		return nil, notFound("read receipt", err)
	}

	return &receipt, nil
}
